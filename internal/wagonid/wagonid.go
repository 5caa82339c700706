// Package wagonid decodes recognized wagon number text into the fixed-width
// 11 digit identifier used by Indian Railways freight stock.
//
// Layout (1-based positions):
//
//	1-2   wagon type code
//	3-4   owning railway code
//	5-6   year of manufacture (two digits, assumed 20YY)
//	7-10  serial number
//	11    check digit
package wagonid

import (
	"strings"
)

// DigitCount is the number of digits in a complete wagon number.
const DigitCount = 11

// century is prepended to the two-digit manufacture year. Wagons built
// before 2000 decode to the wrong century.
const century = "20"

// Identifier is a decoded wagon number.
type Identifier struct {
	Digits          string `json:"original_digits" yaml:"original_digits"`
	TypeCode        string `json:"type_code" yaml:"type_code"`
	Type            string `json:"type" yaml:"type"`
	AuthorityCode   string `json:"authority_code" yaml:"authority_code"`
	Authority       string `json:"authority" yaml:"authority"`
	Year            string `json:"manufacture_year" yaml:"manufacture_year"`
	Serial          string `json:"serial" yaml:"serial"`
	CheckDigit      string `json:"check_digit" yaml:"check_digit"`
	CheckDigitValid bool   `json:"check_digit_valid" yaml:"check_digit_valid"`
}

// StripNonDigits removes every character that is not an ASCII digit.
func StripNonDigits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Decode parses raw recognized text. It returns nil unless the text reduces
// to exactly DigitCount digits.
func Decode(raw string) *Identifier {
	digits := StripNonDigits(raw)
	if len(digits) != DigitCount {
		return nil
	}

	id := &Identifier{
		Digits:        digits,
		TypeCode:      digits[0:2],
		AuthorityCode: digits[2:4],
		Year:          century + digits[4:6],
		Serial:        digits[6:10],
		CheckDigit:    digits[10:11],
	}
	id.Type = TypeName(id.TypeCode)
	id.Authority = AuthorityName(id.AuthorityCode)
	id.CheckDigitValid = ValidateChecksum(id)
	return id
}

// ValidateChecksum reports whether the check digit matches the other ten
// digits. No check digit algorithm is known for this numbering scheme, so
// every identifier is accepted.
func ValidateChecksum(id *Identifier) bool {
	return id != nil
}

// Formatted renders the identifier in its painted form, e.g. "30 01 45 6789 1".
func (id *Identifier) Formatted() string {
	if id == nil {
		return ""
	}
	d := id.Digits
	return d[0:2] + " " + d[2:4] + " " + d[4:6] + " " + d[6:10] + " " + d[10:11]
}

// String implements fmt.Stringer.
func (id *Identifier) String() string {
	return id.Formatted()
}
