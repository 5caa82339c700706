package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// DigitTokens is the charset used when no dictionary file is configured.
const DigitTokens = "0123456789"

// Charset maps recognizer class indices to tokens. Index 0 of the model
// output is the CTC blank, so token i belongs to class i+1.
type Charset struct {
	Tokens []string
	index  map[string]int
}

// NewCharset builds a charset from tokens, keeping the first of any duplicates.
func NewCharset(tokens []string) *Charset {
	c := &Charset{Tokens: tokens, index: make(map[string]int, len(tokens))}
	for i, t := range tokens {
		if _, ok := c.index[t]; !ok {
			c.index[t] = i
		}
	}
	return c
}

// DigitCharset returns a charset of the ten ASCII digits plus space.
func DigitCharset() *Charset {
	tokens := make([]string, 0, len(DigitTokens)+1)
	for _, r := range DigitTokens {
		tokens = append(tokens, string(r))
	}
	return NewCharset(append(tokens, " "))
}

// LoadCharset loads a dictionary file where each non-empty line is a token.
// A UTF-8 BOM on the first line is removed. A line holding a single space is
// kept as the space token.
func LoadCharset(path string) (*Charset, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: dictionary path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Error closing dictionary file", "path", path, "error", err)
		}
	}()

	scanner := bufio.NewScanner(f)
	tokens := make([]string, 0, 64)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		line = strings.TrimRight(line, "\r\n")
		if line != " " {
			line = strings.TrimSpace(line)
		}
		if line == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading dictionary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("dictionary is empty: %s", path)
	}
	return NewCharset(tokens), nil
}

// Size returns the number of tokens, excluding the blank.
func (c *Charset) Size() int { return len(c.Tokens) }

// Classes returns the number of model output classes, including the blank.
func (c *Charset) Classes() int { return len(c.Tokens) + 1 }

// LookupIndex returns the index of a token, or -1 if not present.
func (c *Charset) LookupIndex(token string) int {
	if c == nil {
		return -1
	}
	if idx, ok := c.index[token]; ok {
		return idx
	}
	return -1
}

// LookupClass returns the token for a model class (blank is class 0), or
// the empty string when the class is the blank or out of range.
func (c *Charset) LookupClass(class int) string {
	if c == nil || class <= 0 || class > len(c.Tokens) {
		return ""
	}
	return c.Tokens[class-1]
}
