package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const rule = "--------------------------------------------------"

// ToText renders the detection log: one line per wagon, a detail line for
// decoded numbers and the wagon count at the end.
func ToText(doc *Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Detection Log - %s\n", doc.Summary.Date.Format(timeLayout))
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Video: %s\n", doc.Summary.Video)
	b.WriteString(rule + "\n")
	b.WriteString("Wagon ID | Raw Text | Parsed Data\n")
	b.WriteString(rule + "\n")

	for _, r := range doc.Wagons {
		raw := "N/A"
		if r.RawText != nil {
			raw = *r.RawText
		}
		parsed := "N/A"
		if r.Year != "" {
			parsed = r.Identifier
		}
		fmt.Fprintf(&b, "%-9d | %-20s | %s\n", r.TrackID, raw, parsed)
		if r.Year != "" {
			fmt.Fprintf(&b, "          | Type: %s | Rly: %s | Yr: %s\n", r.Type, r.Authority, r.Year)
		}
	}

	b.WriteString("\n" + rule + "\n")
	fmt.Fprintf(&b, "Total Wagons Counted: %d\n", doc.Summary.TotalWagons)
	b.WriteString(rule + "\n")
	return b.String()
}

// ToJSON renders the document as indented JSON.
func ToJSON(doc *Document) (string, error) {
	bts, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(bts) + "\n", nil
}

// ToYAML renders the document as YAML.
func ToYAML(doc *Document) (string, error) {
	bts, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal yaml: %w", err)
	}
	return string(bts), nil
}

// csvHeader are the columns of the tabular export.
var csvHeader = []string{"wagon_index", "identifier", "type", "authority", "condition", "timestamp",
	"track_id", "raw_text", "confidence", "status", "is_night"}

// ToCSV renders one row per wagon.
func ToCSV(doc *Document) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.Write(csvHeader); err != nil {
		return "", err
	}
	for _, r := range doc.Wagons {
		raw := ""
		if r.RawText != nil {
			raw = *r.RawText
		}
		if err := writer.Write([]string{
			strconv.Itoa(r.Index),
			r.Identifier,
			r.Type,
			r.Authority,
			r.Condition,
			r.Timestamp,
			strconv.Itoa(r.TrackID),
			raw,
			fmt.Sprintf("%.3f", r.Confidence),
			r.Status,
			strconv.FormatBool(r.IsNight),
		}); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}
