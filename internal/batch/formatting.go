package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/rakescan/internal/report"
	"gopkg.in/yaml.v3"
)

// documents converts the finished inspections to report documents.
func documents(inspections []*Inspection) []*report.Document {
	docs := make([]*report.Document, 0, len(inspections))
	for _, in := range inspections {
		if in == nil || in.Report == nil {
			continue
		}
		doc := report.FromReport(in.Report)
		doc.Summary.InspectionID = in.InspectionID
		docs = append(docs, doc)
	}
	return docs
}

// formatBatchResults renders the inspections. A single inspection renders
// exactly like a standalone report.
func formatBatchResults(inspections []*Inspection, format string) (string, error) {
	docs := documents(inspections)
	if len(docs) == 1 {
		return report.Render(docs[0], format)
	}

	switch strings.ToLower(format) {
	case report.FormatJSON:
		return formatJSON(docs)
	case report.FormatYAML:
		return formatYAML(docs)
	case report.FormatCSV:
		return formatCSV(docs)
	case "", report.FormatText:
		return formatText(docs), nil
	default:
		return report.Render(&report.Document{}, format)
	}
}

// formatJSON formats results as a JSON array of documents.
func formatJSON(docs []*report.Document) (string, error) {
	bts, err := json.MarshalIndent(struct {
		Inspections []*report.Document `json:"inspections"`
	}{docs}, "", "  ")
	return string(bts), err
}

func formatYAML(docs []*report.Document) (string, error) {
	bts, err := yaml.Marshal(map[string][]*report.Document{"inspections": docs})
	if err != nil {
		return "", fmt.Errorf("marshal yaml: %w", err)
	}
	return string(bts), nil
}

// formatCSV concatenates the per-video tables under one header.
func formatCSV(docs []*report.Document) (string, error) {
	var output strings.Builder
	for i, doc := range docs {
		table, err := report.ToCSV(doc)
		if err != nil {
			return "", err
		}
		if i > 0 {
			if _, rest, ok := strings.Cut(table, "\n"); ok {
				table = rest
			}
		}
		output.WriteString(table)
	}
	return output.String(), nil
}

// formatText separates the per-video logs with a blank line.
func formatText(docs []*report.Document) string {
	var output strings.Builder
	for i, doc := range docs {
		if i > 0 {
			output.WriteString("\n")
		}
		output.WriteString(report.ToText(doc))
	}
	return output.String()
}
