// Package report renders wagon inventories as a text log, CSV, JSON, YAML or
// PDF. A Document is built either from a live pipeline report or from a run
// loaded back out of the store.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/MeKo-Tech/rakescan/internal/wagonid"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
	FormatPDF  = "pdf"
)

// ConditionNotAssessed is the condition column value; defect assessment is
// not performed.
const ConditionNotAssessed = "Not assessed"

// Formats lists the textual formats Render accepts.
var Formats = []string{FormatText, FormatJSON, FormatCSV, FormatYAML}

// Row is one wagon of the inventory.
type Row struct {
	Index      int     `json:"wagon_index" yaml:"wagon_index"`
	TrackID    int     `json:"track_id" yaml:"track_id"`
	Identifier string  `json:"identifier" yaml:"identifier"`
	RawText    *string `json:"raw_text" yaml:"raw_text"`
	Type       string  `json:"type,omitempty" yaml:"type,omitempty"`
	Authority  string  `json:"authority,omitempty" yaml:"authority,omitempty"`
	Year       string  `json:"year,omitempty" yaml:"year,omitempty"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Status     string  `json:"status" yaml:"status"`
	Condition  string  `json:"condition" yaml:"condition"`
	IsNight    bool    `json:"is_night" yaml:"is_night"`
	Timestamp  string  `json:"timestamp" yaml:"timestamp"`
}

// Summary describes the run a document belongs to.
type Summary struct {
	InspectionID int64     `json:"inspection_id,omitempty" yaml:"inspection_id,omitempty"`
	RunID        string    `json:"run_id" yaml:"run_id"`
	Video        string    `json:"video" yaml:"video"`
	Date         time.Time `json:"date" yaml:"date"`
	TotalWagons  int       `json:"total_wagons" yaml:"total_wagons"`
	Frames       int       `json:"frames,omitempty" yaml:"frames,omitempty"`
	WithText     int       `json:"successful_ocr" yaml:"successful_ocr"`
	NightWagons  int       `json:"night_wagons" yaml:"night_wagons"`
}

// Document is a renderable inventory.
type Document struct {
	Summary Summary `json:"summary" yaml:"summary"`
	Wagons  []Row   `json:"wagons" yaml:"wagons"`
}

const timeLayout = "2006-01-02 15:04:05"

// FromReport converts a pipeline report.
func FromReport(rep *pipeline.InspectionReport) *Document {
	doc := &Document{Summary: Summary{
		RunID:       rep.RunID,
		Video:       rep.VideoName,
		Date:        rep.FinishedAt,
		TotalWagons: rep.TotalWagons(),
		Frames:      rep.FrameCount,
	}}
	for _, e := range rep.Entries {
		row := Row{
			Index:      e.Index,
			TrackID:    e.TrackID,
			Identifier: e.Identifier,
			Status:     string(e.Status),
			Condition:  ConditionNotAssessed,
			Timestamp:  rep.FinishedAt.Format(timeLayout),
		}
		if rec := e.Record; rec != nil {
			row.RawText = rec.RawText
			row.Confidence = rec.Confidence
			row.IsNight = rec.IsNight
			row.Timestamp = rec.RequestedAt.Format(timeLayout)
			if rec.ResolvedAt != nil {
				row.Timestamp = rec.ResolvedAt.Format(timeLayout)
			}
			fillDecoded(&row, rec.Decoded)
		}
		doc.add(row)
	}
	return doc
}

// FromStore converts a stored run.
func FromStore(in store.Inspection, wagons []store.Wagon) *Document {
	doc := &Document{Summary: Summary{
		InspectionID: in.ID,
		RunID:        in.RunID,
		Video:        in.VideoName,
		Date:         in.Timestamp,
		TotalWagons:  in.TotalWagons,
		Frames:       in.Frames,
	}}
	for _, w := range wagons {
		row := Row{
			Index:      w.Index,
			TrackID:    w.TrackID,
			Identifier: w.Identifier,
			RawText:    w.OCRText,
			Type:       w.WagonType,
			Authority:  w.Authority,
			Confidence: w.OCRConfidence,
			Status:     w.Status,
			Condition:  ConditionNotAssessed,
			IsNight:    w.IsNight,
			Timestamp:  w.Timestamp.Format(timeLayout),
		}
		if w.OCRText != nil {
			fillDecoded(&row, wagonid.Decode(*w.OCRText))
		}
		doc.add(row)
	}
	return doc
}

func fillDecoded(row *Row, id *wagonid.Identifier) {
	if id == nil {
		return
	}
	row.Type = id.Type
	row.Authority = id.Authority
	row.Year = id.Year
}

func (d *Document) add(row Row) {
	if row.RawText != nil {
		d.Summary.WithText++
	}
	if row.IsNight {
		d.Summary.NightWagons++
	}
	d.Wagons = append(d.Wagons, row)
}

// Render formats the document as text, json, csv or yaml.
func Render(doc *Document, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return ToText(doc), nil
	case FormatJSON:
		return ToJSON(doc)
	case FormatCSV:
		return ToCSV(doc)
	case FormatYAML:
		return ToYAML(doc)
	default:
		return "", fmt.Errorf("unsupported output format %q (use %s)", format, strings.Join(Formats, ", "))
	}
}
