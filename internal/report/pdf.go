package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// A4 portrait in points, origin lower left.
const (
	pageHeight   = 842.0
	marginLeft   = 50.0
	marginTop    = 60.0
	marginBottom = 60.0
	lineHeight   = 16.0
	rowsPerPage  = 40
)

// tableColumns are the x offsets and titles of the wagon table.
var tableColumns = []struct {
	x     float64
	title string
}{
	{marginLeft, "Index"},
	{marginLeft + 45, "Identifier"},
	{marginLeft + 175, "Type"},
	{marginLeft + 240, "Rly"},
	{marginLeft + 290, "Confidence"},
	{marginLeft + 365, "Condition"},
	{marginLeft + 440, "Time"},
}

// The pdfcpu create layout. Only the parts used here are modelled.
type pdfLayout struct {
	Paper  string             `json:"paper"`
	Origin string             `json:"origin"`
	Fonts  map[string]pdfFont `json:"fonts"`
	Pages  map[string]pdfPage `json:"pages"`
}

type pdfFont struct {
	Name string `json:"name"`
	Size int    `json:"size,omitempty"`
}

type pdfPage struct {
	Content pdfContent `json:"content"`
}

type pdfContent struct {
	Text []pdfText `json:"text"`
}

type pdfText struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  pdfFont    `json:"font"`
}

var (
	fontTitle  = pdfFont{Name: "$title"}
	fontHeader = pdfFont{Name: "$header"}
	fontBody   = pdfFont{Name: "$body"}
	fontSmall  = pdfFont{Name: "$small"}
)

// pageWriter places lines top-down and starts a new page when full.
type pageWriter struct {
	layout *pdfLayout
	page   int
	y      float64
}

func (p *pageWriter) newPage() {
	p.page++
	p.y = pageHeight - marginTop
	p.layout.Pages[strconv.Itoa(p.page)] = pdfPage{}
}

func (p *pageWriter) text(x float64, value string, font pdfFont) {
	p.layout.place(p.page, x, p.y, value, font)
}

func (l *pdfLayout) place(page int, x, y float64, value string, font pdfFont) {
	key := strconv.Itoa(page)
	pg := l.Pages[key]
	pg.Content.Text = append(pg.Content.Text, pdfText{Value: value, Pos: [2]float64{x, y}, Font: font})
	l.Pages[key] = pg
}

func (p *pageWriter) line(value string, font pdfFont, advance float64) {
	p.text(marginLeft, value, font)
	p.y -= advance
}

func (p *pageWriter) tableHeader() {
	for _, c := range tableColumns {
		p.text(c.x, c.title, fontHeader)
	}
	p.y -= lineHeight
}

// buildLayout lays out the summary block followed by the wagon table.
func buildLayout(doc *Document) *pdfLayout {
	layout := &pdfLayout{
		Paper:  "A4P",
		Origin: "LowerLeft",
		Fonts: map[string]pdfFont{
			"title":  {Name: "Helvetica-Bold", Size: 16},
			"header": {Name: "Helvetica-Bold", Size: 10},
			"body":   {Name: "Helvetica", Size: 10},
			"small":  {Name: "Helvetica-Oblique", Size: 8},
		},
		Pages: map[string]pdfPage{},
	}
	pw := &pageWriter{layout: layout}
	pw.newPage()

	s := doc.Summary
	pw.line("Inspection Report", fontTitle, 2*lineHeight)
	if s.InspectionID > 0 {
		pw.line(fmt.Sprintf("Inspection ID: #%d", s.InspectionID), fontHeader, lineHeight)
	}
	pw.line("Run: "+s.RunID, fontBody, lineHeight)
	pw.line("Video: "+s.Video, fontBody, lineHeight)
	pw.line("Date: "+s.Date.Format(timeLayout), fontBody, lineHeight)
	pw.line(fmt.Sprintf("Total Wagons: %d", s.TotalWagons), fontBody, 2*lineHeight)

	pw.line("Summary Statistics", fontHeader, lineHeight)
	pw.line(fmt.Sprintf("Successful OCR: %d", s.WithText), fontBody, lineHeight)
	pw.line(fmt.Sprintf("Night Conditions: %d", s.NightWagons), fontBody, 2*lineHeight)

	pw.tableHeader()
	onPage := 0
	for _, r := range doc.Wagons {
		if onPage == rowsPerPage || pw.y < marginBottom {
			pw.newPage()
			pw.tableHeader()
			onPage = 0
		}
		conf := "-"
		if r.RawText != nil {
			conf = fmt.Sprintf("%.1f%%", r.Confidence*100)
		}
		ts := r.Timestamp
		if len(ts) > 11 {
			ts = ts[11:]
		}
		cells := []string{strconv.Itoa(r.Index), r.Identifier, r.Type, r.Authority, conf, r.Condition, ts}
		for i, c := range tableColumns {
			pw.text(c.x, orDash(cells[i]), fontBody)
		}
		pw.y -= lineHeight
		onPage++
	}

	for i := 1; i <= pw.page; i++ {
		layout.place(i, marginLeft, marginBottom/2, fmt.Sprintf("Page %d/%d", i, pw.page), fontSmall)
	}
	return layout
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// WritePDF renders the document as a PDF into w.
func WritePDF(w io.Writer, doc *Document) error {
	layout, err := json.Marshal(buildLayout(doc))
	if err != nil {
		return fmt.Errorf("marshal pdf layout: %w", err)
	}
	conf := model.NewDefaultConfiguration()
	if err := api.Create(nil, bytes.NewReader(layout), w, conf); err != nil {
		return fmt.Errorf("create pdf: %w", err)
	}
	return nil
}

// ToPDF renders the document as PDF bytes.
func ToPDF(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePDF(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
