package batch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inspection(video string, trackIDs ...int) *Inspection {
	rep := &pipeline.InspectionReport{
		RunID:     video + "-run",
		VideoName: video,
		Records:   map[int]*pipeline.WagonRecord{},
		StartedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.Local),
	}
	for i, id := range trackIDs {
		rep.UniqueTrackIDs = append(rep.UniqueTrackIDs, id)
		rep.Entries = append(rep.Entries, pipeline.Entry{
			Index: i + 1, TrackID: id, Identifier: pipeline.Placeholder(id), Status: pipeline.StatusNotDispatched,
		})
	}
	return &Inspection{Video: video, RunID: rep.RunID, Report: rep}
}

func TestFormatSingleMatchesReport(t *testing.T) {
	in := inspection("a.mp4", 1, 2)
	got, err := formatBatchResults([]*Inspection{in}, "text")
	require.NoError(t, err)

	want, err := report.Render(report.FromReport(in.Report), "text")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFormatMultiple(t *testing.T) {
	ins := []*Inspection{inspection("a.mp4", 1), inspection("b.mp4", 4, 5)}

	text, err := formatBatchResults(ins, "text")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(text, "Detection Log"))
	assert.Contains(t, text, "Video: b.mp4")

	js, err := formatBatchResults(ins, "json")
	require.NoError(t, err)
	var parsed struct {
		Inspections []report.Document `json:"inspections"`
	}
	require.NoError(t, json.Unmarshal([]byte(js), &parsed))
	require.Len(t, parsed.Inspections, 2)
	assert.Len(t, parsed.Inspections[1].Wagons, 2)

	csv, err := formatBatchResults(ins, "csv")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(csv, "wagon_index"))
	assert.Equal(t, 4, strings.Count(csv, "\n"))

	yml, err := formatBatchResults(ins, "yaml")
	require.NoError(t, err)
	assert.Contains(t, yml, "inspections:")

	_, err = formatBatchResults(ins, "xml")
	require.Error(t, err)
}

func TestFormatSkipsMissingReports(t *testing.T) {
	ins := []*Inspection{nil, {Video: "broken.mp4"}, inspection("a.mp4", 7)}
	out, err := formatBatchResults(ins, "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Track-7")
}
