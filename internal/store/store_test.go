package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/wagonid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(t *testing.T) *pipeline.InspectionReport {
	t.Helper()
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)
	text := "30014567891"
	resolved := now.Add(time.Second)
	decoded := wagonid.Decode(text)
	require.NotNil(t, decoded)

	read := &pipeline.WagonRecord{
		TrackID:     1,
		RawText:     &text,
		Decoded:     decoded,
		Confidence:  0.9,
		RequestedAt: now,
		ResolvedAt:  &resolved,
		IsNight:     true,
		Images:      pipeline.Evidence{Original: "o.jpg", Number: "n.jpg"},
	}
	pending := &pipeline.WagonRecord{TrackID: 4, RequestedAt: now}

	return &pipeline.InspectionReport{
		RunID:          "run-1",
		VideoName:      "train.mp4",
		UniqueTrackIDs: []int{1, 2, 4},
		Records:        map[int]*pipeline.WagonRecord{1: read, 4: pending},
		Entries: []pipeline.Entry{
			{Index: 1, TrackID: 1, Identifier: decoded.Formatted(), Status: pipeline.StatusResolved, Record: read},
			{Index: 2, TrackID: 2, Identifier: pipeline.Placeholder(2), Status: pipeline.StatusNotDispatched},
			{Index: 3, TrackID: 4, Identifier: pipeline.Placeholder(4), Status: pipeline.StatusPending, Record: pending},
		},
		FrameCount: 120,
		FinishedAt: now,
		Stats:      pipeline.RunStats{Dropped: 1},
	}
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "inspections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestSaveAndLoadReport(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	id, err := s.SaveReport(ctx, sampleReport(t))
	require.NoError(t, err)
	assert.Positive(t, id)

	in, err := s.GetInspection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run-1", in.RunID)
	assert.Equal(t, "train.mp4", in.VideoName)
	assert.Equal(t, 3, in.TotalWagons)
	assert.Equal(t, 120, in.Frames)
	assert.Equal(t, 1, in.Dropped)
	assert.Equal(t, 2024, in.Timestamp.Year())

	wagons, err := s.ListWagons(ctx, id)
	require.NoError(t, err)
	require.Len(t, wagons, 3)

	first := wagons[0]
	require.NotNil(t, first.OCRText)
	assert.Equal(t, "30014567891", *first.OCRText)
	assert.Equal(t, "30 01 45 6789 1", first.Identifier)
	assert.Equal(t, "BCN", first.WagonType)
	assert.Equal(t, "CR", first.Authority)
	assert.True(t, first.IsNight)
	assert.Equal(t, "n.jpg", first.CroppedNumberPath)
	assert.Equal(t, "resolved", first.Status)

	assert.Nil(t, wagons[1].OCRText)
	assert.Equal(t, "Track-2", wagons[1].Identifier)
	assert.Equal(t, "not_dispatched", wagons[1].Status)
	assert.Equal(t, "pending", wagons[2].Status)
	assert.Equal(t, 4, wagons[2].TrackID)
}

func TestListInspectionsNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rep := sampleReport(t)
	first, err := s.SaveReport(ctx, rep)
	require.NoError(t, err)
	rep.RunID = "run-2"
	second, err := s.SaveReport(ctx, rep)
	require.NoError(t, err)

	all, err := s.ListInspections(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID)
	assert.Equal(t, first, all[1].ID)

	limited, err := s.ListInspections(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	latest, err := s.LatestInspection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.RunID)
}

func TestNotFound(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.GetInspection(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.LatestInspection(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.ListWagons(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.DeleteInspection(ctx, 42), ErrNotFound))
}

func TestDeleteCascades(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	id, err := s.SaveReport(ctx, sampleReport(t))
	require.NoError(t, err)
	require.NoError(t, s.DeleteInspection(ctx, id))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Inspections)
	assert.Equal(t, 0, st.Wagons)
}

func TestStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Wagons)

	_, err = s.SaveReport(ctx, sampleReport(t))
	require.NoError(t, err)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Inspections)
	assert.Equal(t, 3, st.Wagons)
	assert.Equal(t, 1, st.WithText)
	assert.Equal(t, 1, st.NightWagons)
	assert.InDelta(t, 0.9, st.AvgConfidence, 1e-9)
}

func TestSaveNilReport(t *testing.T) {
	s := openTemp(t)
	_, err := s.SaveReport(context.Background(), nil)
	require.Error(t, err)
}
