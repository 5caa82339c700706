package server

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/batch"
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/pipeline/pipelinetest"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/MeKo-Tech/rakescan/internal/testutil"
	"github.com/MeKo-Tech/rakescan/internal/wagonid"
	"github.com/stretchr/testify/require"
)

// testServer bundles a server, its routes and its store.
type testServer struct {
	*Server
	mux   *http.ServeMux
	store *store.Store
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{
		CORSOrigin:     "*",
		MaxInspections: 1,
		Store:          st,
		Batch: batch.Config{
			NewCoordinator: pipelinetest.Factory("30014567891", pipelinetest.Wagon(1, 300)),
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	return &testServer{Server: srv, mux: mux, store: st}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seed stores a two wagon report and returns its id.
func (ts *testServer) seed(t *testing.T) int64 {
	t.Helper()
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)
	text := "30014567891"
	resolved := now.Add(time.Second)
	decoded := wagonid.Decode(text)
	require.NotNil(t, decoded)

	read := &pipeline.WagonRecord{TrackID: 1, RawText: &text, Decoded: decoded, Confidence: 0.9,
		RequestedAt: now, ResolvedAt: &resolved}
	rep := &pipeline.InspectionReport{
		RunID:          "run-1",
		VideoName:      "train.mp4",
		UniqueTrackIDs: []int{1, 2},
		Records:        map[int]*pipeline.WagonRecord{1: read},
		Entries: []pipeline.Entry{
			{Index: 1, TrackID: 1, Identifier: decoded.Formatted(), Status: pipeline.StatusResolved, Record: read},
			{Index: 2, TrackID: 2, Identifier: pipeline.Placeholder(2), Status: pipeline.StatusNotDispatched},
		},
		FrameCount: 90,
		FinishedAt: now,
	}
	id, err := ts.store.SaveReport(context.Background(), rep)
	require.NoError(t, err)
	return id
}

// frameDir writes n sharp frames as an image sequence.
func frameDir(t *testing.T, n int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "frames")
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = testutil.CheckerFrame(testutil.SmallSize, 2)
	}
	testutil.WriteFrameSequence(t, dir, frames)
	return dir
}
