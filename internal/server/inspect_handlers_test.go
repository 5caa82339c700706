package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/pipeline/pipelinetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inspectBody(t *testing.T, req InspectRequest) string {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return string(data)
}

// waitForRun polls the run until it leaves the running state.
func waitForRun(t *testing.T, ts *testServer, runID string) RunStatus {
	t.Helper()
	var st RunStatus
	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/inspect/"+runID, "")
		if w.Code != http.StatusOK {
			return false
		}
		st = decode[RunStatus](t, w)
		return st.Status != RunRunning
	}, 10*time.Second, 20*time.Millisecond)
	return st
}

func TestServer_InspectStoresReport(t *testing.T) {
	ts := newTestServer(t, nil)
	video := frameDir(t, 4)

	w := ts.do(t, http.MethodPost, "/inspect", inspectBody(t, InspectRequest{Video: video, Mode: "wagon_box"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	accepted := decode[RunStatus](t, w)
	assert.Equal(t, RunRunning, accepted.Status)
	require.NotEmpty(t, accepted.RunID)

	final := waitForRun(t, ts, accepted.RunID)
	require.Equal(t, RunCompleted, final.Status, final.Error)
	assert.Equal(t, 4, final.Frames)
	assert.Equal(t, 1, final.Wagons)
	require.Positive(t, final.InspectionID)

	in, err := ts.store.GetInspection(context.Background(), final.InspectionID)
	require.NoError(t, err)
	assert.Equal(t, accepted.RunID, in.RunID)
	assert.Equal(t, filepath.Base(video), in.VideoName)

	w = ts.do(t, http.MethodGet, "/inspect", "")
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[[]RunStatus](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, accepted.RunID, runs[0].RunID)
}

func TestServer_InspectMaxFrames(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/inspect", inspectBody(t, InspectRequest{Video: frameDir(t, 5), MaxFrames: 2}))
	require.Equal(t, http.StatusAccepted, w.Code)
	final := waitForRun(t, ts, decode[RunStatus](t, w).RunID)
	assert.Equal(t, RunCompleted, final.Status)
	assert.Equal(t, 2, final.Frames)
}

func TestServer_InspectValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	video := frameDir(t, 1)

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing video", http.MethodPost, `{}`, http.StatusBadRequest},
		{"unknown video", http.MethodPost, `{"video":"/no/such/train.mp4"}`, http.StatusNotFound},
		{"unknown mode", http.MethodPost, inspectBody(t, InspectRequest{Video: video, Mode: "fast"}), http.StatusBadRequest},
		{"unknown enhancement", http.MethodPost, inspectBody(t, InspectRequest{Video: video, Enhance: "dusk"}), http.StatusBadRequest},
		{"wrong method", http.MethodPut, `{}`, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, "/inspect", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := ts.do(t, http.MethodGet, "/inspect/unknown-run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_InspectRejectsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	inner := pipelinetest.Factory("x", pipelinetest.Wagon(1, 300))
	ts := newTestServer(t, func(c *Config) {
		c.Batch.NewCoordinator = func(cfg pipeline.Config, runID string, sink pipeline.EvidenceSink,
			progress pipeline.ProgressCallback) (*pipeline.Coordinator, error) {
			<-release
			return inner(cfg, runID, sink, progress)
		}
	})
	body := inspectBody(t, InspectRequest{Video: frameDir(t, 1)})

	w := ts.do(t, http.MethodPost, "/inspect", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	first := decode[RunStatus](t, w)

	w = ts.do(t, http.MethodPost, "/inspect", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	close(release)
	assert.Equal(t, RunCompleted, waitForRun(t, ts, first.RunID).Status)

	w = ts.do(t, http.MethodPost, "/inspect", body)
	assert.Equal(t, http.StatusAccepted, w.Code)
	waitForRun(t, ts, decode[RunStatus](t, w).RunID)
}
