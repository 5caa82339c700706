package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
}

func TestServer_HealthHandler(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request success", http.MethodGet, http.StatusOK},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, "/health", "")
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			response := decode[HealthResponse](t, w)
			assert.Equal(t, "healthy", response.Status)
			assert.NotEmpty(t, response.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.CORSOrigin = "https://yard.example" })

	w := ts.do(t, http.MethodOptions, "/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://yard.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Body.String())
}

func TestServer_History(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	empty := decode[HistoryResponse](t, w)
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Inspections)

	first := ts.seed(t)
	second := ts.seed(t)

	w = ts.do(t, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[HistoryResponse](t, w)
	require.Equal(t, 2, all.Count)
	assert.Equal(t, second, all.Inspections[0].ID)
	assert.Equal(t, first, all.Inspections[1].ID)

	w = ts.do(t, http.MethodGet, "/history?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[HistoryResponse](t, w).Count)

	w = ts.do(t, http.MethodGet, "/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/history", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_InspectionDetail(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.seed(t)

	w := ts.do(t, http.MethodGet, fmt.Sprintf("/history/%d", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[InspectionDetail](t, w)
	assert.Equal(t, "train.mp4", detail.Inspection.VideoName)
	assert.Equal(t, 2, detail.Inspection.TotalWagons)
	require.Len(t, detail.Wagons, 2)
	assert.Equal(t, "30 01 45 6789 1", detail.Wagons[0].Identifier)
	assert.Equal(t, "Track-2", detail.Wagons[1].Identifier)
	assert.Nil(t, detail.Wagons[1].OCRText)

	w = ts.do(t, http.MethodGet, "/history/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, msgInspectionNotFound, decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodGet, "/history/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_DeleteInspection(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.seed(t)
	path := fmt.Sprintf("/history/%d", id)

	w := ts.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Report(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.seed(t)
	base := fmt.Sprintf("/history/%d/report", id)

	w := ts.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), fmt.Sprintf("inspection_%d_report.pdf", id))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = ts.do(t, http.MethodGet, base+"?format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, w.Body.String(), "30 01 45 6789 1")
	assert.Contains(t, w.Body.String(), "Track-2")

	w = ts.do(t, http.MethodGet, base+"?format=text", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Total Wagons Counted: 2")

	w = ts.do(t, http.MethodGet, base+"?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/history/42/report", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, msgInspectionNotFound, decode[ErrorResponse](t, w).Error)
}

func TestServer_Stats(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seed(t)

	w := ts.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[store.Stats](t, w)
	assert.Equal(t, 1, stats.Inspections)
	assert.Equal(t, 2, stats.Wagons)
	assert.Equal(t, 1, stats.WithText)
	assert.InDelta(t, 0.9, stats.AvgConfidence, 1e-9)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/health", "")

	w := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rakescan_http_requests_total")
}
