package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/batch"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	store      *store.Store
	corsOrigin string
	timeoutSec int
	batch      batch.Config
	hub        *Hub

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*RunStatus
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	TimeoutSec     int
	MaxInspections int // Concurrent background inspections
	Store          *store.Store
	Batch          batch.Config // Template for inspections started over HTTP
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoryResponse struct {
	Inspections []store.Inspection `json:"inspections"`
	Count       int                `json:"count"`
}

type InspectionDetail struct {
	Inspection store.Inspection `json:"inspection"`
	Wagons     []store.Wagon    `json:"wagons"`
}

// InspectRequest starts an inspection of a video already on the server.
type InspectRequest struct {
	Video     string `json:"video"`
	Mode      string `json:"mode,omitempty"`
	Enhance   string `json:"enhance,omitempty"`
	MaxFrames int    `json:"max_frames,omitempty"`
}

// Run states reported by RunStatus.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunStatus tracks an inspection started over HTTP.
type RunStatus struct {
	RunID        string    `json:"run_id"`
	Video        string    `json:"video"`
	Status       string    `json:"status"`
	Frames       int       `json:"frames"`
	TotalFrames  int       `json:"total_frames,omitempty"`
	Wagons       int       `json:"wagons"`
	InspectionID int64     `json:"inspection_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// NewServer creates a server over an open inspection store.
func NewServer(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, errors.New("inspection store is required")
	}
	slots := config.MaxInspections
	if slots < 1 {
		slots = 1
	}
	corsOrigin := config.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	b := config.Batch
	b.Store = config.Store

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:      config.Store,
		corsOrigin: corsOrigin,
		timeoutSec: config.TimeoutSec,
		batch:      b,
		hub:        NewHub(),
		slots:      make(chan struct{}, slots),
		ctx:        ctx,
		cancel:     cancel,
		runs:       make(map[string]*RunStatus),
	}, nil
}

// Close cancels running inspections and waits until their partial reports
// are stored. The store itself belongs to the caller.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	s.hub.Close()
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/history", s.corsMiddleware(s.historyHandler))
	mux.HandleFunc("/history/{id}", s.corsMiddleware(s.inspectionHandler))
	mux.HandleFunc("/history/{id}/report", s.corsMiddleware(s.reportHandler))
	mux.HandleFunc("/stats", s.corsMiddleware(s.statsHandler))
	mux.HandleFunc("/inspect", s.corsMiddleware(s.inspectHandler))
	mux.HandleFunc("/inspect/{run}", s.corsMiddleware(s.runStatusHandler))
	mux.HandleFunc("/ws/progress", s.progressWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
