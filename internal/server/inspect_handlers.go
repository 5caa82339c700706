package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/batch"
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/google/uuid"
)

// maxInspectBody bounds the JSON body of POST /inspect.
const maxInspectBody = 1 << 20

// inspectHandler starts an inspection in the background (POST) or lists the
// runs started since the server came up (GET).
func (s *Server) inspectHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.listRuns())
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxInspectBody)
	var req InspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Video == "" {
		s.writeErrorResponse(w, "video is required", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(req.Video); err != nil {
		s.writeErrorResponse(w, "Video not found", http.StatusNotFound)
		return
	}

	cfg := s.batch
	if req.Mode != "" {
		mode, err := pipeline.ParseMode(req.Mode)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Pipeline.Policy.Mode = mode
	}
	if req.Enhance != "" {
		enh, err := pipeline.ParseEnhanceMode(req.Enhance)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Pipeline.Policy.Enhance = enh
	}
	if req.MaxFrames > 0 {
		cfg.MaxFrames = req.MaxFrames
	}

	select {
	case s.slots <- struct{}{}:
	default:
		inspectionsTotal.WithLabelValues("rejected").Inc()
		w.Header().Set("Retry-After", "30")
		s.writeErrorResponse(w, "Too many inspections running", http.StatusTooManyRequests)
		return
	}

	status := &RunStatus{
		RunID:     uuid.NewString(),
		Video:     req.Video,
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.runs[status.RunID] = status
	snapshot := *status
	s.mu.Unlock()

	cfg.RunID = status.RunID
	cfg.Progress = pipeline.NewMultiProgressCallback(
		newHubProgress(s, status.RunID, req.Video),
		pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug),
	)

	s.wg.Add(1)
	go s.runInspection(cfg, req.Video, status.RunID)

	slog.Info("Inspection accepted", "run_id", status.RunID, "video", req.Video)
	s.writeJSON(w, http.StatusAccepted, snapshot)
}

// runInspection owns one inspection slot until the report is stored.
func (s *Server) runInspection(cfg batch.Config, video, runID string) {
	defer s.wg.Done()

	inspectionsRunning.Inc()
	start := time.Now()
	in, err := batch.InspectVideo(s.ctx, video, &cfg)
	inspectionDuration.Observe(time.Since(start).Seconds())
	inspectionsRunning.Dec()

	// Free the slot before the run reads as finished
	<-s.slots

	final := s.updateRun(runID, func(st *RunStatus) {
		st.FinishedAt = time.Now()
		if in != nil && in.Report != nil {
			st.InspectionID = in.InspectionID
			st.Frames = in.Report.FrameCount
			st.Wagons = in.Report.TotalWagons()
		}
		st.Status = RunCompleted
		if err != nil {
			st.Status = RunFailed
			st.Error = err.Error()
		}
	})
	inspectionsTotal.WithLabelValues(final.Status).Inc()

	if err != nil {
		slog.Error("Inspection failed", "run_id", runID, "video", video, "error", err)
		s.hub.Broadcast(WebSocketMessage{Type: MessageInspectionFailed, Payload: final})
		return
	}
	slog.Info("Inspection completed", "run_id", runID, "inspection_id", final.InspectionID, "wagons", final.Wagons)
	s.hub.Broadcast(WebSocketMessage{Type: MessageInspectionCompleted, Payload: final})
}

// runStatusHandler reports one run started over HTTP.
func (s *Server) runStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	st, ok := s.runs[r.PathValue("run")]
	var snapshot RunStatus
	if ok {
		snapshot = *st
	}
	s.mu.Unlock()

	if !ok {
		s.writeErrorResponse(w, "Run not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

// updateRun applies fn under the lock and returns a copy of the result.
func (s *Server) updateRun(runID string, fn func(*RunStatus)) RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[runID]
	if !ok {
		return RunStatus{RunID: runID}
	}
	fn(st)
	return *st
}

func (s *Server) listRuns() []RunStatus {
	s.mu.Lock()
	out := make([]RunStatus, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, *st)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
