package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/report"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/MeKo-Tech/rakescan/internal/version"
)

const msgInspectionNotFound = "Inspection not found"

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// historyHandler lists stored inspections, newest first.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := s.store.ListInspections(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list inspections", "error", err)
		s.writeErrorResponse(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []store.Inspection{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Inspections: list, Count: len(list)})
}

// inspectionHandler returns one inspection with its wagons, or deletes it.
func (s *Server) inspectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := s.inspectionID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.store.DeleteInspection(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	in, err := s.store.GetInspection(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	wagons, err := s.store.ListWagons(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if wagons == nil {
		wagons = []store.Wagon{}
	}
	s.writeJSON(w, http.StatusOK, InspectionDetail{Inspection: in, Wagons: wagons})
}

// reportHandler renders a stored inspection. PDF is the default; ?format=
// selects text, json, csv or yaml instead.
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := s.inspectionID(w, r)
	if !ok {
		return
	}

	in, err := s.store.GetInspection(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	wagons, err := s.store.ListWagons(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	doc := report.FromStore(in, wagons)

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" || format == report.FormatPDF {
		data, err := report.ToPDF(doc)
		if err != nil {
			slog.Error("Failed to render PDF report", "inspection_id", id, "error", err)
			s.writeErrorResponse(w, "Failed to render report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=\"inspection_%d_report.pdf\"", id))
		_, _ = w.Write(data)
		return
	}

	body, err := report.Render(doc, format)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	_, _ = w.Write([]byte(body))
}

// statsHandler returns totals across all stored inspections.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to compute stats", "error", err)
		s.writeErrorResponse(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func contentType(format string) string {
	switch format {
	case report.FormatJSON:
		return "application/json"
	case report.FormatCSV:
		return "text/csv; charset=utf-8"
	case report.FormatYAML:
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// inspectionID parses the {id} path segment, answering 400 when it is not a
// positive integer.
func (s *Server) inspectionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		s.writeErrorResponse(w, "Invalid inspection id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeErrorResponse(w, msgInspectionNotFound, http.StatusNotFound)
		return
	}
	slog.Error("Store request failed", "error", err)
	s.writeErrorResponse(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
