package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/netsentinel/ids/internal/alert"
)

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store      Store
	thresholds thresholds
	email      emailSlot
}

// NewServer creates a new Server over store, with writes to set_threshold
// and set_email routed to thresholds and email respectively.
func NewServer(store Store, th thresholds, em emailSlot) *Server {
	return &Server{store: store, thresholds: th, email: em}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

// handleHealthz responds to GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetAlerts responds to GET /api/alerts?limit=N.
func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		limit = n
	}

	alerts := s.store.GetAlerts(limit)
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// handleGetStats responds to GET /api/stats/{name}?interval=S, where name
// is one of the wire-stable detector names ("icmp", "ssh", "arp",
// "portscan").
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	metric, ok := metricByDetectorName[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown detector")
		return
	}

	interval := 60.0
	if intervalStr := r.URL.Query().Get("interval"); intervalStr != "" {
		v, err := strconv.ParseFloat(intervalStr, 64)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "'interval' must be a positive number")
			return
		}
		interval = v
	}

	samples := s.store.GetMetrics(metric, interval)
	if samples == nil {
		samples = []alert.MetricSample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": samples})
}

type setEmailRequest struct {
	Email string `json:"email"`
}

// handleSetEmail responds to POST /api/set_email.
func (s *Server) handleSetEmail(w http.ResponseWriter, r *http.Request) {
	var req setEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.email.Set(req.Email)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "email": req.Email})
}

type setThresholdRequest struct {
	DetectorName string `json:"detector_name"`
	NewValue     int    `json:"new_value"`
}

// handleSetThreshold responds to POST /set_threshold.
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req setThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "invalid request body"})
		return
	}

	if err := s.thresholds.Set(req.DetectorName, req.NewValue); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "Unknown detector"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "thresholds": s.thresholds.Snapshot()})
}
