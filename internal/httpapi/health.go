package httpapi

import (
	"net/http"
	"time"
)

type healthBody struct {
	Status    string           `json:"status"`
	Database  string           `json:"database"`
	UptimeSec float64          `json:"uptime_sec"`
	LogBuffer logBufferSummary `json:"log_buffer"`
}

type logBufferSummary struct {
	Pending int `json:"pending"`
	Dropped int `json:"dropped"`
}

// handleHealth serves GET /health: overall status plus the store's own
// reachability, enriched with the log retry buffer's backlog so a degraded
// Mongo connection is visible before it starts dropping log lines.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	if err := s.repo.Health(r.Context()); err != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}

	stats := s.repo.LogBufferStats()
	writeJSON(w, http.StatusOK, healthBody{
		Status:    status,
		Database:  dbStatus,
		UptimeSec: time.Since(s.startTime).Seconds(),
		LogBuffer: logBufferSummary{Pending: stats.Pending, Dropped: stats.Dropped},
	})
}

// handleMetrics serves GET /metrics via the Prometheus handler, when
// metrics collection is enabled.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: "metrics are disabled"})
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}
