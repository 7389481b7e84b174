package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/models"
)

const (
	defaultLogLimit    = 100
	defaultEquityLimit = 500
)

// handleLogs returns the newest entries first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.repo.Logs(r.Context(), parseLimit(r, defaultLogLimit))
	if err != nil {
		s.log.Error("logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load logs")
		return
	}
	if logs == nil {
		logs = []models.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// handleEquity returns the most recent samples in chronological order.
func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	samples, err := s.repo.Equity(r.Context(), parseLimit(r, defaultEquityLimit))
	if err != nil {
		s.log.Error("equity", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load equity")
		return
	}
	if samples == nil {
		samples = []models.EquitySample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"equity": samples, "count": len(samples)})
}
