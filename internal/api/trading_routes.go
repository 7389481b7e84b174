package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/bot"
	"github.com/kjannette/trahn-perps/internal/models"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.log.Error("status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleRun sets running=true, merging an optional JSON config patch.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var patch models.ConfigPatch
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid config patch: "+err.Error())
		return
	}

	cfg, err := s.svc.Start(r.Context(), patch)
	if err != nil {
		s.log.Error("run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to start trading")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": cfg})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Stop(r.Context())
	if err != nil {
		s.log.Error("stop", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to stop trading")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": cfg})
}

// handleTick runs one pass synchronously. ?force=true ticks even when
// trading is stopped.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	res := s.svc.Tick(r.Context(), bot.TickOptions{Override: parseBool(r, "force")})
	writeJSON(w, http.StatusOK, res)
}
