package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/signer"
)

// Snapshots is the read-only slice of the exchange client the API exposes.
type Snapshots interface {
	Account(ctx context.Context) (json.RawMessage, error)
	Positions(ctx context.Context) (json.RawMessage, error)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, "positions", s.exchange.Positions)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, "balances", s.exchange.Account)
}

func (s *Server) passThrough(w http.ResponseWriter, r *http.Request, name string, fetch func(context.Context) (json.RawMessage, error)) {
	if s.exchange == nil {
		writeError(w, http.StatusServiceUnavailable, "Exchange client not configured")
		return
	}
	raw, err := fetch(r.Context())
	if err != nil {
		if signer.IsConfigError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Warn("exchange pass-through failed", zap.String("route", name), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}
