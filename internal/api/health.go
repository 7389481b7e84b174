package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Store        string `json:"store"`
	StoreBackend string `json:"storeBackend"`
	EventClients int    `json:"eventClients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := healthServices{Store: "connected"}
	if s.store != nil {
		services.StoreBackend = s.store.Name()
		if err := s.store.Ping(r.Context()); err != nil {
			services.Store = "disconnected"
		}
	}
	if s.hub != nil {
		services.EventClients = s.hub.Clients()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	})
}
