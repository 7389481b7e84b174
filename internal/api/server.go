package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/bot"
	"github.com/kjannette/trahn-perps/internal/events"
	"github.com/kjannette/trahn-perps/internal/repository"
)

const (
	maxQueryLimit = 1000
	maxBodyBytes  = 64 << 10
)

type Options struct {
	Port            int
	AdminToken      string
	CORSAllowOrigin string

	Service  *bot.Service
	Exchange Snapshots
	Store    repository.DocumentStore
	Events   *events.Hub
	Logger   *zap.Logger
}

type Server struct {
	svc        *bot.Service
	repo       *repository.StateRepo
	exchange   Snapshots
	store      repository.DocumentStore
	hub        *events.Hub
	admin      adminAuth
	log        *zap.Logger
	httpServer *http.Server
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		svc:      opts.Service,
		repo:     opts.Service.Engine().Repo(),
		exchange: opts.Exchange,
		store:    opts.Store,
		hub:      opts.Events,
		admin:    adminAuth{secret: opts.AdminToken},
		log:      log,
	}

	mux := http.NewServeMux()

	// Trading control
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("POST /run", s.adminMiddleware(http.HandlerFunc(s.handleRun)))
	mux.Handle("POST /stop", s.adminMiddleware(http.HandlerFunc(s.handleStop)))
	mux.Handle("POST /tick", s.adminMiddleware(http.HandlerFunc(s.handleTick)))

	// History
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /equity", s.handleEquity)

	// Exchange pass-through
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /balances", s.handleBalances)

	// Observability
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.hub != nil {
		mux.HandleFunc("GET /events", s.hub.ServeWS)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      corsMiddleware(mux, opts.CORSAllowOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	fmt.Printf("[API] REST API server started on http://localhost%s\n", s.httpServer.Addr)
	fmt.Printf("[API] Health check: http://localhost%s/health\n", s.httpServer.Addr)
	if s.admin.enabled() {
		fmt.Println("[API] Admin authentication: enabled (Bearer token, X-Admin-Token or HS256 JWT)")
	} else {
		fmt.Println("[API] Admin authentication: disabled (no ADMIN_TOKEN configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func parseBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
