package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/events"
	"github.com/kjannette/trahn-perps/internal/models"
)

// Service owns the operator-facing lifecycle: run/stop mutate the persisted
// config; ticks are delegated to the engine.
type Service struct {
	mu     sync.Mutex
	engine *Engine
}

func NewService(engine *Engine) *Service {
	return &Service{engine: engine}
}

func (s *Service) Engine() *Engine { return s.engine }

type Status struct {
	Config  models.TradingConfig `json:"config"`
	Runtime models.Runtime       `json:"runtime"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	cfg, err := s.engine.repo.LoadConfig(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load config: %w", err)
	}
	rt, err := s.engine.repo.LoadRuntime(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load runtime: %w", err)
	}
	return Status{Config: cfg, Runtime: rt}, nil
}

// Start merges patch into the config and marks trading as running.
func (s *Service) Start(ctx context.Context, patch models.ConfigPatch) (models.TradingConfig, error) {
	cfg, err := s.apply(ctx, func(cfg models.TradingConfig) models.TradingConfig {
		if cfg.Running() {
			s.engine.log.Info("trading already running, config updated")
		}
		cfg = patch.Apply(cfg)
		cfg.Status = models.StatusRunning
		return cfg
	})
	if err != nil {
		return models.TradingConfig{}, err
	}
	s.engine.notify.Send(ctx, fmt.Sprintf("Trading started: universe %s, max risk $%.2f/trade, max daily loss $%.2f",
		strings.Join(cfg.Universe, ","), cfg.MaxRiskPerTradeUSD, cfg.MaxDailyLossUSD))
	return cfg, nil
}

// Stop marks trading as stopped. Open positions are left untouched.
func (s *Service) Stop(ctx context.Context) (models.TradingConfig, error) {
	cfg, err := s.apply(ctx, func(cfg models.TradingConfig) models.TradingConfig {
		cfg.Status = models.StatusStopped
		return cfg
	})
	if err != nil {
		return models.TradingConfig{}, err
	}
	s.engine.notify.Send(ctx, "Trading stopped")
	return cfg, nil
}

// apply runs a config read-modify-write under the service lock. Webhooks are
// sent by the caller once the lock is released.
func (s *Service) apply(ctx context.Context, fn func(models.TradingConfig) models.TradingConfig) (models.TradingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.engine.repo.LoadConfig(ctx)
	if err != nil {
		return models.TradingConfig{}, fmt.Errorf("load config: %w", err)
	}
	return s.setStatus(ctx, fn(cfg))
}

func (s *Service) setStatus(ctx context.Context, cfg models.TradingConfig) (models.TradingConfig, error) {
	cfg, err := s.engine.repo.SaveConfig(ctx, cfg)
	if err != nil {
		return models.TradingConfig{}, fmt.Errorf("save config: %w", err)
	}
	data := map[string]any{
		"status":   cfg.Status,
		"universe": cfg.Universe,
		"model":    cfg.Model,
	}
	if _, err := s.engine.repo.AppendLog(ctx, models.LogEntry{Type: models.LogStatus, Data: data}); err != nil {
		s.engine.log.Warn("append status log", zap.Error(err))
	}
	s.engine.events.Publish(events.TypeStatus, data)
	s.engine.log.Info("trading status changed", zap.String("status", cfg.Status))
	return cfg, nil
}

func (s *Service) Tick(ctx context.Context, opts TickOptions) TickResult {
	return s.engine.Tick(ctx, opts)
}
