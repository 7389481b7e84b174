package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-perps/internal/models"
)

const (
	KeyConfig    = "trading:config"
	KeyRuntime   = "trading:runtime"
	KeyLogs      = "trading:logs"
	KeyEquity    = "trading:equity"
	KeyPositions = "trading:positions"
)

// StateRepo is the typed view over the trading documents. Ring documents are
// stored oldest-first and trimmed on append.
type StateRepo struct {
	store    DocumentStore
	defaults models.TradingConfig

	// serialises ring read-modify-write within this process
	ringMu sync.Mutex
	now    func() time.Time
}

func NewStateRepo(store DocumentStore, defaults models.TradingConfig) *StateRepo {
	return &StateRepo{store: store, defaults: defaults, now: time.Now}
}

func (r *StateRepo) Store() DocumentStore { return r.store }

// LoadConfig returns the stored config, or the defaults when none has been
// written yet. Reading never writes.
func (r *StateRepo) LoadConfig(ctx context.Context) (models.TradingConfig, error) {
	var cfg models.TradingConfig
	found, err := GetJSON(ctx, r.store, KeyConfig, &cfg)
	if err != nil {
		return models.TradingConfig{}, err
	}
	if !found {
		d := r.defaults
		d.Universe = slices.Clone(d.Universe)
		return d, nil
	}
	if len(cfg.Universe) == 0 {
		cfg.Universe = slices.Clone(r.defaults.Universe)
	}
	return cfg, nil
}

func (r *StateRepo) SaveConfig(ctx context.Context, cfg models.TradingConfig) (models.TradingConfig, error) {
	cfg.UpdatedAt = r.now().UTC()
	if err := PutJSON(ctx, r.store, KeyConfig, cfg); err != nil {
		return models.TradingConfig{}, err
	}
	return cfg, nil
}

func (r *StateRepo) LoadRuntime(ctx context.Context) (models.Runtime, error) {
	var rt models.Runtime
	if _, err := GetJSON(ctx, r.store, KeyRuntime, &rt); err != nil {
		return models.Runtime{}, err
	}
	return rt, nil
}

func (r *StateRepo) SaveRuntime(ctx context.Context, rt models.Runtime) error {
	return PutJSON(ctx, r.store, KeyRuntime, rt)
}

// AppendLog stamps and appends entry, dropping the oldest beyond
// models.MaxLogEntries.
func (r *StateRepo) AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = r.now().UTC()
	}

	r.ringMu.Lock()
	defer r.ringMu.Unlock()

	var logs []models.LogEntry
	if _, err := GetJSON(ctx, r.store, KeyLogs, &logs); err != nil {
		return entry, err
	}
	logs = appendRing(logs, entry, models.MaxLogEntries)
	return entry, PutJSON(ctx, r.store, KeyLogs, logs)
}

// Logs returns up to limit entries, newest first.
func (r *StateRepo) Logs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	var logs []models.LogEntry
	if _, err := GetJSON(ctx, r.store, KeyLogs, &logs); err != nil {
		return nil, err
	}
	logs = tail(logs, limit)
	slices.Reverse(logs)
	return logs, nil
}

func (r *StateRepo) AppendEquity(ctx context.Context, sample models.EquitySample) error {
	if sample.At.IsZero() {
		sample.At = r.now().UTC()
	}

	r.ringMu.Lock()
	defer r.ringMu.Unlock()

	var samples []models.EquitySample
	if _, err := GetJSON(ctx, r.store, KeyEquity, &samples); err != nil {
		return err
	}
	samples = appendRing(samples, sample, models.MaxEquitySamples)
	return PutJSON(ctx, r.store, KeyEquity, samples)
}

// Equity returns the most recent limit samples in chronological order.
func (r *StateRepo) Equity(ctx context.Context, limit int) ([]models.EquitySample, error) {
	var samples []models.EquitySample
	if _, err := GetJSON(ctx, r.store, KeyEquity, &samples); err != nil {
		return nil, err
	}
	return tail(samples, limit), nil
}

// EquitySince returns the samples taken at or after since.
func (r *StateRepo) EquitySince(ctx context.Context, since time.Time) ([]models.EquitySample, error) {
	var samples []models.EquitySample
	if _, err := GetJSON(ctx, r.store, KeyEquity, &samples); err != nil {
		return nil, err
	}
	i, _ := slices.BinarySearchFunc(samples, since, func(s models.EquitySample, t time.Time) int {
		return s.At.Compare(t)
	})
	return samples[i:], nil
}

func (r *StateRepo) SavePositions(ctx context.Context, snap models.PositionSnapshot) error {
	return PutJSON(ctx, r.store, KeyPositions, snap)
}

func (r *StateRepo) Positions(ctx context.Context) (*models.PositionSnapshot, error) {
	var snap models.PositionSnapshot
	found, err := GetJSON(ctx, r.store, KeyPositions, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func appendRing[T any](ring []T, v T, limit int) []T {
	ring = append(ring, v)
	if len(ring) > limit {
		ring = slices.Clone(ring[len(ring)-limit:])
	}
	return ring
}

func tail[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}
