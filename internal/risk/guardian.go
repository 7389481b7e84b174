package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjannette/trahn-perps/internal/models"
)

var (
	ErrBelowMinNotional = errors.New("below minimum notional")
	ErrMaxRisk          = errors.New("exceeds max risk per trade")
	ErrDailyLoss        = errors.New("daily loss limit reached")
	ErrEquityUnknown    = errors.New("equity unknown")
)

// EquityHistory abstracts the equity ring so Guardian can be tested without
// a store.
type EquityHistory interface {
	EquitySince(ctx context.Context, since time.Time) ([]models.EquitySample, error)
}

// Limits holds the per-order thresholds. A zero value for any field means
// that check is disabled.
type Limits struct {
	MaxRiskPerTradeUSD float64
	MaxDailyLossUSD    float64
	MinNotionalUSD     float64
}

// LimitsFrom builds Limits from the persisted trading config.
func LimitsFrom(cfg models.TradingConfig, minNotional float64) Limits {
	return Limits{
		MaxRiskPerTradeUSD: cfg.MaxRiskPerTradeUSD,
		MaxDailyLossUSD:    cfg.MaxDailyLossUSD,
		MinNotionalUSD:     minNotional,
	}
}

type Guardian struct {
	limits  Limits
	history EquityHistory
	now     func() time.Time
}

func NewGuardian(limits Limits, history EquityHistory) *Guardian {
	return &Guardian{limits: limits, history: history, now: time.Now}
}

// PreTradeCheck validates per-order constraints before submission.
// Returns nil if the order is allowed, a wrapped sentinel if blocked.
// equityUSD is NaN when the account balance could not be read; with a daily
// loss limit set, that blocks the order.
func (g *Guardian) PreTradeCheck(ctx context.Context, notionalUSD, equityUSD float64) error {
	if g.limits.MinNotionalUSD > 0 && notionalUSD < g.limits.MinNotionalUSD {
		return fmt.Errorf("%w: $%.2f < $%.2f", ErrBelowMinNotional, notionalUSD, g.limits.MinNotionalUSD)
	}

	if g.limits.MaxRiskPerTradeUSD > 0 && notionalUSD > g.limits.MaxRiskPerTradeUSD {
		return fmt.Errorf("%w: $%.2f > $%.2f", ErrMaxRisk, notionalUSD, g.limits.MaxRiskPerTradeUSD)
	}

	if g.limits.MaxDailyLossUSD > 0 && g.history != nil {
		if math.IsNaN(equityUSD) {
			return fmt.Errorf("%w: daily loss cannot be verified", ErrEquityUnknown)
		}
		loss, err := g.DailyLoss(ctx, equityUSD)
		if err != nil {
			return fmt.Errorf("trade blocked: unable to verify daily loss: %w", err)
		}
		if loss >= g.limits.MaxDailyLossUSD {
			return fmt.Errorf("%w: down $%.2f today (limit $%.2f)", ErrDailyLoss, loss, g.limits.MaxDailyLossUSD)
		}
	}

	return nil
}

// DailyLoss returns how far equity has fallen from its highest sample since
// UTC midnight. It is never negative.
func (g *Guardian) DailyLoss(ctx context.Context, equityUSD float64) (float64, error) {
	now := g.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	samples, err := g.history.EquitySince(ctx, midnight)
	if err != nil {
		return 0, err
	}
	peak := equityUSD
	for _, s := range samples {
		if s.EquityUSD > peak {
			peak = s.EquityUSD
		}
	}
	return peak - equityUSD, nil
}
