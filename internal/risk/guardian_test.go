package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kjannette/trahn-perps/internal/models"
)

type mockHistory struct {
	samples []models.EquitySample
	err     error
	since   time.Time
}

func (m *mockHistory) EquitySince(_ context.Context, since time.Time) ([]models.EquitySample, error) {
	m.since = since
	return m.samples, m.err
}

var noon = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGuardian(limits Limits, h EquityHistory) *Guardian {
	g := NewGuardian(limits, h)
	g.now = func() time.Time { return noon }
	return g
}

// --- PreTradeCheck ---

func TestPreTradeCheck_MinNotional_Blocked(t *testing.T) {
	g := newTestGuardian(Limits{MinNotionalUSD: 5}, nil)
	err := g.PreTradeCheck(context.Background(), 4.99, 1000)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("expected ErrBelowMinNotional, got %v", err)
	}
	t.Logf("Correctly blocked: %v", err)
}

func TestPreTradeCheck_MinNotional_ExactBoundary(t *testing.T) {
	g := newTestGuardian(Limits{MinNotionalUSD: 5}, nil)
	if err := g.PreTradeCheck(context.Background(), 5, 1000); err != nil {
		t.Fatalf("exactly the minimum should pass, got %v", err)
	}
}

func TestPreTradeCheck_MaxRisk_Allowed(t *testing.T) {
	g := newTestGuardian(Limits{MaxRiskPerTradeUSD: 50}, nil)
	if err := g.PreTradeCheck(context.Background(), 50, 1000); err != nil {
		t.Fatalf("expected trade to be allowed, got: %v", err)
	}
}

func TestPreTradeCheck_MaxRisk_Blocked(t *testing.T) {
	g := newTestGuardian(Limits{MaxRiskPerTradeUSD: 50}, nil)
	err := g.PreTradeCheck(context.Background(), 50.01, 1000)
	if !errors.Is(err, ErrMaxRisk) {
		t.Fatalf("expected ErrMaxRisk, got %v", err)
	}
}

func TestPreTradeCheck_DailyLoss_Blocked(t *testing.T) {
	h := &mockHistory{samples: []models.EquitySample{
		{At: noon.Add(-3 * time.Hour), EquityUSD: 1000},
		{At: noon.Add(-2 * time.Hour), EquityUSD: 1100},
		{At: noon.Add(-1 * time.Hour), EquityUSD: 950},
	}}
	g := newTestGuardian(Limits{MaxDailyLossUSD: 200}, h)

	err := g.PreTradeCheck(context.Background(), 10, 900)
	if !errors.Is(err, ErrDailyLoss) {
		t.Fatalf("expected ErrDailyLoss (peak 1100 -> 900), got %v", err)
	}
	if !h.since.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("history should be read from UTC midnight, got %s", h.since)
	}
}

func TestPreTradeCheck_DailyLoss_Allowed(t *testing.T) {
	h := &mockHistory{samples: []models.EquitySample{{At: noon, EquityUSD: 1000}}}
	g := newTestGuardian(Limits{MaxDailyLossUSD: 200}, h)
	if err := g.PreTradeCheck(context.Background(), 10, 850); err != nil {
		t.Fatalf("loss of 150 under a 200 limit should pass, got %v", err)
	}
}

func TestPreTradeCheck_DailyLoss_HistoryError(t *testing.T) {
	g := newTestGuardian(Limits{MaxDailyLossUSD: 200}, &mockHistory{err: fmt.Errorf("store down")})
	if err := g.PreTradeCheck(context.Background(), 10, 1000); err == nil {
		t.Fatal("expected error when history fails")
	}
}

func TestPreTradeCheck_UnknownEquity_Blocked(t *testing.T) {
	h := &mockHistory{samples: []models.EquitySample{{EquityUSD: 1000}}}
	g := newTestGuardian(Limits{MaxDailyLossUSD: 200}, h)
	err := g.PreTradeCheck(context.Background(), 10, math.NaN())
	if !errors.Is(err, ErrEquityUnknown) {
		t.Fatalf("expected ErrEquityUnknown, got %v", err)
	}
	if errors.Is(err, ErrDailyLoss) {
		t.Fatal("unknown equity must not read as a daily loss")
	}
}

func TestPreTradeCheck_UnknownEquity_NoDailyLimit(t *testing.T) {
	g := newTestGuardian(Limits{MaxRiskPerTradeUSD: 50}, &mockHistory{})
	if err := g.PreTradeCheck(context.Background(), 10, math.NaN()); err != nil {
		t.Fatalf("without a daily loss limit unknown equity should pass, got %v", err)
	}
}

func TestPreTradeCheck_AllDisabled(t *testing.T) {
	g := newTestGuardian(Limits{}, &mockHistory{err: fmt.Errorf("never read")})
	if err := g.PreTradeCheck(context.Background(), 999999, 0); err != nil {
		t.Fatalf("all-zero limits should allow everything, got: %v", err)
	}
}

func TestDailyLoss_NeverNegative(t *testing.T) {
	h := &mockHistory{samples: []models.EquitySample{{EquityUSD: 500}}}
	g := newTestGuardian(Limits{}, h)
	loss, err := g.DailyLoss(context.Background(), 800)
	if err != nil || loss != 0 {
		t.Fatalf("equity above the day's samples should be zero loss, got %v %v", loss, err)
	}
}

func TestLimitsFrom(t *testing.T) {
	l := LimitsFrom(models.DefaultTradingConfig("m"), 5)
	if l.MaxRiskPerTradeUSD != 50 || l.MaxDailyLossUSD != 200 || l.MinNotionalUSD != 5 {
		t.Fatalf("unexpected limits: %+v", l)
	}
}
