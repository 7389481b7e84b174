package bot

import (
	"context"
	"testing"

	"github.com/kjannette/trahn-perps/internal/models"
)

func TestService_StartStop(t *testing.T) {
	h := newHarness(t, ExecutorOptions{})
	svc := NewService(h.engine)
	ctx := context.Background()

	risk := 20.0
	cfg, err := svc.Start(ctx, models.ConfigPatch{Universe: []string{"ETHUSDT"}, MaxRiskPerTradeUSD: &risk})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !cfg.Running() || cfg.Universe[0] != "ETHUSDT" || cfg.MaxRiskPerTradeUSD != 20 {
		t.Fatalf("config after start = %+v", cfg)
	}

	st, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Config.Running() || st.Config.UpdatedAt.IsZero() {
		t.Fatalf("status = %+v", st.Config)
	}

	cfg, err = svc.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if cfg.Running() || cfg.MaxRiskPerTradeUSD != 20 {
		t.Fatalf("stop should keep limits and clear status: %+v", cfg)
	}

	if n := logTypes(t, h.repo)[models.LogStatus]; n != 2 {
		t.Fatalf("expected 2 status entries, got %d", n)
	}

	res := svc.Tick(ctx, TickOptions{})
	if res.Skipped != SkipStopped {
		t.Fatalf("tick after stop = %+v", res)
	}
}
