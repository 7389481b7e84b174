package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjannette/trahn-perps/internal/bot"
)

type mockTicker struct {
	calls     atomic.Int32
	overrides atomic.Int32
	delay     time.Duration
}

func (m *mockTicker) Tick(ctx context.Context, opts bot.TickOptions) bot.TickResult {
	m.calls.Add(1)
	if opts.Override {
		m.overrides.Add(1)
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
		}
	}
	return bot.TickResult{OK: true}
}

func waitCalls(t *testing.T, m *mockTicker, n int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least %d ticks, got %d", n, m.calls.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTickScheduler_StartStop(t *testing.T) {
	m := &mockTicker{}
	s := NewTickScheduler(m, Config{Spec: "@every 1s", IgnoreStopped: true}, zaptest.NewLogger(t))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Fatal("should be running after Start")
	}
	// second Start is a no-op
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	waitCalls(t, m, 1)
	s.Stop()
	if s.Running() {
		t.Fatal("should not be running after Stop")
	}
	if m.overrides.Load() != m.calls.Load() {
		t.Fatalf("IgnoreStopped should set the override on every tick: %d/%d", m.overrides.Load(), m.calls.Load())
	}

	after := m.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	if m.calls.Load() != after {
		t.Fatal("ticks continued after Stop")
	}
	s.Stop()
}

func TestTickScheduler_RunOnStart(t *testing.T) {
	m := &mockTicker{}
	s := NewTickScheduler(m, Config{Spec: "@every 1h", RunOnStart: true}, zaptest.NewLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitCalls(t, m, 1)
	if m.overrides.Load() != 0 {
		t.Fatal("override should be off when IgnoreStopped is false")
	}
}

func TestTickScheduler_BadSpec(t *testing.T) {
	s := NewTickScheduler(&mockTicker{}, Config{Spec: "every minute please"}, zaptest.NewLogger(t))
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
	if s.Running() {
		t.Fatal("should not be running after a failed Start")
	}
}

func TestTickScheduler_RunNow(t *testing.T) {
	m := &mockTicker{}
	s := NewTickScheduler(m, Config{IgnoreStopped: true}, zaptest.NewLogger(t))

	res := s.RunNow(context.Background())
	if !res.OK || m.calls.Load() != 1 || m.overrides.Load() != 1 {
		t.Fatalf("RunNow: res=%+v calls=%d overrides=%d", res, m.calls.Load(), m.overrides.Load())
	}
}

func TestTickScheduler_TimeoutBoundsTick(t *testing.T) {
	m := &mockTicker{delay: time.Minute}
	s := NewTickScheduler(m, Config{Timeout: 50 * time.Millisecond}, zaptest.NewLogger(t))

	start := time.Now()
	s.RunNow(context.Background())
	if time.Since(start) > 5*time.Second {
		t.Fatal("tick was not bounded by the timeout")
	}
}
