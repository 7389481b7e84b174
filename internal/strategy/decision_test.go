package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kjannette/trahn-perps/internal/llm"
	"github.com/kjannette/trahn-perps/internal/models"
)

// uptrend zig-zags upward: SMA9 > SMA21 with RSI around 57.
func uptrend(n int) []float64 {
	out := make([]float64, n)
	for j := range out {
		k := float64(j / 2)
		if j%2 == 0 {
			out[j] = 100 + 0.3*k
		} else {
			out[j] = 101.5 + 0.3*k
		}
	}
	return out
}

// downtrend mirrors uptrend: SMA9 < SMA21 with RSI around 43.
func downtrend(n int) []float64 {
	out := make([]float64, n)
	for j := range out {
		k := float64(j / 2)
		if j%2 == 0 {
			out[j] = 200 - 0.3*k
		} else {
			out[j] = 198.5 - 0.3*k
		}
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type fakeCloses map[string][]float64

func (f fakeCloses) Closes(_ context.Context, symbol string) ([]float64, error) {
	c, ok := f[symbol]
	if !ok {
		return nil, fmt.Errorf("no data for %s", symbol)
	}
	return c, nil
}

type fakeDecider struct {
	calls  atomic.Int32
	result llm.Result
	err    error
	last   llm.Request
}

func (f *fakeDecider) Provider() string { return "fake" }

func (f *fakeDecider) Decide(_ context.Context, req llm.Request) (llm.Result, error) {
	f.calls.Add(1)
	f.last = req
	r := f.result
	r.Prompt = "prompt"
	return r, f.err
}

func cfgWith(universe ...string) models.TradingConfig {
	c := models.DefaultTradingConfig("gpt-4o-mini")
	c.Status = models.StatusRunning
	c.Universe = universe
	return c
}

func TestEvaluate(t *testing.T) {
	ind, act, ok := Evaluate("BTCUSDT", uptrend(60))
	if !ok || act != models.ActionLong {
		t.Fatalf("uptrend: got %s ok=%v (%+v)", act, ok, ind)
	}
	if ind.RSI <= 0 || ind.RSI >= LongRSIMax || ind.FastSMA <= ind.SlowSMA {
		t.Fatalf("unexpected indicators %+v", ind)
	}

	_, act, ok = Evaluate("ETHUSDT", downtrend(60))
	if !ok || act != models.ActionShort {
		t.Fatalf("downtrend: got %s ok=%v", act, ok)
	}

	_, act, ok = Evaluate("X", flat(60, 10))
	if !ok || act != models.ActionFlat {
		t.Fatalf("flat series should evaluate FLAT, got %s ok=%v", act, ok)
	}

	if _, _, ok := Evaluate("X", uptrend(29)); ok {
		t.Fatal("29 closes should be insufficient")
	}
}

func TestDecide_FirstMatchWins(t *testing.T) {
	closes := fakeCloses{"BTCUSDT": uptrend(60), "ETHUSDT": downtrend(60)}
	dec := &fakeDecider{}
	e := NewEngine(closes, dec, Options{}, zaptest.NewLogger(t))

	out := e.Decide(context.Background(), Input{Config: cfgWith("BTCUSDT", "ETHUSDT"), AvailableBalance: 1000})
	if out.Decision.Action != models.ActionLong || out.Decision.Symbol != "BTCUSDT" {
		t.Fatalf("expected LONG BTCUSDT, got %+v", out.Decision)
	}

	out = e.Decide(context.Background(), Input{Config: cfgWith("ETHUSDT", "BTCUSDT"), AvailableBalance: 1000})
	if out.Decision.Action != models.ActionShort || out.Decision.Symbol != "ETHUSDT" {
		t.Fatalf("expected SHORT ETHUSDT when it is first, got %+v", out.Decision)
	}
	if dec.calls.Load() != 0 {
		t.Fatal("model must not be consulted when a signal resolves")
	}
}

func TestDecide_SignalSizeClamped(t *testing.T) {
	e := NewEngine(fakeCloses{"BTCUSDT": uptrend(60)}, nil, Options{}, zaptest.NewLogger(t))
	cfg := cfgWith("BTCUSDT")

	for _, tc := range []struct{ balance, want float64 }{{1000, 50}, {320, 32}, {0, 0}} {
		out := e.Decide(context.Background(), Input{Config: cfg, AvailableBalance: tc.balance})
		if out.Decision.SizeUSD != tc.want {
			t.Fatalf("balance %v: size %v, want %v", tc.balance, out.Decision.SizeUSD, tc.want)
		}
		if out.Decision.Source != models.SourceSignal {
			t.Fatalf("source: %s", out.Decision.Source)
		}
	}
}

func TestDecide_SkipsMissingAndShortSeries(t *testing.T) {
	closes := fakeCloses{"SHORTUSDT": uptrend(10), "ETHUSDT": downtrend(60)}
	e := NewEngine(closes, nil, Options{}, zaptest.NewLogger(t))

	out := e.Decide(context.Background(), Input{Config: cfgWith("MISSINGUSDT", "SHORTUSDT", "ETHUSDT"), AvailableBalance: 1000})
	if out.Decision.Action != models.ActionShort || out.Decision.Symbol != "ETHUSDT" {
		t.Fatalf("expected SHORT ETHUSDT, got %+v", out.Decision)
	}
}

func TestDecide_FlatWithoutModel(t *testing.T) {
	e := NewEngine(fakeCloses{"BTCUSDT": flat(60, 5)}, nil, Options{}, zaptest.NewLogger(t))
	out := e.Decide(context.Background(), Input{Config: cfgWith("BTCUSDT"), AvailableBalance: 1000})
	if out.Decision.Action != models.ActionFlat || out.Decision.Actionable() {
		t.Fatalf("expected FLAT, got %+v", out.Decision)
	}
	if out.Prompt != "" {
		t.Fatal("no prompt without a model")
	}
}

func TestDecide_ModelValidated(t *testing.T) {
	cfg := cfgWith("BTCUSDT", "ETHUSDT")
	cases := []struct {
		name   string
		result llm.Result
		action string
		symbol string
		size   float64
	}{
		{"valid", llm.Result{Action: "SHORT", Symbol: "ETHUSDT", SizeUSD: 120}, "SHORT", "ETHUSDT", 120},
		{"bad action", llm.Result{Action: "BUY", Symbol: "ETHUSDT", SizeUSD: 120}, "FLAT", "ETHUSDT", 120},
		{"bad symbol", llm.Result{Action: "LONG", Symbol: "DOGEUSDT", SizeUSD: 10}, "LONG", "BTCUSDT", 10},
		{"over exposure", llm.Result{Action: "LONG", Symbol: "BTCUSDT", SizeUSD: 9000}, "LONG", "BTCUSDT", 500},
		{"negative", llm.Result{Action: "LONG", Symbol: "BTCUSDT", SizeUSD: -3}, "LONG", "BTCUSDT", 0},
		{"nan", llm.Result{Action: "LONG", Symbol: "BTCUSDT", SizeUSD: math.NaN()}, "LONG", "BTCUSDT", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := &fakeDecider{result: tc.result}
			e := NewEngine(fakeCloses{"BTCUSDT": flat(60, 1), "ETHUSDT": flat(60, 2)}, dec, Options{}, zaptest.NewLogger(t))

			out := e.Decide(context.Background(), Input{Config: cfg, AvailableBalance: 1000})
			d := out.Decision
			if d.Action != tc.action || d.Symbol != tc.symbol || d.SizeUSD != tc.size {
				t.Fatalf("got %s %s %v, want %s %s %v", d.Action, d.Symbol, d.SizeUSD, tc.action, tc.symbol, tc.size)
			}
			if d.Source != models.SourceLLM || d.Provider != "fake" {
				t.Fatalf("source/provider: %s/%s", d.Source, d.Provider)
			}
			if out.Prompt == "" {
				t.Fatal("prompt should be surfaced for logging")
			}
			if dec.calls.Load() != 1 {
				t.Fatalf("expected one model call, got %d", dec.calls.Load())
			}
			if dec.last.Limits.MaxExposureUSD != 500 || len(dec.last.Indicators) != 2 {
				t.Fatalf("request missing context: %+v", dec.last)
			}
		})
	}
}

func TestDecide_ModelErrorStaysFlat(t *testing.T) {
	dec := &fakeDecider{err: errors.New("timeout")}
	e := NewEngine(fakeCloses{"BTCUSDT": flat(60, 1)}, dec, Options{}, zaptest.NewLogger(t))

	out := e.Decide(context.Background(), Input{Config: cfgWith("BTCUSDT"), AvailableBalance: 1000})
	if out.Decision.Action != models.ActionFlat || out.LLMErr == nil {
		t.Fatalf("expected FLAT with error, got %+v", out)
	}
}
