// Package strategy turns closing prices and, when the indicators disagree,
// a language model verdict into a single guarded trade decision per tick.
package strategy

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/indicator"
	"github.com/kjannette/trahn-perps/internal/llm"
	"github.com/kjannette/trahn-perps/internal/metrics"
	"github.com/kjannette/trahn-perps/internal/models"
	"github.com/kjannette/trahn-perps/internal/risk"
)

const (
	MinCloses   = 30
	FastPeriod  = 9
	SlowPeriod  = 21
	RSIPeriod   = 14
	LongRSIMax  = 60.0
	ShortRSIMin = 40.0

	ProviderSignal = "signal"
	ModelSignal    = "sma9-sma21-rsi14"
)

// CloseSource supplies the closing-price series for a symbol.
type CloseSource interface {
	Closes(ctx context.Context, symbol string) ([]float64, error)
}

type Input struct {
	Config           models.TradingConfig
	AvailableBalance float64
	Positions        json.RawMessage
}

// Outcome is the decision plus what the orchestrator needs to log about how
// it was reached.
type Outcome struct {
	Decision models.Decision
	Prompt   string
	LLMErr   error
}

type Options struct {
	LLMTimeout time.Duration
	Now        func() time.Time
}

type Engine struct {
	closes  CloseSource
	decider llm.Decider
	opts    Options
	log     *zap.Logger
}

// NewEngine returns a decision engine. decider may be nil, in which case an
// inconclusive scan stays FLAT.
func NewEngine(closes CloseSource, decider llm.Decider, opts Options, log *zap.Logger) *Engine {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{closes: closes, decider: decider, opts: opts, log: log}
}

// Evaluate computes the indicators at the last close and the directional
// signal they imply. ok is false when the series is too short.
func Evaluate(symbol string, closes []float64) (ind models.Indicators, action string, ok bool) {
	if len(closes) < MinCloses {
		return models.Indicators{Symbol: symbol}, models.ActionFlat, false
	}
	ind = models.Indicators{
		Symbol:  symbol,
		Close:   indicator.Last(closes),
		FastSMA: indicator.Last(indicator.SMA(closes, FastPeriod)),
		SlowSMA: indicator.Last(indicator.SMA(closes, SlowPeriod)),
		RSI:     indicator.Last(indicator.RSI(closes, RSIPeriod)),
	}
	if math.IsNaN(ind.FastSMA) || math.IsNaN(ind.SlowSMA) || math.IsNaN(ind.RSI) {
		return ind, models.ActionFlat, false
	}

	switch {
	case ind.FastSMA > ind.SlowSMA && ind.RSI < LongRSIMax:
		return ind, models.ActionLong, true
	case ind.FastSMA < ind.SlowSMA && ind.RSI > ShortRSIMin:
		return ind, models.ActionShort, true
	}
	return ind, models.ActionFlat, true
}

// Scan walks the universe in order and returns the first directional match.
// Symbols without usable data are skipped.
func (e *Engine) Scan(ctx context.Context, universe []string) (action, symbol string, seen []models.Indicators) {
	for _, sym := range universe {
		closes, err := e.closes.Closes(ctx, sym)
		if err != nil {
			e.log.Info("skipping symbol, no market data", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		ind, act, ok := Evaluate(sym, closes)
		if !ok {
			e.log.Debug("skipping symbol, insufficient closes", zap.String("symbol", sym), zap.Int("closes", len(closes)))
			continue
		}
		seen = append(seen, ind)
		if act != models.ActionFlat {
			return act, sym, seen
		}
	}
	return models.ActionFlat, "", seen
}

// Decide runs one pass of Scanning, optional model resolution and clamping.
func (e *Engine) Decide(ctx context.Context, in Input) Outcome {
	cfg := in.Config
	d := models.Decision{
		ID:     uuid.NewString(),
		At:     e.opts.Now().UTC(),
		Action: models.ActionFlat,
	}

	action, symbol, seen := e.Scan(ctx, cfg.Universe)
	d.Indicators = seen

	if action != models.ActionFlat {
		d.Action = action
		d.Symbol = symbol
		d.Source = models.SourceSignal
		d.Provider = ProviderSignal
		d.Model = ModelSignal
		d.SizeUSD = risk.ClampSignalSize(in.AvailableBalance, cfg.MaxRiskPerTradeUSD)
		d.Notes = "indicator signal"
		metrics.Decisions.WithLabelValues(d.Action, d.Source).Inc()
		return Outcome{Decision: d}
	}

	out := e.resolveWithModel(ctx, in, d)
	metrics.Decisions.WithLabelValues(out.Decision.Action, out.Decision.Source).Inc()
	return out
}

func (e *Engine) resolveWithModel(ctx context.Context, in Input, d models.Decision) Outcome {
	cfg := in.Config
	d.Source = models.SourceLLM
	d.Model = cfg.Model
	if len(cfg.Universe) > 0 {
		d.Symbol = cfg.Universe[0]
	}

	if e.decider == nil {
		d.Source = models.SourceSignal
		d.Provider = ProviderSignal
		d.Model = ModelSignal
		d.Notes = "no signal; language model not configured"
		return Outcome{Decision: d}
	}
	d.Provider = e.decider.Provider()

	lctx, cancel := context.WithTimeout(ctx, e.opts.LLMTimeout)
	defer cancel()

	res, err := e.decider.Decide(lctx, llm.Request{
		Model:            cfg.Model,
		Universe:         cfg.Universe,
		AvailableBalance: in.AvailableBalance,
		Positions:        in.Positions,
		Indicators:       d.Indicators,
		Limits: llm.Limits{
			MaxRiskPerTradeUSD: cfg.MaxRiskPerTradeUSD,
			MaxDailyLossUSD:    cfg.MaxDailyLossUSD,
			MaxExposureUSD:     cfg.MaxExposureUSD,
			LeverageCap:        cfg.LeverageCap,
			MarginMode:         cfg.MarginMode,
		},
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues(d.Provider, "error").Inc()
		e.log.Warn("language model unavailable, staying flat", zap.String("provider", d.Provider), zap.Error(err))
		d.Notes = "language model unavailable: " + err.Error()
		return Outcome{Decision: d, LLMErr: err}
	}
	metrics.LLMCalls.WithLabelValues(d.Provider, "ok").Inc()

	if res.Model != "" {
		d.Model = res.Model
	}
	d.Notes = res.Notes

	d.Action = res.Action
	if !models.ValidAction(d.Action) {
		e.log.Warn("invalid model action, forcing FLAT", zap.String("action", res.Action))
		d.Action = models.ActionFlat
	}
	if cfg.InUniverse(res.Symbol) {
		d.Symbol = res.Symbol
	} else if res.Symbol != "" {
		e.log.Warn("model symbol outside universe, using first symbol", zap.String("symbol", res.Symbol))
	}
	d.SizeUSD = risk.ClampLLMSize(res.SizeUSD, cfg.MaxExposureUSD)

	return Outcome{Decision: d, Prompt: res.Prompt}
}
