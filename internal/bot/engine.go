package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/events"
	"github.com/kjannette/trahn-perps/internal/llm"
	"github.com/kjannette/trahn-perps/internal/metrics"
	"github.com/kjannette/trahn-perps/internal/models"
	"github.com/kjannette/trahn-perps/internal/notifications"
	"github.com/kjannette/trahn-perps/internal/repository"
	"github.com/kjannette/trahn-perps/internal/signer"
	"github.com/kjannette/trahn-perps/internal/strategy"
)

const SkipStopped = "stopped"

// Exchange is everything a tick reads from or sends to the venue.
type Exchange interface {
	strategy.CloseSource
	OrderVenue
	AvailableBalance(ctx context.Context) (float64, error)
	Positions(ctx context.Context) (json.RawMessage, error)
}

type Deps struct {
	Exchange Exchange
	Decider  llm.Decider
	Repo     *repository.StateRepo
	Events   events.Publisher
	Notify   notifications.Notifier
	Logger   *zap.Logger
}

type Options struct {
	Executor   ExecutorOptions
	LLMTimeout time.Duration
}

type TickOptions struct {
	// Override runs the tick even when trading is stopped.
	Override bool
}

type TickResult struct {
	OK           bool                `json:"ok"`
	Skipped      string              `json:"skipped,omitempty"`
	Decision     *models.Decision    `json:"decision,omitempty"`
	Order        *models.OrderRecord `json:"order,omitempty"`
	OrderSkipped string              `json:"orderSkipped,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Engine runs ticks. It is safe for concurrent use; overlapping ticks share
// one runtime lock so only one can be inside the order section.
type Engine struct {
	exchange Exchange
	repo     *repository.StateRepo
	decision *strategy.Engine
	executor *Executor
	runtime  *runtimeGuard
	events   events.Publisher
	notify   notifications.Notifier
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

func NewEngine(deps Deps, opts Options) *Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pub := deps.Events
	if pub == nil {
		pub = nopPublisher{}
	}
	notify := deps.Notify
	if notify == nil {
		notify = notifications.NewSender("", "", log)
	}
	if opts.Executor.Cooldown <= 0 {
		opts.Executor.Cooldown = 10 * time.Minute
	}

	guard := &runtimeGuard{repo: deps.Repo}
	e := &Engine{
		exchange: deps.Exchange,
		repo:     deps.Repo,
		runtime:  guard,
		events:   pub,
		notify:   notify,
		log:      log,
		tracer:   otel.Tracer("trahn-perps/bot"),
		now:      time.Now,
	}
	e.decision = strategy.NewEngine(deps.Exchange, deps.Decider, strategy.Options{
		LLMTimeout: opts.LLMTimeout,
		Now:        func() time.Time { return e.now() },
	}, log.Named("decision"))
	e.executor = &Executor{
		venue:   deps.Exchange,
		repo:    deps.Repo,
		runtime: guard,
		events:  pub,
		notify:  notify,
		opts:    opts.Executor,
		log:     log.Named("executor"),
		now:     func() time.Time { return e.now() },
	}
	return e
}

func (e *Engine) Repo() *repository.StateRepo { return e.repo }

// Tick runs one pass. It never panics and never returns an error; failures
// are recorded on the runtime document and in the log ring.
func (e *Engine) Tick(ctx context.Context, opts TickOptions) (res TickResult) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tick", trace.WithAttributes(attribute.Bool("override", opts.Override)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tick panic", zap.Any("panic", r), zap.Stack("stack"))
			res = e.fail(ctx, fmt.Errorf("panic: %v", r))
		}
		if !res.OK {
			span.SetStatus(codes.Error, res.Error)
		}
		metrics.TickDuration.Observe(time.Since(start).Seconds())
		metrics.Ticks.WithLabelValues(tickOutcome(res)).Inc()
	}()

	res, err := e.tick(ctx, opts)
	if err != nil {
		span.RecordError(err)
		return e.fail(ctx, err)
	}
	return res
}

func (e *Engine) tick(ctx context.Context, opts TickOptions) (TickResult, error) {
	cfg, err := e.repo.LoadConfig(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Running() && !opts.Override {
		e.log.Debug("tick skipped, trading stopped")
		return TickResult{OK: true, Skipped: SkipStopped}, nil
	}

	balance, balanceOK, err := e.balance(ctx)
	if err != nil {
		return TickResult{}, err
	}
	positions, err := e.positions(ctx)
	if err != nil {
		return TickResult{}, err
	}

	out := e.decision.Decide(ctx, strategy.Input{
		Config:           cfg,
		AvailableBalance: balance,
		Positions:        positions,
	})
	d := out.Decision

	if out.Prompt != "" {
		if _, err := e.repo.AppendLog(ctx, models.LogEntry{
			Type: models.LogPrompt,
			Data: map[string]any{"provider": d.Provider, "model": d.Model, "prompt": out.Prompt},
		}); err != nil {
			return TickResult{}, fmt.Errorf("append prompt log: %w", err)
		}
	}
	if _, err := e.repo.AppendLog(ctx, models.LogEntry{Type: models.LogDecision, Data: decisionData(d)}); err != nil {
		return TickResult{}, fmt.Errorf("append decision log: %w", err)
	}
	e.events.Publish(events.TypeDecision, d)
	e.log.Info("decision",
		zap.String("action", d.Action),
		zap.String("symbol", d.Symbol),
		zap.Float64("size_usd", d.SizeUSD),
		zap.String("source", d.Source),
		zap.String("provider", d.Provider),
	)

	res := TickResult{OK: true, Decision: &d}

	if d.Actionable() {
		equity := balance
		if !balanceOK {
			equity = math.NaN()
		}
		order, err := e.executor.Execute(ctx, cfg, d, equity)
		if err != nil {
			return TickResult{}, fmt.Errorf("execute order: %w", err)
		}
		res.Order = order.Record
		res.OrderSkipped = order.Skipped
	}

	now := e.now().UTC()
	if balanceOK {
		if err := e.repo.AppendEquity(ctx, models.EquitySample{At: now, EquityUSD: balance}); err != nil {
			return TickResult{}, fmt.Errorf("append equity: %w", err)
		}
		metrics.EquityUSD.Set(balance)
	}
	if positions != nil {
		if err := e.repo.SavePositions(ctx, models.PositionSnapshot{At: now, Positions: positions}); err != nil {
			return TickResult{}, fmt.Errorf("save positions: %w", err)
		}
	}

	err = e.runtime.update(ctx, func(rt *models.Runtime) (bool, error) {
		rt.LastTickAt = &now
		rt.LastError = nil
		rt.LastProvider = d.Provider
		rt.LastModel = d.Model
		return true, nil
	})
	if err != nil {
		return TickResult{}, err
	}

	e.events.Publish(events.TypeTick, res)
	return res, nil
}

// balance returns the available balance. Upstream failures degrade to zero;
// only configuration errors are fatal.
func (e *Engine) balance(ctx context.Context) (float64, bool, error) {
	bal, err := e.exchange.AvailableBalance(ctx)
	if err == nil {
		return bal, true, nil
	}
	if signer.IsConfigError(err) {
		return 0, false, fmt.Errorf("available balance: %w", err)
	}
	e.log.Warn("available balance unavailable, using 0", zap.Error(err))
	return 0, false, nil
}

func (e *Engine) positions(ctx context.Context) (json.RawMessage, error) {
	raw, err := e.exchange.Positions(ctx)
	if err == nil {
		return raw, nil
	}
	if signer.IsConfigError(err) {
		return nil, fmt.Errorf("positions: %w", err)
	}
	e.log.Warn("positions unavailable", zap.Error(err))
	return nil, nil
}

// fail records err as the tick's outcome. Store failures while recording are
// only logged.
func (e *Engine) fail(ctx context.Context, err error) TickResult {
	msg := err.Error()
	e.log.Error("tick failed", zap.Error(err))

	now := e.now().UTC()
	uerr := e.runtime.update(ctx, func(rt *models.Runtime) (bool, error) {
		rt.LastTickAt = &now
		rt.LastError = &msg
		return true, nil
	})
	if uerr != nil {
		e.log.Error("record tick error on runtime", zap.Error(uerr))
	}
	if _, lerr := e.repo.AppendLog(ctx, models.LogEntry{
		Type: models.LogError,
		Data: map[string]any{"error": msg},
	}); lerr != nil {
		e.log.Error("append error log", zap.Error(lerr))
	}
	e.events.Publish(events.TypeError, map[string]string{"error": msg})
	return TickResult{OK: false, Error: msg}
}

func tickOutcome(res TickResult) string {
	switch {
	case !res.OK:
		return "error"
	case res.Skipped != "":
		return "skipped"
	case res.Order != nil && res.Order.OK:
		return "ordered"
	default:
		return "ok"
	}
}

func decisionData(d models.Decision) map[string]any {
	data := map[string]any{
		"id":       d.ID,
		"action":   d.Action,
		"symbol":   d.Symbol,
		"sizeUsd":  d.SizeUSD,
		"notes":    d.Notes,
		"provider": d.Provider,
		"model":    d.Model,
		"source":   d.Source,
	}
	if len(d.Indicators) > 0 {
		data["indicators"] = d.Indicators
	}
	return data
}
