package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/events"
	"github.com/kjannette/trahn-perps/internal/exchange"
	"github.com/kjannette/trahn-perps/internal/metrics"
	"github.com/kjannette/trahn-perps/internal/models"
	"github.com/kjannette/trahn-perps/internal/notifications"
	"github.com/kjannette/trahn-perps/internal/repository"
	"github.com/kjannette/trahn-perps/internal/risk"
	"github.com/kjannette/trahn-perps/internal/signer"
)

// Reasons an actionable decision did not produce an order submission.
const (
	SkipCooldown    = "cooldown"
	SkipBelowMin    = "below_min_notional"
	SkipRiskBlocked = "risk_blocked"
)

// OrderVenue is the part of the exchange client the executor submits through.
type OrderVenue interface {
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, o exchange.OrderRequest) (*signer.Response, error)
}

type ExecutorOptions struct {
	Cooldown       time.Duration
	MinNotionalUSD float64
	QtyPrecision   int32
	DryRun         bool
}

// OrderOutcome is what became of one actionable decision. Record is nil when
// the order was skipped before submission.
type OrderOutcome struct {
	Record  *models.OrderRecord
	Skipped string
}

const runtimeSaveTimeout = 5 * time.Second

// runtimeGuard serialises every read-modify-write of the runtime document.
// lastOrderAt mirrors the newest successful order in memory so the cooldown
// holds within the process even if a runtime save is lost.
type runtimeGuard struct {
	mu          sync.Mutex
	repo        *repository.StateRepo
	lastOrderAt time.Time
}

// update loads the runtime, applies fn and saves it when fn reports a change.
// The save is detached from ctx cancellation: once fn has acted on the
// venue, its result must be written.
func (g *runtimeGuard) update(ctx context.Context, fn func(rt *models.Runtime) (bool, error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rt, err := g.repo.LoadRuntime(ctx)
	if err != nil {
		return fmt.Errorf("load runtime: %w", err)
	}
	changed, err := fn(&rt)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runtimeSaveTimeout)
	defer cancel()
	if err := g.repo.SaveRuntime(sctx, rt); err != nil {
		return fmt.Errorf("save runtime: %w", err)
	}
	return nil
}

// lastOrder returns the later of the stored and in-memory order times.
// Callers hold mu.
func (g *runtimeGuard) lastOrder(rt *models.Runtime) *time.Time {
	if rt.LastOrderAt != nil && !rt.LastOrderAt.Before(g.lastOrderAt) {
		return rt.LastOrderAt
	}
	if g.lastOrderAt.IsZero() {
		return nil
	}
	t := g.lastOrderAt
	return &t
}

type Executor struct {
	venue   OrderVenue
	repo    *repository.StateRepo
	runtime *runtimeGuard
	events  events.Publisher
	notify  notifications.Notifier
	opts    ExecutorOptions
	log     *zap.Logger
	now     func() time.Time
}

// Execute gates and submits one order for d. Only store failures are
// returned; every exchange-side failure is recorded as an order_error entry.
// equityUSD is NaN when the balance could not be fetched.
//
// The cooldown gate, submission and lastOrderAt write happen under the
// runtime lock; logging and notification run after it is released.
func (x *Executor) Execute(ctx context.Context, cfg models.TradingConfig, d models.Decision, equityUSD float64) (OrderOutcome, error) {
	var out OrderOutcome
	if !d.Actionable() {
		return out, nil
	}

	err := x.runtime.update(ctx, func(rt *models.Runtime) (bool, error) {
		now := x.now().UTC()
		if last := x.runtime.lastOrder(rt); risk.CooldownActive(last, now, x.opts.Cooldown) {
			x.log.Info("order skipped: cooldown active",
				zap.String("symbol", d.Symbol),
				zap.Timep("last_order_at", last),
			)
			metrics.Orders.WithLabelValues(d.Side(), "cooldown").Inc()
			out.Skipped = SkipCooldown
			return false, nil
		}

		guardian := risk.NewGuardian(risk.LimitsFrom(cfg, x.opts.MinNotionalUSD), x.repo)
		if err := guardian.PreTradeCheck(ctx, d.SizeUSD, equityUSD); err != nil {
			out.Skipped = x.skipReason(ctx, d, err)
			return false, nil
		}

		rec := x.submit(ctx, d, cfg.MaxRiskPerTradeUSD)
		if errors.Is(rec.err, risk.ErrMaxRisk) {
			out.Skipped = x.skipReason(ctx, d, rec.err)
			return false, nil
		}
		out.Record = rec.OrderRecord
		if !rec.OK {
			return false, nil
		}

		x.runtime.lastOrderAt = now
		rt.LastOrderAt = &now
		rt.LastSignal = &models.Signal{Action: d.Action, Symbol: d.Symbol, SizeUSD: d.SizeUSD, At: now}
		return true, nil
	})

	if out.Record != nil {
		if out.Record.OK {
			x.recordSuccess(ctx, out.Record)
		} else {
			x.recordFailure(ctx, out.Record)
		}
	}
	return out, err
}

type attempt struct {
	*models.OrderRecord
	err error
}

// submit prices, sizes and places the order. Exchange-side failures are
// carried on the record; err is set only when the rounded quantity breaches
// maxRisk and nothing was sent.
func (x *Executor) submit(ctx context.Context, d models.Decision, maxRisk float64) attempt {
	rec := &models.OrderRecord{
		Symbol:        d.Symbol,
		Side:          d.Side(),
		Notional:      d.SizeUSD,
		ClientOrderID: uuid.NewString(),
		DryRun:        x.opts.DryRun,
		At:            x.now().UTC(),
	}

	price, err := x.venue.TickerPrice(ctx, d.Symbol)
	if err != nil {
		rec.Error = fmt.Sprintf("ticker price: %v", err)
		return attempt{OrderRecord: rec}
	}
	rec.Price = price

	qty := Quantity(d.SizeUSD, price, x.opts.QtyPrecision)
	if qty.IsZero() {
		rec.Error = "quantity rounds to zero"
		return attempt{OrderRecord: rec}
	}
	rec.Qty = qty.String()
	rec.Notional = qty.Mul(decimal.NewFromFloat(price)).InexactFloat64()
	if maxRisk > 0 && rec.Notional > maxRisk {
		return attempt{OrderRecord: rec, err: fmt.Errorf("%w: one step of %s %s is $%.2f > $%.2f",
			risk.ErrMaxRisk, rec.Qty, rec.Symbol, rec.Notional, maxRisk)}
	}

	if x.opts.DryRun {
		rec.OK = true
		x.log.Info("dry run order",
			zap.String("symbol", rec.Symbol),
			zap.String("side", rec.Side),
			zap.String("qty", rec.Qty),
			zap.Float64("price", price),
		)
		metrics.Orders.WithLabelValues(rec.Side, "dry_run").Inc()
		return attempt{OrderRecord: rec}
	}

	resp, err := x.venue.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		Quantity:      rec.Qty,
		ClientOrderID: rec.ClientOrderID,
	})
	if resp != nil {
		rec.Status = resp.Status
		rec.Raw = string(resp.Body)
	}
	switch {
	case err != nil:
		rec.Error = err.Error()
	case !resp.OK():
		rec.Error = fmt.Sprintf("exchange returned HTTP %d", resp.Status)
	default:
		rec.OK = true
	}
	return attempt{OrderRecord: rec}
}

func (x *Executor) skipReason(ctx context.Context, d models.Decision, err error) string {
	if errors.Is(err, risk.ErrBelowMinNotional) {
		x.log.Info("order skipped: below minimum notional",
			zap.String("symbol", d.Symbol),
			zap.Float64("size_usd", d.SizeUSD),
		)
		metrics.Orders.WithLabelValues(d.Side(), "below_min").Inc()
		return SkipBelowMin
	}

	x.log.Warn("order blocked by risk guardian", zap.String("symbol", d.Symbol), zap.Error(err))
	metrics.Orders.WithLabelValues(d.Side(), "blocked").Inc()
	data := map[string]any{
		"symbol":  d.Symbol,
		"side":    d.Side(),
		"sizeUsd": d.SizeUSD,
		"reason":  err.Error(),
	}
	if _, lerr := x.repo.AppendLog(ctx, models.LogEntry{Type: models.LogOrderError, Data: data}); lerr != nil {
		x.log.Error("append order_error log", zap.Error(lerr))
	}
	x.events.Publish(events.TypeOrderError, data)
	return SkipRiskBlocked
}

// recordSuccess and recordFailure only report; the order has already been
// committed to the runtime, so their store errors are logged and dropped.
func (x *Executor) recordSuccess(ctx context.Context, rec *models.OrderRecord) {
	if !rec.DryRun {
		metrics.Orders.WithLabelValues(rec.Side, "placed").Inc()
	}
	x.log.Info("order placed",
		zap.String("symbol", rec.Symbol),
		zap.String("side", rec.Side),
		zap.String("qty", rec.Qty),
		zap.Float64("notional", rec.Notional),
		zap.String("client_order_id", rec.ClientOrderID),
		zap.Bool("dry_run", rec.DryRun),
	)
	if _, err := x.repo.AppendLog(ctx, models.LogEntry{Type: models.LogOrder, Data: orderData(rec)}); err != nil {
		x.log.Error("append order log", zap.String("client_order_id", rec.ClientOrderID), zap.Error(err))
	}
	x.events.Publish(events.TypeOrder, rec)

	prefix := "Order placed"
	if rec.DryRun {
		prefix = "Dry-run order"
	}
	x.notify.Send(ctx, fmt.Sprintf("%s: %s %s %s @ %.2f (~$%.2f)",
		prefix, rec.Side, rec.Qty, rec.Symbol, rec.Price, rec.Notional))
}

func (x *Executor) recordFailure(ctx context.Context, rec *models.OrderRecord) {
	metrics.Orders.WithLabelValues(rec.Side, "failed").Inc()
	x.log.Warn("order failed",
		zap.String("symbol", rec.Symbol),
		zap.String("side", rec.Side),
		zap.Int("status", rec.Status),
		zap.String("error", rec.Error),
	)
	if _, err := x.repo.AppendLog(ctx, models.LogEntry{Type: models.LogOrderError, Data: orderData(rec)}); err != nil {
		x.log.Error("append order_error log", zap.String("client_order_id", rec.ClientOrderID), zap.Error(err))
	}
	x.events.Publish(events.TypeOrderError, rec)
	x.notify.Send(ctx, fmt.Sprintf("Order failed: %s %s: %s", rec.Side, rec.Symbol, rec.Error))
}

// Quantity floors notional/price to precision decimal places, never going
// below one step.
func Quantity(notionalUSD, price float64, precision int32) decimal.Decimal {
	if notionalUSD <= 0 || price <= 0 {
		return decimal.Zero
	}
	qty := decimal.NewFromFloat(notionalUSD).
		Div(decimal.NewFromFloat(price)).
		Truncate(precision)
	if step := decimal.New(1, -precision); qty.LessThan(step) {
		return step
	}
	return qty
}

func orderData(rec *models.OrderRecord) map[string]any {
	data := map[string]any{
		"status":        rec.Status,
		"ok":            rec.OK,
		"symbol":        rec.Symbol,
		"side":          rec.Side,
		"qty":           rec.Qty,
		"notional":      rec.Notional,
		"price":         rec.Price,
		"clientOrderId": rec.ClientOrderID,
	}
	if rec.DryRun {
		data["dryRun"] = true
	}
	if rec.Raw != "" {
		data["raw"] = rec.Raw
	}
	if rec.Error != "" {
		data["error"] = rec.Error
	}
	return data
}
