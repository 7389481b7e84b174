package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/bot"
)

const DefaultSpec = "@every 60s"

// Ticker is the orchestrator entry point the scheduler drives.
type Ticker interface {
	Tick(ctx context.Context, opts bot.TickOptions) bot.TickResult
}

type Config struct {
	// Spec is a robfig/cron schedule, e.g. "@every 60s" or "0 * * * * *".
	Spec string
	// IgnoreStopped runs scheduled ticks with the override set.
	IgnoreStopped bool
	// Timeout bounds one scheduled tick.
	Timeout    time.Duration
	RunOnStart bool
}

type TickScheduler struct {
	ticker Ticker
	cfg    Config
	log    *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewTickScheduler(t Ticker, cfg Config, log *zap.Logger) *TickScheduler {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TickScheduler{ticker: t, cfg: cfg, log: log}
}

// Start parses the schedule and begins ticking. Overlapping runs are skipped.
func (s *TickScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Info("scheduler already running")
		return nil
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	if _, err := c.AddFunc(s.cfg.Spec, s.runScheduled); err != nil {
		return fmt.Errorf("parse tick schedule %q: %w", s.cfg.Spec, err)
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron = c
	s.running = true
	c.Start()

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runScheduled()
		}()
	}
	s.log.Info("scheduler started",
		zap.String("schedule", s.cfg.Spec),
		zap.Bool("ignore_stopped", s.cfg.IgnoreStopped),
	)
	return nil
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (s *TickScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *TickScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers a tick outside the normal schedule with the scheduler's
// override policy.
func (s *TickScheduler) RunNow(ctx context.Context) bot.TickResult {
	s.log.Info("manual scheduled tick triggered")
	return s.run(ctx)
}

func (s *TickScheduler) runScheduled() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.run(ctx)
}

func (s *TickScheduler) run(ctx context.Context) bot.TickResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res := s.ticker.Tick(ctx, bot.TickOptions{Override: s.cfg.IgnoreStopped})
	switch {
	case !res.OK:
		s.log.Warn("scheduled tick failed", zap.String("error", res.Error))
	case res.Skipped != "":
		s.log.Debug("scheduled tick skipped", zap.String("reason", res.Skipped))
	default:
		s.log.Debug("scheduled tick done")
	}
	return res
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
