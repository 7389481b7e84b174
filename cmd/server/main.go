package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/api"
	"github.com/kjannette/trahn-perps/internal/bot"
	"github.com/kjannette/trahn-perps/internal/config"
	"github.com/kjannette/trahn-perps/internal/db"
	"github.com/kjannette/trahn-perps/internal/events"
	"github.com/kjannette/trahn-perps/internal/exchange"
	"github.com/kjannette/trahn-perps/internal/llm"
	"github.com/kjannette/trahn-perps/internal/logging"
	"github.com/kjannette/trahn-perps/internal/notifications"
	"github.com/kjannette/trahn-perps/internal/repository"
	"github.com/kjannette/trahn-perps/internal/scheduler"
	"github.com/kjannette/trahn-perps/internal/signer"
)

const banner = `
╔══════════════════════════════════════╗
║     TRAHN Perps Tick Engine v0.3     ║
║                                      ║
╚══════════════════════════════════════╝
`

var version = "0.3.0"

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	shutdownTracing, err := logging.InitTracing(cfg.TracingEnabled, version)
	if err != nil {
		log.Fatal("tracing init", zap.Error(err))
	}

	// State store
	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal("state store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer closeStore()

	defaults, err := cfg.TradingDefaults()
	if err != nil {
		log.Fatal("trading defaults", zap.Error(err))
	}
	repo := repository.NewStateRepo(store, defaults)

	// Exchange
	sgn, err := signer.New(signer.Options{
		BaseURL: cfg.ExchangeBaseURL,
		Credentials: signer.Credentials{
			PrivateKey: cfg.WalletPrivateKey,
			APIKey:     cfg.ExchangeAPIKey,
			APISecret:  cfg.ExchangeAPISecret,
		},
		Timeout:    cfg.HTTPTimeout,
		RecvWindow: cfg.RecvWindow,
		Logger:     log,
	})
	if err != nil {
		log.Fatal("signer", zap.Error(err))
	}
	ex := exchange.NewClient(sgn, exchange.Options{
		Interval:    cfg.KlineInterval,
		CandleLimit: cfg.KlineLimit,
		QuoteAsset:  cfg.QuoteAsset,
	}, log)

	// Language model
	var decider llm.Decider
	if d, err := llm.New(llm.Config{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		BaseURL:  cfg.LLMBaseURL,
		Model:    cfg.LLMModel,
		Timeout:  cfg.LLMTimeout,
	}, log); err == nil {
		decider = d
		fmt.Printf("[LLM] Provider: %s\n", d.Provider())
	} else if errors.Is(err, llm.ErrNotConfigured) {
		fmt.Println("[LLM] Skipped - no LLM_API_KEY configured")
	} else {
		log.Fatal("language model", zap.Error(err))
	}

	hub := events.NewHub(log)
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)

	engine := bot.NewEngine(bot.Deps{
		Exchange: ex,
		Decider:  decider,
		Repo:     repo,
		Events:   hub,
		Notify:   notify,
		Logger:   log,
	}, bot.Options{
		Executor: bot.ExecutorOptions{
			Cooldown:       cfg.OrderCooldown,
			MinNotionalUSD: cfg.MinNotionalUSD,
			QtyPrecision:   cfg.QtyPrecision,
			DryRun:         cfg.DryRun,
		},
		LLMTimeout: cfg.LLMTimeout,
	})
	svc := bot.NewService(engine)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. API server
	srv := api.NewServer(api.Options{
		Port:            cfg.Port,
		AdminToken:      cfg.AdminToken,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		Service:         svc,
		Exchange:        ex,
		Store:           store,
		Events:          hub,
		Logger:          log,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	// 2. Tick scheduler
	var ticks *scheduler.TickScheduler
	if cfg.SchedulerEnabled {
		ticks = scheduler.NewTickScheduler(svc, scheduler.Config{
			Spec:          cfg.TickSchedule,
			IgnoreStopped: cfg.SchedulerIgnoreStopped,
			Timeout:       cfg.TickTimeout,
		}, log)
		if err := ticks.Start(ctx); err != nil {
			log.Fatal("scheduler", zap.Error(err))
		}
		fmt.Printf("[SCHEDULER] Ticking on %q\n", cfg.TickSchedule)
	} else {
		fmt.Println("[SCHEDULER] Skipped - SCHEDULER_ENABLED=false, use POST /tick")
	}

	fmt.Println("\nAll services started successfully")

	// Wait for shutdown signal
	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	if ticks != nil {
		ticks.Stop()
		fmt.Println("[SCHEDULER] Stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")

	if err := shutdownTracing(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[TRACE] Shutdown error: %v\n", err)
	}
	fmt.Println("Shutdown complete")
}

// openStore connects the configured backend. The returned close func is
// always safe to call.
func openStore(cfg *config.Config) (repository.DocumentStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		fmt.Printf("\n[DB] Connecting to %s:%d/%s ...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		pool, err := db.Connect(cfg.DSN())
		if err != nil {
			return nil, func() {}, err
		}
		closeFn := func() {
			pool.Close()
			fmt.Println("[DB] Connection pool closed")
		}
		now, err := db.TestConnection(pool)
		if err != nil {
			closeFn()
			return nil, func() {}, err
		}
		fmt.Printf("[DB] Connected (server time %s)\n", now.UTC().Format(time.RFC3339))

		pg := repository.NewPostgresStore(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			closeFn()
			return nil, func() {}, fmt.Errorf("ensure schema: %w", err)
		}
		return pg, closeFn, nil

	case config.StoreRedis:
		fmt.Println("\n[REDIS] Connecting ...")
		client, err := db.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, func() {}, err
		}
		return repository.NewRedisStore(client, cfg.RedisPrefix), func() {
			client.Close()
			fmt.Println("[REDIS] Connection closed")
		}, nil
	}

	fmt.Println("\n[STORE] Using in-memory state (lost on restart)")
	return repository.NewMemoryStore(), func() {}, nil
}
