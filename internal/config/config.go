package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjannette/trahn-perps/internal/models"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	// HTTP
	Port            int    `env:"PORT" envDefault:"3001"`
	AdminToken      string `env:"ADMIN_TOKEN"`
	CORSAllowOrigin string `env:"CORS_ALLOW_ORIGIN" envDefault:"*"`

	// Exchange
	ExchangeBaseURL   string        `env:"EXCHANGE_BASE_URL" envDefault:"https://fapi.binance.com"`
	WalletPrivateKey  string        `env:"WALLET_PRIVATE_KEY"`
	ExchangeAPIKey    string        `env:"EXCHANGE_API_KEY"`
	ExchangeAPISecret string        `env:"EXCHANGE_API_SECRET"`
	QuoteAsset        string        `env:"QUOTE_ASSET" envDefault:"USDT"`
	KlineInterval     string        `env:"KLINE_INTERVAL" envDefault:"1m"`
	KlineLimit        int           `env:"KLINE_LIMIT" envDefault:"100"`
	RecvWindow        int           `env:"RECV_WINDOW" envDefault:"5000"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	// Language model
	LLMProvider string        `env:"LLM_PROVIDER"`
	LLMAPIKey   string        `env:"LLM_API_KEY"`
	LLMBaseURL  string        `env:"LLM_BASE_URL"`
	LLMModel    string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMTimeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`

	// Orders
	OrderCooldown  time.Duration `env:"ORDER_COOLDOWN" envDefault:"10m"`
	MinNotionalUSD float64       `env:"MIN_NOTIONAL_USD" envDefault:"5"`
	QtyPrecision   int32         `env:"QTY_PRECISION" envDefault:"3"`
	DryRun         bool          `env:"DRY_RUN" envDefault:"false"`

	// Scheduler
	SchedulerEnabled       bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	TickSchedule           string        `env:"TICK_SCHEDULE" envDefault:"@every 60s"`
	TickTimeout            time.Duration `env:"TICK_TIMEOUT" envDefault:"90s"`
	SchedulerIgnoreStopped bool          `env:"SCHEDULER_IGNORE_STOPPED" envDefault:"true"`

	// State store
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`
	DBHost       string `env:"DB_HOST" envDefault:"localhost"`
	DBPort       int    `env:"DB_PORT" envDefault:"5432"`
	DBName       string `env:"DB_NAME" envDefault:"trahn_perps"`
	DBUser       string `env:"DB_USER"`
	DBPassword   string `env:"DB_PASSWORD"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPrefix  string `env:"REDIS_PREFIX" envDefault:"trahn-perps:"`

	TradingDefaultsFile string `env:"TRADING_DEFAULTS_FILE"`

	// Notifications
	WebhookURL string `env:"WEBHOOK_URL"`
	BotName    string `env:"BOT_NAME" envDefault:"TrahnPerps"`

	// Observability
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"json"`
	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.ExchangeBaseURL == "" {
		errs = append(errs, "EXCHANGE_BASE_URL is required")
	}
	if (c.ExchangeAPIKey == "") != (c.ExchangeAPISecret == "") {
		errs = append(errs, "EXCHANGE_API_KEY and EXCHANGE_API_SECRET must be set together")
	}
	switch c.StoreBackend {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND %q must be memory, postgres or redis", c.StoreBackend))
	}
	if c.QtyPrecision < 0 || c.QtyPrecision > 8 {
		errs = append(errs, "QTY_PRECISION must be between 0 and 8")
	}
	if c.MinNotionalUSD < 0 {
		errs = append(errs, "MIN_NOTIONAL_USD must not be negative")
	}

	if c.WalletPrivateKey == "" && c.ExchangeAPIKey == "" {
		fmt.Println("[WARN] No exchange credentials set - private endpoints will fail and /balances returns 400")
	}
	if c.ExchangeAPIKey == "" && !c.DryRun {
		fmt.Println("[WARN] EXCHANGE_API_KEY not set - order placement will fail (orders need the API-key signature)")
	}
	if c.LLMAPIKey == "" {
		fmt.Println("[WARN] LLM_API_KEY not set - ambiguous signals stay FLAT")
	}
	if c.AdminToken == "" {
		fmt.Println("[WARN] ADMIN_TOKEN not set - admin endpoints have no authentication")
	}
	if c.StoreBackend == StoreMemory {
		fmt.Println("[WARN] STORE_BACKEND=memory - config, logs and equity are lost on restart")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Perps Tick Engine Configuration ===")

	if c.DryRun {
		fmt.Println("════════════════════════════════════════")
		fmt.Println("  DRY RUN MODE ENABLED")
		fmt.Println("  Orders are recorded, never submitted")
		fmt.Println("════════════════════════════════════════")
	} else {
		fmt.Println("  LIVE TRADING MODE")
	}

	fmt.Println("--------------------------------------")
	fmt.Printf("Exchange: %s\n", c.ExchangeBaseURL)
	fmt.Printf("  Wallet signing: %s\n", boolLabel(c.WalletPrivateKey != "", "configured", "not set"))
	fmt.Printf("  API key: %s\n", mask(c.ExchangeAPIKey))
	fmt.Printf("  Klines: %s x %d, quote %s\n", c.KlineInterval, c.KlineLimit, c.QuoteAsset)
	fmt.Printf("  HTTP timeout: %s\n", c.HTTPTimeout)
	fmt.Println("--------------------------------------")
	fmt.Println("Orders:")
	fmt.Printf("  Cooldown: %s\n", c.OrderCooldown)
	fmt.Printf("  Min notional: $%.2f\n", c.MinNotionalUSD)
	fmt.Printf("  Qty precision: %d\n", c.QtyPrecision)
	fmt.Println("--------------------------------------")
	fmt.Println("Language model:")
	fmt.Printf("  Model: %s\n", c.LLMModel)
	fmt.Printf("  API key: %s\n", mask(c.LLMAPIKey))
	fmt.Printf("  Timeout: %s\n", c.LLMTimeout)
	fmt.Println("--------------------------------------")
	fmt.Println("Scheduler:")
	fmt.Printf("  Enabled: %v\n", c.SchedulerEnabled)
	fmt.Printf("  Schedule: %s\n", c.TickSchedule)
	fmt.Printf("  Ignore stopped: %v\n", c.SchedulerIgnoreStopped)
	fmt.Println("--------------------------------------")
	fmt.Printf("State store: %s\n", c.StoreBackend)
	if c.TradingDefaultsFile != "" {
		fmt.Printf("Trading defaults: %s\n", c.TradingDefaultsFile)
	}
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("======================================")
}

// DSN prefers DATABASE_URL and otherwise assembles one from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// TradingDefaults returns the config seeded on first read, overlaid with
// TRADING_DEFAULTS_FILE when set.
func (c *Config) TradingDefaults() (models.TradingConfig, error) {
	defaults := models.DefaultTradingConfig(c.LLMModel)
	if c.TradingDefaultsFile == "" {
		return defaults, nil
	}
	return LoadTradingDefaults(c.TradingDefaultsFile, defaults)
}

// LoadTradingDefaults overlays the YAML file at path onto base. Fields absent
// from the file keep base's values; the status always starts stopped.
func LoadTradingDefaults(path string, base models.TradingConfig) (models.TradingConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read trading defaults: %w", err)
	}
	out := base
	if err := yaml.Unmarshal(b, &out); err != nil {
		return base, fmt.Errorf("parse trading defaults %s: %w", path, err)
	}
	out.Universe = models.NormalizeUniverse(out.Universe)
	if len(out.Universe) == 0 {
		return base, fmt.Errorf("trading defaults %s: universe cannot be empty", path)
	}
	if out.MarginMode != models.MarginCross && out.MarginMode != models.MarginIsolated {
		return base, fmt.Errorf("trading defaults %s: marginMode must be cross or isolated, got %q", path, out.MarginMode)
	}
	out.Status = models.StatusStopped
	return out, nil
}

// --- helpers ---

func mask(secret string) string {
	if secret == "" {
		return "not set"
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
