// Package llm asks a language model for a trade decision when the indicator
// scan is inconclusive. Output is parsed leniently and never trusted: the
// strategy package validates every field against the configured universe.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/models"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var ErrNotConfigured = errors.New("language model API key not configured")

// Limits are the risk parameters passed to the model as context.
type Limits struct {
	MaxRiskPerTradeUSD float64 `json:"maxRiskPerTradeUsd"`
	MaxDailyLossUSD    float64 `json:"maxDailyLossUsd"`
	MaxExposureUSD     float64 `json:"maxExposureUsd"`
	LeverageCap        float64 `json:"leverageCap"`
	MarginMode         string  `json:"marginMode"`
}

type Request struct {
	Model            string              `json:"-"`
	Universe         []string            `json:"universe"`
	AvailableBalance float64             `json:"availableBalanceUsd"`
	Positions        json.RawMessage     `json:"positions,omitempty"`
	Indicators       []models.Indicators `json:"indicators,omitempty"`
	Limits           Limits              `json:"limits"`
}

// Result is the model's raw verdict before validation.
type Result struct {
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	SizeUSD  float64 `json:"sizeUsd"`
	Notes    string  `json:"notes"`
	Provider string  `json:"-"`
	Model    string  `json:"-"`
	Prompt   string  `json:"-"`
	Raw      string  `json:"-"`
}

type Decider interface {
	Decide(ctx context.Context, req Request) (Result, error)
	Provider() string
}

type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// New picks a provider from cfg.Provider, falling back to the model name
// prefix ("claude" selects Anthropic).
func New(cfg Config, log *zap.Logger) (Decider, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderOpenAI
		if strings.HasPrefix(strings.ToLower(cfg.Model), "claude") {
			provider = ProviderAnthropic
		}
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg, log), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

const systemPrompt = `You are a risk-aware perpetual futures trading assistant.
Reply with a single JSON object and nothing else:
{"action":"LONG|SHORT|FLAT","symbol":"<one of the universe symbols>","sizeUsd":<number>,"notes":"<short reason>"}
Prefer FLAT when the edge is unclear. Never exceed maxExposureUsd.`

// BuildPrompt renders the system and user messages for req.
func BuildPrompt(req Request) (system, user string) {
	body, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		body = []byte("{}")
	}
	return systemPrompt, "Current account state and limits:\n" + string(body)
}

// ParseResult extracts the first JSON object from text. Unparseable output
// yields a FLAT result rather than an error.
func ParseResult(text string) Result {
	t := strings.TrimSpace(text)
	if r, ok := decodeResult(t); ok {
		return r
	}
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		if r, ok := decodeResult(t[start : end+1]); ok {
			return r
		}
	}
	return Result{Action: models.ActionFlat, Notes: "unable to parse model output"}
}

func decodeResult(s string) (Result, bool) {
	if !strings.HasPrefix(s, "{") {
		return Result{}, false
	}
	var wire struct {
		Action  string          `json:"action"`
		Symbol  string          `json:"symbol"`
		SizeUSD json.RawMessage `json:"sizeUsd"`
		Notes   string          `json:"notes"`
	}
	if err := json.Unmarshal([]byte(s), &wire); err != nil {
		return Result{}, false
	}
	return Result{
		Action:  strings.ToUpper(strings.TrimSpace(wire.Action)),
		Symbol:  strings.ToUpper(strings.TrimSpace(wire.Symbol)),
		SizeUSD: parseSize(wire.SizeUSD),
		Notes:   wire.Notes,
	}, true
}

// parseSize accepts bare or quoted numbers; anything else becomes NaN and is
// zeroed by the clamp.
func parseSize(raw json.RawMessage) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
