package models

import (
	"slices"
	"strings"
	"time"
)

const (
	StatusRunning = "running"
	StatusStopped = "stopped"

	MarginCross    = "cross"
	MarginIsolated = "isolated"
)

// TradingConfig holds the operator-controlled trading parameters.
// It is seeded with defaults on first read and only changes through
// the authenticated run/stop endpoints.
type TradingConfig struct {
	Status             string    `json:"status" yaml:"status"`
	Universe           []string  `json:"universe" yaml:"universe"`
	MaxRiskPerTradeUSD float64   `json:"maxRiskPerTradeUsd" yaml:"maxRiskPerTradeUsd"`
	MaxDailyLossUSD    float64   `json:"maxDailyLossUsd" yaml:"maxDailyLossUsd"`
	MaxExposureUSD     float64   `json:"maxExposureUsd" yaml:"maxExposureUsd"`
	LeverageCap        float64   `json:"leverageCap" yaml:"leverageCap"`
	MarginMode         string    `json:"marginMode" yaml:"marginMode"`
	Model              string    `json:"model" yaml:"model"`
	UpdatedAt          time.Time `json:"updatedAt" yaml:"-"`
}

func DefaultTradingConfig(model string) TradingConfig {
	return TradingConfig{
		Status:             StatusStopped,
		Universe:           []string{"BTCUSDT", "ETHUSDT"},
		MaxRiskPerTradeUSD: 50,
		MaxDailyLossUSD:    200,
		MaxExposureUSD:     500,
		LeverageCap:        3,
		MarginMode:         MarginCross,
		Model:              model,
	}
}

func (c TradingConfig) Running() bool {
	return c.Status == StatusRunning
}

func (c TradingConfig) InUniverse(symbol string) bool {
	return slices.Contains(c.Universe, symbol)
}

// ConfigPatch is the subset of TradingConfig accepted by POST /run.
// Nil fields leave the stored value untouched.
type ConfigPatch struct {
	Universe           []string `json:"universe,omitempty"`
	MaxRiskPerTradeUSD *float64 `json:"maxRiskPerTradeUsd,omitempty"`
	MaxDailyLossUSD    *float64 `json:"maxDailyLossUsd,omitempty"`
	MaxExposureUSD     *float64 `json:"maxExposureUsd,omitempty"`
	LeverageCap        *float64 `json:"leverageCap,omitempty"`
	MarginMode         *string  `json:"marginMode,omitempty"`
	Model              *string  `json:"model,omitempty"`
}

// Apply merges p into c. Empty universes and unknown margin modes are ignored
// so the stored config always stays valid.
func (p ConfigPatch) Apply(c TradingConfig) TradingConfig {
	if u := NormalizeUniverse(p.Universe); len(u) > 0 {
		c.Universe = u
	}
	if p.MaxRiskPerTradeUSD != nil && *p.MaxRiskPerTradeUSD >= 0 {
		c.MaxRiskPerTradeUSD = *p.MaxRiskPerTradeUSD
	}
	if p.MaxDailyLossUSD != nil && *p.MaxDailyLossUSD >= 0 {
		c.MaxDailyLossUSD = *p.MaxDailyLossUSD
	}
	if p.MaxExposureUSD != nil && *p.MaxExposureUSD >= 0 {
		c.MaxExposureUSD = *p.MaxExposureUSD
	}
	if p.LeverageCap != nil && *p.LeverageCap > 0 {
		c.LeverageCap = *p.LeverageCap
	}
	if p.MarginMode != nil && (*p.MarginMode == MarginCross || *p.MarginMode == MarginIsolated) {
		c.MarginMode = *p.MarginMode
	}
	if p.Model != nil && *p.Model != "" {
		c.Model = *p.Model
	}
	return c
}

// NormalizeUniverse trims and upper-cases symbols, drops blanks and keeps the
// first occurrence of each. The result may be empty.
func NormalizeUniverse(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Runtime is the volatile execution snapshot, overwritten every tick.
type Runtime struct {
	LastTickAt   *time.Time `json:"lastTickAt"`
	LastError    *string    `json:"lastError"`
	LastProvider string     `json:"lastProvider,omitempty"`
	LastModel    string     `json:"lastModel,omitempty"`
	LastOrderAt  *time.Time `json:"lastOrderAt"`
	LastSignal   *Signal    `json:"lastSignal,omitempty"`
}

// Signal records the decision that produced the most recent order.
type Signal struct {
	Action  string    `json:"action"`
	Symbol  string    `json:"symbol"`
	SizeUSD float64   `json:"sizeUsd"`
	At      time.Time `json:"at"`
}
