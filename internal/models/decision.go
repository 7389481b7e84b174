package models

import (
	"time"
)

const (
	ActionLong  = "LONG"
	ActionShort = "SHORT"
	ActionFlat  = "FLAT"

	SourceSignal = "signal"
	SourceLLM    = "llm"

	SideBuy  = "BUY"
	SideSell = "SELL"
)

func ValidAction(a string) bool {
	return a == ActionLong || a == ActionShort || a == ActionFlat
}

// Indicators captures the values the signal scan saw for one symbol.
type Indicators struct {
	Symbol  string  `json:"symbol"`
	Close   float64 `json:"close"`
	FastSMA float64 `json:"fastSma"`
	SlowSMA float64 `json:"slowSma"`
	RSI     float64 `json:"rsi"`
}

// Decision is the immutable output of one tick's reasoning.
type Decision struct {
	ID         string       `json:"id"`
	At         time.Time    `json:"at"`
	Action     string       `json:"action"`
	Symbol     string       `json:"symbol"`
	SizeUSD    float64      `json:"sizeUsd"`
	Notes      string       `json:"notes,omitempty"`
	Provider   string       `json:"provider,omitempty"`
	Model      string       `json:"model,omitempty"`
	Source     string       `json:"source"`
	Indicators []Indicators `json:"indicators,omitempty"`
}

func (d Decision) Actionable() bool {
	return d.Action != ActionFlat && d.SizeUSD > 0
}

// Side maps a directional decision to an exchange order side.
func (d Decision) Side() string {
	if d.Action == ActionShort {
		return SideSell
	}
	return SideBuy
}

// OrderRecord is the result of one order submission attempt.
type OrderRecord struct {
	Status        int       `json:"status"`
	OK            bool      `json:"ok"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           string    `json:"qty"`
	Notional      float64   `json:"notional"`
	Price         float64   `json:"price"`
	ClientOrderID string    `json:"clientOrderId"`
	DryRun        bool      `json:"dryRun,omitempty"`
	Raw           string    `json:"raw,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}
