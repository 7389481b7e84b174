package models

import (
	"encoding/json"
	"time"
)

const (
	LogPrompt     = "prompt"
	LogDecision   = "decision"
	LogOrder      = "order"
	LogOrderError = "order_error"
	LogError      = "error"
	LogStatus     = "status"
)

const (
	MaxLogEntries    = 500
	MaxEquitySamples = 1440
)

type EquitySample struct {
	At        time.Time `json:"at"`
	EquityUSD float64   `json:"equityUsd"`
}

type LogEntry struct {
	ID   string         `json:"id"`
	At   time.Time      `json:"at"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// PositionSnapshot is the latest raw position payload pulled from the exchange.
type PositionSnapshot struct {
	At        time.Time       `json:"at"`
	Positions json.RawMessage `json:"positions"`
}
