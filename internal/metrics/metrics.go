// Package metrics holds the Prometheus collectors updated by the tick engine.
// They are registered on the default registry in init and served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_ticks_total",
			Help: "Tick orchestrator passes by outcome (ok|ordered|skipped|error)",
		},
		[]string{"outcome"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_decisions_total",
			Help: "Decisions taken",
		},
		[]string{"action", "source"},
	)

	// result is one of placed|failed|cooldown|below_min|blocked|dry_run
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_orders_total",
			Help: "Order executor outcomes",
		},
		[]string{"side", "result"},
	)

	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perps_equity_usd",
			Help: "Latest available balance in USD",
		},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_llm_calls_total",
			Help: "Language model decide calls",
		},
		[]string{"provider", "result"},
	)

	SignerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_signer_attempts_total",
			Help: "Exchange requests by auth scheme and HTTP status class",
		},
		[]string{"scheme", "status"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "perps_tick_duration_seconds",
			Help:    "Wall time of one tick",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(Ticks, Decisions, Orders, EquityUSD, LLMCalls, SignerAttempts, TickDuration)
}

// StatusClass buckets an HTTP status for low-cardinality labels.
func StatusClass(status int) string {
	switch {
	case status == 404:
		return "404"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	case status == 0:
		return "error"
	default:
		return "other"
	}
}
