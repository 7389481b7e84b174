package risk

import (
	"math"
	"time"
)

// SignalFraction is the share of available balance committed by an
// indicator-resolved decision.
const SignalFraction = 0.10

// ClampSignalSize returns min(maxRisk, max(0, floor(balance*SignalFraction))).
func ClampSignalSize(balance, maxRisk float64) float64 {
	size := math.Floor(balance * SignalFraction)
	if math.IsNaN(size) || size < 0 {
		size = 0
	}
	return math.Min(maxRisk, size)
}

// ClampLLMSize returns min(parsed, maxExposure), floored at zero. Non-finite
// model output is treated as zero.
func ClampLLMSize(parsed, maxExposure float64) float64 {
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return math.Max(0, math.Min(parsed, maxExposure))
}

// CooldownActive reports whether an order placed at last still blocks a new
// order at now.
func CooldownActive(last *time.Time, now time.Time, window time.Duration) bool {
	if last == nil || window <= 0 {
		return false
	}
	return now.Sub(*last) < window
}
