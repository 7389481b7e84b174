// Package indicator implements the moving-average and RSI helpers used by the
// signal scan. Outputs are aligned to the input series; indices without a full
// lookback window hold NaN.
package indicator

import "math"

// SMA returns the period-length simple moving average of series.
func SMA(series []float64, period int) []float64 {
	out := nanSlice(len(series))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range series {
		sum += v
		if i >= period {
			sum -= series[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI returns the Wilder-smoothed relative strength index. The averages are
// seeded from the first period deltas; fewer than period+1 samples yields an
// all-NaN result.
func RSI(series []float64, period int) []float64 {
	out := nanSlice(len(series))
	if period <= 0 || len(series) < period+1 {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := series[i] - series[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	n := float64(period)
	for i := period + 1; i < len(series); i++ {
		d := series[i] - series[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		avgGain = (avgGain*(n-1) + up) / n
		avgLoss = (avgLoss*(n-1) + down) / n
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

// Last returns the final element of series, or NaN when it is empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
