// FILE: indicators.go
// Package main – Technical indicators on candle close series.
//
// Conventions:
//   - All functions take a []float64 of closes (oldest..newest).
//   - Outputs are aligned to the input: out[i] corresponds to closes[i].
//   - EMA is self-seeding: out[0] = closes[0], so no warm-up NaNs are
//     produced; callers that need a settled value skip the first `period`
//     bars themselves.
package main

// EMA computes an exponential moving average with smoothing k = 2/(period+1).
// The first output equals the first close; every later element is
// close*k + prev*(1-k). Returns nil for an empty input or period < 1.
func EMA(closes []float64, period int) []float64 {
	if len(closes) == 0 || period < 1 {
		return nil
	}
	out := make([]float64, len(closes))
	k := 2.0 / (float64(period) + 1.0)
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = closes[i]*k + out[i-1]*(1.0-k)
	}
	return out
}

// RSI computes a Wilder-smoothed relative strength index, aligned to the
// input. The first `period` entries hold the neutral value 50.
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	if n == 0 || period < 1 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 50.0
	}
	if n <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiFrom(avgGain, avgLoss)
	for i := period + 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// closesOf extracts the close series from candles, oldest..newest.
func closesOf(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// last returns the final element of xs, or 0 if empty.
func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}
