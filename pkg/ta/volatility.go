package ta

import "math"

// ---------------------------------------------------------------------------
// Volatility and bands
// ---------------------------------------------------------------------------

// TR is the true range. On the first bar there is no previous close; with
// handleNA the range falls back to high-low, otherwise it is undefined.
func TR(high, low, close []float64, handleNA bool) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		if i == 0 || isNaN(close[i-1]) {
			if handleNA {
				out[i] = high[i] - low[i]
			} else {
				out[i] = NaN
			}
			continue
		}
		pc := close[i-1]
		out[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-pc), math.Abs(low[i]-pc)))
	}
	return out
}

// ATR is the average true range, Wilder-smoothed.
func ATR(high, low, close []float64, length int) []float64 {
	return RMA(TR(high, low, close, true), length)
}

// Variance of the trailing window. biased selects the population estimate.
func Variance(src []float64, length int, biased bool) []float64 {
	return window(src, length, func(w []float64) float64 {
		n := float64(len(w))
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= n
		ss := 0.0
		for _, v := range w {
			ss += (v - mean) * (v - mean)
		}
		if biased {
			return ss / n
		}
		if n < 2 {
			return NaN
		}
		return ss / (n - 1)
	})
}

// Stdev is the standard deviation of the trailing window.
func Stdev(src []float64, length int, biased bool) []float64 {
	return apply(Variance(src, length, biased), math.Sqrt)
}

// Dev is the mean absolute deviation from the window's SMA.
func Dev(src []float64, length int) []float64 {
	return window(src, length, func(w []float64) float64 {
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= float64(len(w))
		s := 0.0
		for _, v := range w {
			s += math.Abs(v - mean)
		}
		return s / float64(len(w))
	})
}

// BB returns Bollinger bands: SMA basis and basis ± mult standard deviations.
func BB(src []float64, length int, mult float64) (middle, upper, lower []float64) {
	middle = SMA(src, length)
	sd := Stdev(src, length, true)
	upper = zip(middle, sd, func(m, d float64) float64 { return m + mult*d })
	lower = zip(middle, sd, func(m, d float64) float64 { return m - mult*d })
	return middle, upper, lower
}

// BBW is the Bollinger band width relative to the basis.
func BBW(src []float64, length int, mult float64) []float64 {
	middle, upper, lower := BB(src, length, mult)
	out := make([]float64, len(src))
	for i := range src {
		out[i] = div(upper[i]-lower[i], middle[i])
	}
	return out
}

// KC returns Keltner channels around an EMA basis.
func KC(src, high, low, close []float64, length int, mult float64, useTrueRange bool) (middle, upper, lower []float64) {
	middle = EMA(src, length)
	var span []float64
	if useTrueRange {
		span = TR(high, low, close, true)
	} else {
		span = zip(high, low, func(h, l float64) float64 { return h - l })
	}
	rng := EMA(span, length)
	upper = zip(middle, rng, func(m, r float64) float64 { return m + mult*r })
	lower = zip(middle, rng, func(m, r float64) float64 { return m - mult*r })
	return middle, upper, lower
}

// KCW is the Keltner channel width relative to the basis.
func KCW(src, high, low, close []float64, length int, mult float64, useTrueRange bool) []float64 {
	middle, upper, lower := KC(src, high, low, close, length, mult, useTrueRange)
	out := make([]float64, len(src))
	for i := range src {
		out[i] = div(upper[i]-lower[i], middle[i])
	}
	return out
}
