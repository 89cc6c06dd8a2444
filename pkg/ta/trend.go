package ta

import "math"

// ---------------------------------------------------------------------------
// Trend
// ---------------------------------------------------------------------------

// DMI returns the directional movement index: +DI, -DI and ADX.
func DMI(high, low, close []float64, diLength, adxSmoothing int) (plus, minus, adx []float64) {
	n := len(close)
	up := Change(high, 1)
	down := apply(Change(low, 1), func(v float64) float64 { return -v })
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case isNaN(up[i]):
			plusDM[i] = NaN
		case up[i] > down[i] && up[i] > 0:
			plusDM[i] = up[i]
		}
		switch {
		case isNaN(down[i]):
			minusDM[i] = NaN
		case down[i] > up[i] && down[i] > 0:
			minusDM[i] = down[i]
		}
	}
	trur := RMA(TR(high, low, close, false), diLength)
	plus = FixNaN(zip(RMA(plusDM, diLength), trur, func(a, t float64) float64 { return 100 * div(a, t) }))
	minus = FixNaN(zip(RMA(minusDM, diLength), trur, func(a, t float64) float64 { return 100 * div(a, t) }))
	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := plus[i] + minus[i]
		if sum == 0 {
			sum = 1
		}
		dx[i] = math.Abs(plus[i]-minus[i]) / sum
	}
	adx = apply(RMA(dx, adxSmoothing), func(v float64) float64 { return 100 * v })
	return plus, minus, adx
}

// Supertrend returns the supertrend line and its direction: -1 while the
// trend is up (line below price), 1 while it is down.
func Supertrend(high, low, close []float64, factor float64, atrPeriod int) (line, direction []float64) {
	n := len(close)
	atr := ATR(high, low, close, atrPeriod)
	line = nanSeries(n)
	direction = nanSeries(n)
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := 0; i < n; i++ {
		src := (high[i] + low[i]) / 2
		upper[i] = src + factor*atr[i]
		lower[i] = src - factor*atr[i]
		if isNaN(atr[i]) {
			continue
		}

		var prevLower, prevUpper, prevClose, prevLine, prevATR float64 = 0, 0, NaN, NaN, NaN
		if i > 0 {
			prevLower, prevUpper = nz(lower[i-1]), nz(upper[i-1])
			prevClose, prevLine, prevATR = close[i-1], line[i-1], atr[i-1]
		}
		if !(lower[i] > prevLower || prevClose < prevLower) {
			lower[i] = prevLower
		}
		if !(upper[i] < prevUpper || prevClose > prevUpper) {
			upper[i] = prevUpper
		}

		switch {
		case isNaN(prevATR):
			direction[i] = 1
		case prevLine == prevUpper:
			if close[i] > upper[i] {
				direction[i] = -1
			} else {
				direction[i] = 1
			}
		default:
			if close[i] < lower[i] {
				direction[i] = 1
			} else {
				direction[i] = -1
			}
		}
		if direction[i] == -1 {
			line[i] = lower[i]
		} else {
			line[i] = upper[i]
		}
	}
	return line, direction
}

// SAR is the parabolic stop-and-reverse.
func SAR(high, low, close []float64, start, inc, max float64) []float64 {
	n := len(close)
	out := nanSeries(n)
	if n < 2 {
		return out
	}
	var result, maxMin, accel float64
	var below bool
	for i := 1; i < n; i++ {
		firstTrendBar := false
		if i == 1 {
			if close[1] > close[0] {
				below = true
				maxMin = high[1]
				result = low[0]
			} else {
				below = false
				maxMin = low[1]
				result = high[0]
			}
			firstTrendBar = true
			accel = start
		}

		result += accel * (maxMin - result)

		if below {
			if result > low[i] {
				firstTrendBar = true
				below = false
				result = math.Max(high[i], maxMin)
				maxMin = low[i]
				accel = start
			}
		} else if result < high[i] {
			firstTrendBar = true
			below = true
			result = math.Min(low[i], maxMin)
			maxMin = high[i]
			accel = start
		}

		if !firstTrendBar {
			if below {
				if high[i] > maxMin {
					maxMin = high[i]
					accel = math.Min(accel+inc, max)
				}
			} else if low[i] < maxMin {
				maxMin = low[i]
				accel = math.Min(accel+inc, max)
			}
		}

		if below {
			result = math.Min(result, low[i-1])
			if i > 1 {
				result = math.Min(result, low[i-2])
			}
		} else {
			result = math.Max(result, high[i-1])
			if i > 1 {
				result = math.Max(result, high[i-2])
			}
		}
		out[i] = result
	}
	return out
}

func nz(v float64) float64 {
	if isNaN(v) {
		return 0
	}
	return v
}
