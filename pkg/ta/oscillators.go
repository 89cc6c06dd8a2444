package ta

import "math"

// ---------------------------------------------------------------------------
// Momentum and oscillators
// ---------------------------------------------------------------------------

// Change is src - src[length].
func Change(src []float64, length int) []float64 {
	return zip(src, Shift(src, length), func(a, b float64) float64 { return a - b })
}

// Mom is momentum, identical to Change.
func Mom(src []float64, length int) []float64 {
	return Change(src, length)
}

// ROC is the rate of change in percent.
func ROC(src []float64, length int) []float64 {
	return zip(src, Shift(src, length), func(a, b float64) float64 {
		return 100 * div(a-b, b)
	})
}

// RSI is the relative strength index with Wilder smoothing. A window with no
// losses reads 100 and one with no gains reads 0.
func RSI(src []float64, length int) []float64 {
	prev := Shift(src, 1)
	up := zip(src, prev, func(x, p float64) float64 { return nanMax(x-p, 0) })
	down := zip(src, prev, func(x, p float64) float64 { return nanMax(p-x, 0) })
	return zip(RMA(up, length), RMA(down, length), func(u, d float64) float64 {
		switch {
		case isNaN(u) || isNaN(d):
			return NaN
		case d == 0:
			return 100
		case u == 0:
			return 0
		}
		return 100 - 100/(1+u/d)
	})
}

// MACD returns the macd line, its signal line and the histogram.
func MACD(src []float64, fast, slow, signal int) (line, sig, hist []float64) {
	line = zip(EMA(src, fast), EMA(src, slow), func(f, s float64) float64 { return f - s })
	sig = EMA(line, signal)
	hist = zip(line, sig, func(l, s float64) float64 { return l - s })
	return line, sig, hist
}

// Stoch is the stochastic %K: where src sits within the high/low range of
// the trailing window, in percent.
func Stoch(src, high, low []float64, length int) []float64 {
	hh := Highest(high, length)
	ll := Lowest(low, length)
	out := make([]float64, len(src))
	for i := range src {
		out[i] = 100 * div(src[i]-ll[i], hh[i]-ll[i])
	}
	return out
}

// CCI is the commodity channel index.
func CCI(src []float64, length int) []float64 {
	ma := SMA(src, length)
	dev := Dev(src, length)
	out := make([]float64, len(src))
	for i := range src {
		out[i] = div(src[i]-ma[i], 0.015*dev[i])
	}
	return out
}

// MFI is the money flow index of src weighted by volume.
func MFI(src, volume []float64, length int) []float64 {
	ch := Change(src, 1)
	upper := make([]float64, len(src))
	lower := make([]float64, len(src))
	for i := range src {
		// an undefined change counts toward both sides, as the reference does
		u, l := src[i], src[i]
		if ch[i] <= 0 {
			u = 0
		}
		if ch[i] >= 0 {
			l = 0
		}
		upper[i] = volume[i] * u
		lower[i] = volume[i] * l
	}
	return zip(Sum(upper, length), Sum(lower, length), func(u, l float64) float64 {
		switch {
		case isNaN(u) || isNaN(l):
			return NaN
		case u == 0 && l == 0:
			// no flow either way: 0/0 is undefined
			return NaN
		case l == 0:
			return 100
		}
		return 100 - 100/(1+u/l)
	})
}

// CMO is the Chande momentum oscillator.
func CMO(src []float64, length int) []float64 {
	mom := Change(src, 1)
	gains := apply(mom, func(m float64) float64 {
		if m >= 0 {
			return m
		}
		return 0
	})
	losses := apply(mom, func(m float64) float64 {
		if m >= 0 {
			return 0
		}
		return -m
	})
	return zip(Sum(gains, length), Sum(losses, length), func(g, l float64) float64 {
		return 100 * div(g-l, g+l)
	})
}

// TSI is the true strength index, in [-1, 1].
func TSI(src []float64, short, long int) []float64 {
	pc := Change(src, 1)
	abs := apply(pc, math.Abs)
	num := EMA(EMA(pc, long), short)
	den := EMA(EMA(abs, long), short)
	return zip(num, den, div)
}

// WPR is Williams %R.
func WPR(high, low, close []float64, length int) []float64 {
	hh := Highest(high, length)
	ll := Lowest(low, length)
	out := make([]float64, len(close))
	for i := range close {
		out[i] = 100 * div(close[i]-hh[i], hh[i]-ll[i])
	}
	return out
}

// nanMax is max that propagates NaN from either side.
func nanMax(a, b float64) float64 {
	if isNaN(a) || isNaN(b) {
		return NaN
	}
	return math.Max(a, b)
}

func nanMin(a, b float64) float64 {
	if isNaN(a) || isNaN(b) {
		return NaN
	}
	return math.Min(a, b)
}
