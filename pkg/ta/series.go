// Package ta is the indicator library: pure, vectorised technical-analysis
// functions over float64 series, plus the catalog of descriptors the code
// generator and sandbox resolve calls against.
//
// Every function takes equal-length series and returns freshly allocated
// series of the same length. NaN marks an undefined value: the warmup region
// of a windowed indicator, a division by zero, or an undefined input. No
// function keeps state between calls.
//
// Numeric conventions follow the reference charting platform: EMA and RMA
// are seeded with an SMA of their first full window, RSI/ATR/DMI use Wilder
// (RMA) smoothing, and stdev/variance default to the population estimate.
package ta

import "math"

// NaN is the undefined value.
var NaN = math.NaN()

func isNaN(v float64) bool { return math.IsNaN(v) }

// nanSeries returns a series of n undefined values.
func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = NaN
	}
	return out
}

// Const returns a series of n copies of v.
func Const(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Shift returns src delayed by k bars (src[t-k]); the first k values are NaN.
func Shift(src []float64, k int) []float64 {
	out := nanSeries(len(src))
	if k < 0 {
		return out
	}
	for i := k; i < len(src); i++ {
		out[i] = src[i-k]
	}
	return out
}

// div divides, yielding NaN on a zero or undefined denominator.
func div(a, b float64) float64 {
	if b == 0 || isNaN(b) {
		return NaN
	}
	return a / b
}

// window calls fn for every index whose trailing window of length n is
// complete and holds no NaN. Other indices stay NaN.
func window(src []float64, n int, fn func(w []float64) float64) []float64 {
	out := nanSeries(len(src))
	if n < 1 {
		return out
	}
	bad := 0 // NaNs inside the current window
	for i := range src {
		if isNaN(src[i]) {
			bad++
		}
		if i >= n && isNaN(src[i-n]) {
			bad--
		}
		if i >= n-1 && bad == 0 {
			out[i] = fn(src[i-n+1 : i+1])
		}
	}
	return out
}

// zip applies fn elementwise to two series.
func zip(a, b []float64, fn func(x, y float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = fn(a[i], b[i])
	}
	return out
}

// apply maps fn over a series.
func apply(a []float64, fn func(x float64) float64) []float64 {
	out := make([]float64, len(a))
	for i, v := range a {
		out[i] = fn(v)
	}
	return out
}

// boolf converts a predicate to the 1/0 series encoding.
func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
