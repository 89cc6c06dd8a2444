package ta

import "math"

// ---------------------------------------------------------------------------
// Accumulators, pivots and event lookups
// ---------------------------------------------------------------------------

// Cum is the running total of src. An undefined bar yields NaN and the total
// restarts from zero after it.
func Cum(src []float64) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		prev := 0.0
		if i > 0 && !isNaN(out[i-1]) {
			prev = out[i-1]
		}
		out[i] = prev + v
	}
	return out
}

// OBV is on-balance volume.
func OBV(close, volume []float64) []float64 {
	ch := Change(close, 1)
	return Cum(zip(ch, volume, func(c, v float64) float64 { return sign(c) * v }))
}

// AccDist is the accumulation/distribution line.
func AccDist(high, low, close, volume []float64) []float64 {
	mfv := make([]float64, len(close))
	for i := range close {
		h, l, c := high[i], low[i], close[i]
		if (c == h && c == l) || h == l {
			continue
		}
		mfv[i] = ((c - l) - (h - c)) / (h - l) * volume[i]
	}
	return Cum(mfv)
}

// PVT is the price-volume trend.
func PVT(close, volume []float64) []float64 {
	prev := Shift(close, 1)
	step := make([]float64, len(close))
	for i := range close {
		step[i] = div(close[i]-prev[i], prev[i]) * volume[i]
	}
	return Cum(step)
}

// PivotHigh reports src[t-right] on bar t when that bar is strictly higher
// than the left bars before it and at least as high as the right bars after
// it. Other bars are NaN.
func PivotHigh(src []float64, left, right int) []float64 {
	return pivot(src, left, right, func(c, o float64, before bool) bool {
		if before {
			return c > o
		}
		return c >= o
	})
}

// PivotLow is the mirror of PivotHigh.
func PivotLow(src []float64, left, right int) []float64 {
	return pivot(src, left, right, func(c, o float64, before bool) bool {
		if before {
			return c < o
		}
		return c <= o
	})
}

func pivot(src []float64, left, right int, wins func(c, o float64, before bool) bool) []float64 {
	out := nanSeries(len(src))
	if left < 0 || right < 0 {
		return out
	}
	for t := left + right; t < len(src); t++ {
		c := t - right
		v := src[c]
		if isNaN(v) {
			continue
		}
		ok := true
		for k := c - left; k < c && ok; k++ {
			ok = wins(v, src[k], true)
		}
		for k := c + 1; k <= t && ok; k++ {
			ok = wins(v, src[k], false)
		}
		if ok {
			out[t] = v
		}
	}
	return out
}

// BarsSince counts bars since cond was last true; NaN until it first is.
func BarsSince(cond []float64) []float64 {
	out := nanSeries(len(cond))
	last := -1
	for i, c := range cond {
		if c != 0 && !isNaN(c) {
			last = i
		}
		if last >= 0 {
			out[i] = float64(i - last)
		}
	}
	return out
}

// ValueWhen returns src as of the occurrence-th most recent bar (0 = latest)
// on which cond was true.
func ValueWhen(cond, src []float64, occurrence int) []float64 {
	out := nanSeries(len(cond))
	if occurrence < 0 {
		return out
	}
	var hits []int
	for i, c := range cond {
		if c != 0 && !isNaN(c) {
			hits = append(hits, i)
		}
		if k := len(hits) - 1 - occurrence; k >= 0 {
			out[i] = src[hits[k]]
		}
	}
	return out
}

// FixNaN replaces undefined values with the last defined one.
func FixNaN(src []float64) []float64 {
	out := make([]float64, len(src))
	last := NaN
	for i, v := range src {
		if !isNaN(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

// NZ replaces undefined values of src with the matching value of repl.
func NZ(src, repl []float64) []float64 {
	return zip(src, repl, func(v, r float64) float64 {
		if isNaN(v) {
			return r
		}
		return v
	})
}

// NA is 1 where src is undefined and 0 elsewhere.
func NA(src []float64) []float64 {
	return apply(src, func(v float64) float64 { return boolf(isNaN(v)) })
}

// ---------------------------------------------------------------------------
// Elementwise math
// ---------------------------------------------------------------------------

func sign(v float64) float64 {
	switch {
	case isNaN(v):
		return NaN
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Round rounds half away from zero to the given number of decimals.
func Round(src []float64, precision int) []float64 {
	scale := math.Pow(10, float64(precision))
	return apply(src, func(v float64) float64 { return math.Round(v*scale) / scale })
}

// Pow raises base to exp elementwise.
func Pow(base, exp []float64) []float64 { return zip(base, exp, math.Pow) }

// Log is the natural log; non-positive inputs are undefined.
func Log(src []float64) []float64 {
	return apply(src, func(v float64) float64 {
		if v <= 0 {
			return NaN
		}
		return math.Log(v)
	})
}

// Log10 is the base-10 log; non-positive inputs are undefined.
func Log10(src []float64) []float64 {
	return apply(src, func(v float64) float64 {
		if v <= 0 {
			return NaN
		}
		return math.Log10(v)
	})
}

// Sqrt is the square root; negative inputs are undefined.
func Sqrt(src []float64) []float64 {
	return apply(src, func(v float64) float64 {
		if v < 0 {
			return NaN
		}
		return math.Sqrt(v)
	})
}

// MaxOf is the elementwise maximum of one or more series.
func MaxOf(srcs ...[]float64) []float64 { return fold(srcs, nanMax) }

// MinOf is the elementwise minimum of one or more series.
func MinOf(srcs ...[]float64) []float64 { return fold(srcs, nanMin) }

// AvgOf is the elementwise mean of one or more series.
func AvgOf(srcs ...[]float64) []float64 {
	sum := fold(srcs, func(a, b float64) float64 { return a + b })
	k := float64(len(srcs))
	return apply(sum, func(v float64) float64 { return v / k })
}

func fold(srcs [][]float64, fn func(a, b float64) float64) []float64 {
	if len(srcs) == 0 {
		return nil
	}
	out := append([]float64(nil), srcs[0]...)
	for _, s := range srcs[1:] {
		for i := range out {
			out[i] = fn(out[i], s[i])
		}
	}
	return out
}
