package ta

import (
	"math"
	"sort"
)

// ---------------------------------------------------------------------------
// Range and rank over a trailing window
// ---------------------------------------------------------------------------

// extremum scans each full window newest-first and keeps the bar for which
// better(candidate, best) holds, ignoring NaN values. It returns the value and
// the bar offset (0 or negative) of the winner.
func extremum(src []float64, length int, better func(a, b float64) bool) (vals, offs []float64) {
	n := len(src)
	vals, offs = nanSeries(n), nanSeries(n)
	if length < 1 {
		return vals, offs
	}
	for i := length - 1; i < n; i++ {
		best, at := NaN, -1
		for k := 0; k < length; k++ {
			v := src[i-k]
			if isNaN(v) {
				continue
			}
			if at < 0 || better(v, best) {
				best, at = v, k
			}
		}
		if at >= 0 {
			vals[i], offs[i] = best, -float64(at)
		}
	}
	return vals, offs
}

func greater(a, b float64) bool { return a > b }
func less(a, b float64) bool    { return a < b }

// Highest is the highest value of the trailing window.
func Highest(src []float64, length int) []float64 {
	v, _ := extremum(src, length, greater)
	return v
}

// Lowest is the lowest value of the trailing window.
func Lowest(src []float64, length int) []float64 {
	v, _ := extremum(src, length, less)
	return v
}

// HighestBars is the offset to the highest bar of the window. Ties resolve
// to the most recent bar.
func HighestBars(src []float64, length int) []float64 {
	_, o := extremum(src, length, greater)
	return o
}

// LowestBars is the offset to the lowest bar of the window.
func LowestBars(src []float64, length int) []float64 {
	_, o := extremum(src, length, less)
	return o
}

// Range is highest minus lowest over the window.
func Range(src []float64, length int) []float64 {
	return zip(Highest(src, length), Lowest(src, length), func(h, l float64) float64 { return h - l })
}

// Median of the trailing window.
func Median(src []float64, length int) []float64 {
	buf := make([]float64, length)
	return window(src, length, func(w []float64) float64 {
		copy(buf, w)
		sort.Float64s(buf)
		m := len(buf) / 2
		if len(buf)%2 == 1 {
			return buf[m]
		}
		return (buf[m-1] + buf[m]) / 2
	})
}

// PercentRank is the percentage of the previous length values that are less
// than or equal to the current one.
func PercentRank(src []float64, length int) []float64 {
	out := nanSeries(len(src))
	if length < 1 {
		return out
	}
	for i := length; i < len(src); i++ {
		if isNaN(src[i]) {
			continue
		}
		count := 0
		valid := true
		for k := 1; k <= length; k++ {
			p := src[i-k]
			if isNaN(p) {
				valid = false
				break
			}
			if p <= src[i] {
				count++
			}
		}
		if valid {
			out[i] = 100 * float64(count) / float64(length)
		}
	}
	return out
}

// Sum is the rolling sum of the trailing window.
func Sum(src []float64, length int) []float64 {
	return window(src, length, func(w []float64) float64 {
		s := 0.0
		for _, v := range w {
			s += v
		}
		return s
	})
}

// Correlation is the Pearson correlation of a and b over the window.
func Correlation(a, b []float64, length int) []float64 {
	out := nanSeries(len(a))
	if length < 2 {
		return out
	}
	n := float64(length)
	for i := length - 1; i < len(a); i++ {
		var sa, sb, saa, sbb, sab float64
		valid := true
		for k := i - length + 1; k <= i; k++ {
			x, y := a[k], b[k]
			if isNaN(x) || isNaN(y) {
				valid = false
				break
			}
			sa += x
			sb += y
			saa += x * x
			sbb += y * y
			sab += x * y
		}
		if !valid {
			continue
		}
		cov := sab/n - (sa/n)*(sb/n)
		va := saa/n - (sa/n)*(sa/n)
		vb := sbb/n - (sb/n)*(sb/n)
		if va <= 0 || vb <= 0 {
			continue
		}
		out[i] = cov / math.Sqrt(va*vb)
	}
	return out
}
