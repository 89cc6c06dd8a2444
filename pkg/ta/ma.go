package ta

import "math"

// ---------------------------------------------------------------------------
// Moving averages
// ---------------------------------------------------------------------------

// SMA is the simple moving average.
func SMA(src []float64, length int) []float64 {
	return window(src, length, func(w []float64) float64 {
		s := 0.0
		for _, v := range w {
			s += v
		}
		return s / float64(len(w))
	})
}

// expSmooth is the SMA-seeded exponential recursion shared by EMA and RMA.
// Whenever the previous value is undefined the series reseeds from the SMA
// of the trailing window.
func expSmooth(src []float64, length int, alpha float64) []float64 {
	out := nanSeries(len(src))
	if length < 1 {
		return out
	}
	seed := SMA(src, length)
	for i := range src {
		if i == 0 || isNaN(out[i-1]) {
			out[i] = seed[i]
			continue
		}
		out[i] = alpha*src[i] + (1-alpha)*out[i-1]
	}
	return out
}

// EMA is the exponential moving average, alpha = 2/(length+1).
func EMA(src []float64, length int) []float64 {
	return expSmooth(src, length, 2/float64(length+1))
}

// RMA is Wilder's moving average, alpha = 1/length.
func RMA(src []float64, length int) []float64 {
	return expSmooth(src, length, 1/float64(length))
}

// WMA is the linearly weighted moving average; the newest bar weighs most.
func WMA(src []float64, length int) []float64 {
	norm := float64(length*(length+1)) / 2
	return window(src, length, func(w []float64) float64 {
		s := 0.0
		for i, v := range w {
			s += v * float64(i+1)
		}
		return s / norm
	})
}

// VWMA is the volume-weighted moving average.
func VWMA(src, volume []float64, length int) []float64 {
	pv := zip(src, volume, func(p, v float64) float64 { return p * v })
	return zip(SMA(pv, length), SMA(volume, length), div)
}

// HMA is the Hull moving average.
func HMA(src []float64, length int) []float64 {
	if length < 2 {
		return nanSeries(len(src))
	}
	half := WMA(src, length/2)
	full := WMA(src, length)
	raw := zip(half, full, func(h, f float64) float64 { return 2*h - f })
	return WMA(raw, int(math.Floor(math.Sqrt(float64(length)))))
}

// ALMA is the Arnaud Legoux moving average.
func ALMA(src []float64, length int, offset, sigma float64, floor bool) []float64 {
	if length < 1 || sigma == 0 {
		return nanSeries(len(src))
	}
	m := offset * float64(length-1)
	if floor {
		m = math.Floor(m)
	}
	s := float64(length) / sigma
	weights := make([]float64, length)
	norm := 0.0
	for i := range weights {
		weights[i] = math.Exp(-((float64(i) - m) * (float64(i) - m)) / (2 * s * s))
		norm += weights[i]
	}
	return window(src, length, func(w []float64) float64 {
		sum := 0.0
		for i, v := range w {
			sum += v * weights[i]
		}
		return sum / norm
	})
}

// SWMA is the symmetrically weighted moving average over four bars with
// weights 1/6, 2/6, 2/6, 1/6.
func SWMA(src []float64) []float64 {
	return window(src, 4, func(w []float64) float64 {
		return w[0]/6 + w[1]*2/6 + w[2]*2/6 + w[3]/6
	})
}

// LinReg is the least-squares line through the trailing window, evaluated
// offset bars before the newest one.
func LinReg(src []float64, length, offset int) []float64 {
	n := float64(length)
	return window(src, length, func(w []float64) float64 {
		var sx, sy, sxx, sxy float64
		for i, v := range w {
			x := float64(i)
			sx += x
			sy += v
			sxx += x * x
			sxy += x * v
		}
		den := n*sxx - sx*sx
		slope := 0.0
		if den != 0 {
			slope = (n*sxy - sx*sy) / den
		}
		intercept := sy/n - slope*sx/n
		return intercept + slope*(n-1-float64(offset))
	})
}
