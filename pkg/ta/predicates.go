package ta

// ---------------------------------------------------------------------------
// Predicates. Results use the 1/0 encoding and are never NaN: a comparison
// that touches an undefined value is false.
// ---------------------------------------------------------------------------

// Crossover is true on the bar where a moves from at-or-below b to above it.
func Crossover(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := 1; i < len(a); i++ {
		out[i] = boolf(a[i] > b[i] && a[i-1] <= b[i-1])
	}
	return out
}

// Crossunder is true on the bar where a moves from at-or-above b to below it.
func Crossunder(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := 1; i < len(a); i++ {
		out[i] = boolf(a[i] < b[i] && a[i-1] >= b[i-1])
	}
	return out
}

// Cross is true when a crosses b in either direction.
func Cross(a, b []float64) []float64 {
	over, under := Crossover(a, b), Crossunder(a, b)
	for i := range over {
		if under[i] == 1 {
			over[i] = 1
		}
	}
	return over
}

// Rising is true when src is greater than each of its previous length values.
func Rising(src []float64, length int) []float64 {
	return monotone(src, length, greater)
}

// Falling is true when src is less than each of its previous length values.
func Falling(src []float64, length int) []float64 {
	return monotone(src, length, less)
}

func monotone(src []float64, length int, cmp func(a, b float64) bool) []float64 {
	out := make([]float64, len(src))
	if length < 1 {
		return out
	}
	for i := length; i < len(src); i++ {
		ok := true
		for k := 1; k <= length && ok; k++ {
			ok = cmp(src[i], src[i-k])
		}
		out[i] = boolf(ok)
	}
	return out
}
