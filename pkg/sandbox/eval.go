package sandbox

import (
	"fmt"
	"math"

	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

// frame is the state of one Compute call. Every node and call site is
// evaluated at most once per frame.
type frame struct {
	bars   *types.BarTable
	n      int
	params map[string]value
	fns    map[*ir.Call]ta.Fn
	memo   map[ir.Node][]float64
	calls  map[*ir.Call][][]float64
}

func (f *frame) eval(n ir.Node) ([]float64, error) {
	if v, ok := f.memo[n]; ok {
		return v, nil
	}
	v, err := f.compute(n)
	if err != nil {
		return nil, err
	}
	f.memo[n] = v
	return v, nil
}

func (f *frame) compute(n ir.Node) ([]float64, error) {
	switch x := n.(type) {
	case *ir.Const:
		return ta.Const(f.n, x.Value), nil
	case *ir.Input:
		return ta.Const(f.n, f.params[x.Name].num), nil
	case *ir.Column:
		return f.column(x.Name)

	case *ir.Arith:
		return f.binary(x.X, x.Y, arith(x.Op))
	case *ir.Compare:
		if x.X.Kind() == ir.Str {
			return f.compareText(x)
		}
		return f.binary(x.X, x.Y, compare(x.Op))
	case *ir.And:
		return f.binary(x.X, x.Y, and)
	case *ir.Or:
		return f.binary(x.X, x.Y, or)
	case *ir.Not:
		return f.unary(x.X, func(v float64) float64 { return 1 - v })
	case *ir.Neg:
		return f.unary(x.X, func(v float64) float64 { return -v })
	case *ir.Mask:
		v, err := f.eval(x.X)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(v))
		for i, b := range v {
			if !math.IsNaN(b) && b != 0 {
				out[i] = 1
			}
		}
		return out, nil

	case *ir.Cond:
		c, err := f.eval(x.If)
		if err != nil {
			return nil, err
		}
		a, err := f.eval(x.Then)
		if err != nil {
			return nil, err
		}
		b, err := f.eval(x.Else)
		if err != nil {
			return nil, err
		}
		out := make([]float64, f.n)
		for i := range out {
			switch {
			case math.IsNaN(c[i]):
				out[i] = math.NaN()
			case c[i] != 0:
				out[i] = a[i]
			default:
				out[i] = b[i]
			}
		}
		return out, nil

	case *ir.History:
		v, err := f.eval(x.X)
		if err != nil {
			return nil, err
		}
		return ta.Shift(v, x.Offset), nil

	case *ir.Output:
		outs, err := f.call(x.Call)
		if err != nil {
			return nil, err
		}
		return outs[x.Index], nil
	}
	return nil, execErr("compute", "cannot evaluate %T as a series", n)
}

// column reads a bar-table builtin.
func (f *frame) column(name string) ([]float64, error) {
	b := f.bars
	switch name {
	case "open":
		return b.Open, nil
	case "high":
		return b.High, nil
	case "low":
		return b.Low, nil
	case "close":
		return b.Close, nil
	case "volume":
		return b.Volume, nil
	}
	out := make([]float64, f.n)
	for i := range out {
		switch name {
		case "hl2":
			out[i] = (b.High[i] + b.Low[i]) / 2
		case "hlc3":
			out[i] = (b.High[i] + b.Low[i] + b.Close[i]) / 3
		case "ohlc4":
			out[i] = (b.Open[i] + b.High[i] + b.Low[i] + b.Close[i]) / 4
		case "hlcc4":
			out[i] = (b.High[i] + b.Low[i] + 2*b.Close[i]) / 4
		case "bar_index":
			out[i] = float64(i)
		case "time":
			if len(b.Time) == 0 {
				out[i] = math.NaN()
			} else {
				out[i] = float64(b.Time[i].UnixMilli())
			}
		default:
			return nil, execErr("compute", "unknown column %q", name)
		}
	}
	return out, nil
}

// call runs a call site once per frame.
func (f *frame) call(c *ir.Call) ([][]float64, error) {
	if outs, ok := f.calls[c]; ok {
		return outs, nil
	}
	series := make([][]float64, len(c.Series))
	for i, s := range c.Series {
		v, err := f.eval(s)
		if err != nil {
			return nil, err
		}
		series[i] = v
	}
	scalars := make([]float64, len(c.Scalars))
	for i, s := range c.Scalars {
		v := s.Value
		if s.Input != "" {
			v = f.params[s.Input].num
		}
		if s.Kind == ta.LengthParam && (v < 1 || v != math.Trunc(v)) {
			return nil, execErr(c.ID, "length must be a positive integer, input %q is %g", s.Input, v)
		}
		scalars[i] = v
	}

	outs := f.fns[c](series, scalars)
	if len(outs) != c.Outputs {
		return nil, execErr(c.ID, "returned %d outputs, want %d", len(outs), c.Outputs)
	}
	for _, o := range outs {
		if len(o) != f.n {
			return nil, execErr(c.ID, "returned %d rows for %d bars", len(o), f.n)
		}
	}
	f.calls[c] = outs
	return outs, nil
}

func (f *frame) unary(x ir.Node, fn func(float64) float64) ([]float64, error) {
	v, err := f.eval(x)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, a := range v {
		if math.IsNaN(a) {
			out[i] = math.NaN()
		} else {
			out[i] = fn(a)
		}
	}
	return out, nil
}

func (f *frame) binary(x, y ir.Node, fn func(a, b float64) float64) ([]float64, error) {
	a, err := f.eval(x)
	if err != nil {
		return nil, err
	}
	b, err := f.eval(y)
	if err != nil {
		return nil, err
	}
	out := make([]float64, f.n)
	for i := range out {
		out[i] = fn(a[i], b[i])
	}
	return out, nil
}

// compareText evaluates an equality test between string operands. Both sides
// are fixed for the whole call, so the result is a constant series.
func (f *frame) compareText(c *ir.Compare) ([]float64, error) {
	a, err := f.text(c.X)
	if err != nil {
		return nil, err
	}
	b, err := f.text(c.Y)
	if err != nil {
		return nil, err
	}
	eq := a == b
	if c.Op == "!=" {
		eq = !eq
	}
	return ta.Const(f.n, boolNum(eq)), nil
}

func (f *frame) text(n ir.Node) (string, error) {
	switch x := n.(type) {
	case *ir.StrConst:
		return x.Value, nil
	case *ir.Input:
		return f.params[x.Name].str, nil
	}
	return "", execErr("compute", "cannot evaluate %s as text", n)
}

// ---------------------------------------------------------------------------
// Elementwise operators. Undefined operands give undefined results, except
// where three-valued logic decides the outcome.
// ---------------------------------------------------------------------------

func arith(op string) func(a, b float64) float64 {
	return func(a, b float64) float64 {
		if math.IsNaN(a) || math.IsNaN(b) {
			return math.NaN()
		}
		switch op {
		case "+":
			return a + b
		case "-":
			return a - b
		case "*":
			return a * b
		case "/":
			if b == 0 {
				return math.NaN()
			}
			return a / b
		case "%":
			if b == 0 {
				return math.NaN()
			}
			return math.Mod(a, b)
		}
		panic(fmt.Sprintf("unknown arithmetic operator %q", op))
	}
}

func compare(op string) func(a, b float64) float64 {
	return func(a, b float64) float64 {
		if math.IsNaN(a) || math.IsNaN(b) {
			return math.NaN()
		}
		var r bool
		switch op {
		case "<":
			r = a < b
		case "<=":
			r = a <= b
		case ">":
			r = a > b
		case ">=":
			r = a >= b
		case "==":
			r = a == b
		case "!=":
			r = a != b
		default:
			panic(fmt.Sprintf("unknown comparison %q", op))
		}
		return boolNum(r)
	}
}

func and(a, b float64) float64 {
	switch {
	case a == 0 || b == 0:
		return 0
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	}
	return 1
}

func or(a, b float64) float64 {
	switch {
	case (!math.IsNaN(a) && a != 0) || (!math.IsNaN(b) && b != 0):
		return 1
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	}
	return 0
}
