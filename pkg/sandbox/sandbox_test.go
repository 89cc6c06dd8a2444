package sandbox

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/algomatic/pinec/pkg/codegen"
	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/parser"
	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

// makeBars builds a table whose opens sit 0.2 below the closes.
func makeBars(closes []float64) *types.BarTable {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Open:      c - 0.2,
			High:      c + 1.0,
			Low:       c - 1.0,
			Close:     c,
			Volume:    1000,
		}
	}
	return types.NewBarTable(bars)
}

func load(t *testing.T, src string) *Procedure {
	t.Helper()
	prog, err := parser.ParseSource(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := codegen.Generate(prog)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	p, err := Load(res.Program, res.Inputs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return p
}

func trueAt(v []bool) []int {
	var idx []int
	for i, b := range v {
		if b {
			idx = append(idx, i)
		}
	}
	return idx
}

func asExecErr(t *testing.T, err error) *ExecutionError {
	t.Helper()
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExecutionError, got %T: %v", err, err)
	}
	return ee
}

const maCross = `strategy("MA Cross")
fastLen = input.int(10, minval = 1)
slowLen = input.int(30, minval = 1)
fast = ta.sma(close, fastLen)
slow = ta.sma(close, slowLen)
if ta.crossover(fast, slow)
    strategy.entry("L", strategy.long)
if ta.crossunder(fast, slow)
    strategy.close("L")
`

var vShape = []float64{10, 9, 8, 7, 6, 7, 8, 9, 10, 11}

// ---------------------------------------------------------------------------
// Compute
// ---------------------------------------------------------------------------

func TestComputeMACross(t *testing.T) {
	p := load(t, maCross)
	out, err := p.Compute(makeBars(vShape), map[string]any{"fastLen": 2, "slowLen": 3})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Len() != len(vShape) {
		t.Fatalf("len = %d, want %d", out.Len(), len(vShape))
	}
	if got := trueAt(out.LongEntry); !reflect.DeepEqual(got, []int{6}) {
		t.Errorf("long_entry true at %v, want [6]", got)
	}
	for _, sig := range []types.Signal{types.LongExit, types.ShortEntry, types.ShortExit} {
		if n := out.Count(sig); n != 0 {
			t.Errorf("%s fired %d times", sig, n)
		}
	}
}

func TestDefaultWarmupMasksShortHistory(t *testing.T) {
	p := load(t, maCross)
	out, err := p.Compute(makeBars(vShape), nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for sig := types.Signal(0); sig < types.NumSignals; sig++ {
		if n := out.Count(sig); n != 0 {
			t.Errorf("%s fired %d times inside warmup", sig, n)
		}
	}
}

func TestEffectiveWarmup(t *testing.T) {
	p := load(t, maCross)
	w, err := p.Warmup(map[string]any{"slowLen": 50})
	if err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if w != 100 {
		t.Errorf("warmup = %d, want 100", w)
	}
	if w, _ := p.Warmup(nil); w != 60 {
		t.Errorf("default warmup = %d, want 60", w)
	}
}

func TestUndefinedBarsResolveFalse(t *testing.T) {
	p := load(t, `if close > open
    strategy.entry("L", strategy.long)
`)
	closes := []float64{1, 2, 3, 4, 5, math.NaN(), 7}
	out, err := p.Compute(makeBars(closes), nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := trueAt(out.LongEntry); !reflect.DeepEqual(got, []int{0, 1, 2, 3, 4, 6}) {
		t.Errorf("long_entry true at %v", got)
	}
}

func TestStringInputSelectsBranch(t *testing.T) {
	p := load(t, `mode = input.string("A", options = ["A", "B"])
if mode == "A"
    strategy.entry("L", strategy.long)
`)
	bars := makeBars(vShape)
	a, err := p.Compute(bars, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if a.Count(types.LongEntry) != len(vShape) {
		t.Errorf("mode A: %d entries, want %d", a.Count(types.LongEntry), len(vShape))
	}
	b, err := p.Compute(bars, map[string]any{"mode": "B"})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if b.Count(types.LongEntry) != 0 {
		t.Errorf("mode B: %d entries, want 0", b.Count(types.LongEntry))
	}
}

func TestDivisionByZeroIsUndefined(t *testing.T) {
	p := load(t, `r = close / (close - close)
if na(r)
    strategy.entry("L", strategy.long)
`)
	out, err := p.Compute(makeBars(vShape), nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Count(types.LongEntry) != len(vShape) {
		t.Errorf("entries = %d, want every bar", out.Count(types.LongEntry))
	}
}

func TestEmptyBars(t *testing.T) {
	p := load(t, maCross)
	out, err := p.Compute(makeBars(nil), nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Len() != 0 || len(out.ShortExit) != 0 {
		t.Errorf("expected empty arrays, got %d", out.Len())
	}
}

func TestIdempotentAndConcurrent(t *testing.T) {
	p := load(t, maCross+`[m, s, h] = ta.macd(close, 3, 5, 2)
if ta.crossunder(m, s)
    strategy.entry("S", strategy.short)
`)
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/7)
	}
	bars := makeBars(closes)
	params := map[string]any{"fastLen": 3, "slowLen": 8}

	first, err := p.Compute(bars, params)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, _ := p.Compute(bars, params)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated compute differs")
	}

	var wg sync.WaitGroup
	results := make([]types.SignalTuple, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Compute(bars, params)
		}(i)
	}
	wg.Wait()
	for i, r := range results {
		if !reflect.DeepEqual(first, r) {
			t.Errorf("goroutine %d result differs", i)
		}
	}
}

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

func TestParamCoercion(t *testing.T) {
	p := load(t, maCross+"useFilter = input.bool(false)\n")
	bars := makeBars(vShape)
	accepted := []map[string]any{
		{"fastLen": 2.0, "slowLen": 3},
		{"fastLen": json.Number("2"), "slowLen": "3"},
		{"fastLen": int64(2), "slowLen": 3, "unknown": "ignored"},
		{"useFilter": "true"},
	}
	for _, params := range accepted {
		if _, err := p.Compute(bars, params); err != nil {
			t.Errorf("params %v: %v", params, err)
		}
	}

	rejected := []struct {
		params map[string]any
		want   string
	}{
		{map[string]any{"fastLen": 2.5}, "not an integer"},
		{map[string]any{"fastLen": 0}, "below minval"},
		{map[string]any{"fastLen": "abc"}, "not a number"},
		{map[string]any{"fastLen": true}, "expected a number"},
		{map[string]any{"useFilter": 1}, "expected a bool"},
	}
	for _, tc := range rejected {
		_, err := p.Compute(bars, tc.params)
		if err == nil {
			t.Errorf("params %v: expected error", tc.params)
			continue
		}
		ee := asExecErr(t, err)
		if ee.Op != "params" || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("params %v: error %v, want %q", tc.params, err, tc.want)
		}
	}
}

func TestOptionsEnforced(t *testing.T) {
	p := load(t, `mode = input.string("A", options = ["A", "B"])
n = input.int(5, options = [5, 10])
x = ta.sma(close, n)
`)
	if _, err := p.Compute(makeBars(vShape), map[string]any{"mode": "C"}); err == nil {
		t.Error("expected error for string option")
	}
	if _, err := p.Compute(makeBars(vShape), map[string]any{"n": 7}); err == nil {
		t.Error("expected error for numeric option")
	}
	if _, err := p.Compute(makeBars(vShape), map[string]any{"n": 10}); err != nil {
		t.Errorf("valid option: %v", err)
	}
}

func TestLengthInputMustBePositive(t *testing.T) {
	p := load(t, `n = input.int(5)
if close > ta.sma(close, n)
    strategy.entry("L", strategy.long)
`)
	_, err := p.Compute(makeBars(vShape), map[string]any{"n": 0})
	if err == nil {
		t.Fatal("expected error")
	}
	if ee := asExecErr(t, err); ee.Op != "ta.sma" {
		t.Errorf("op = %s, want ta.sma", ee.Op)
	}
}

// ---------------------------------------------------------------------------
// Loading and failure containment
// ---------------------------------------------------------------------------

func falseRoots(first ir.Node) [types.NumSignals]ir.Node {
	f := &ir.Const{Value: 0, K: ir.Bool}
	return [types.NumSignals]ir.Node{first, f, f, f}
}

func TestLoadRejectsUncatalogedCall(t *testing.T) {
	call := &ir.Call{ID: "os.exec", Series: []ir.Node{&ir.Column{Name: "close"}}, Args: []bool{true}, Outputs: 1}
	prog := &ir.Program{
		Calls:   []*ir.Call{call},
		Signals: falseRoots(&ir.Mask{X: &ir.Output{Call: call, Name: "value", K: ir.Bool}}),
	}
	_, err := Load(prog, nil)
	if err == nil || !strings.Contains(err.Error(), "not in the catalog") {
		t.Fatalf("expected catalog error, got %v", err)
	}
}

func TestLoadRejectsUndeclaredInput(t *testing.T) {
	prog := &ir.Program{Signals: falseRoots(&ir.Mask{X: &ir.Input{Name: "ghost", K: ir.Bool}})}
	if _, err := Load(prog, nil); err == nil {
		t.Fatal("expected error for undeclared input")
	}
}

func TestPanicIsContained(t *testing.T) {
	err := ta.Register(&ta.Descriptor{
		ID:       "test.explode",
		Category: ta.CatMisc,
		Params:   []ta.Param{{Name: "source", Kind: ta.SeriesParam}},
		Outputs:  []string{"value"},
		Bool:     true,
		Fn: func([][]float64, []float64) [][]float64 {
			var s []float64
			return [][]float64{{s[3]}}
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	call := &ir.Call{ID: "test.explode", Series: []ir.Node{&ir.Column{Name: "close"}}, Args: []bool{true}, Outputs: 1}
	prog := &ir.Program{
		Calls:   []*ir.Call{call},
		Signals: falseRoots(&ir.Mask{X: &ir.Output{Call: call, Name: "value", K: ir.Bool}}),
	}
	p, err := Load(prog, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = p.Compute(makeBars(vShape), nil)
	if err == nil {
		t.Fatal("expected error from panicking function")
	}
	if ee := asExecErr(t, err); ee.Op != "compute" || !strings.Contains(ee.Error(), "panic") {
		t.Errorf("error = %v", ee)
	}
}

func TestShapeMismatch(t *testing.T) {
	p := load(t, maCross)
	bars := makeBars(vShape)
	bars.Volume = bars.Volume[:3]
	_, err := p.Compute(bars, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if ee := asExecErr(t, err); ee.Op != "bars" {
		t.Errorf("op = %s, want bars", ee.Op)
	}
}

func TestThreeValuedLogic(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"false and na", and(0, nan), 0},
		{"na and false", and(nan, 0), 0},
		{"true and na", and(1, nan), nan},
		{"true and true", and(1, 1), 1},
		{"true or na", or(1, nan), 1},
		{"na or true", or(nan, 1), 1},
		{"false or na", or(0, nan), nan},
		{"false or false", or(0, 0), 0},
	}
	for _, tc := range cases {
		if math.IsNaN(tc.want) != math.IsNaN(tc.got) || (!math.IsNaN(tc.want) && tc.got != tc.want) {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}
