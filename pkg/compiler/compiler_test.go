package compiler

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/algomatic/pinec/pkg/codegen"
	"github.com/algomatic/pinec/pkg/lexer"
	"github.com/algomatic/pinec/pkg/parser"
	"github.com/algomatic/pinec/pkg/sandbox"
	"github.com/algomatic/pinec/pkg/types"
)

func makeBars(closes []float64) *types.BarTable {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Open:      c - 0.2,
			High:      c + 1.0,
			Low:       c - 1.0,
			Close:     c,
			Volume:    1000 + float64(i%7)*100,
		}
	}
	return types.NewBarTable(bars)
}

// riseThenFall is 10 flat bars, 20 rising bars, then 20 falling bars.
func riseThenFall() []float64 {
	closes := make([]float64, 0, 50)
	for i := 0; i < 10; i++ {
		closes = append(closes, 100)
	}
	for i := 1; i <= 20; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 1; i <= 20; i++ {
		closes = append(closes, 120-float64(i))
	}
	return closes
}

func wave(n int, seed float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		x := float64(i)
		closes[i] = 100 + 8*math.Sin(x/9+seed) + 3*math.Cos(x/4)
	}
	return closes
}

func mustCompile(t *testing.T, src string) *CompiledStrategy {
	t.Helper()
	cs, err := Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return cs
}

func mustCompute(t *testing.T, cs *CompiledStrategy, bars *types.BarTable, params map[string]any) types.SignalTuple {
	t.Helper()
	out, err := cs.Compute(bars, params)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	return out
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

const maCross = `//@version=5
strategy("MA Cross", initial_capital = 10000.10, commission_value = 0.05)
fastLen = input.int(3, "Fast length", minval = 1)
slowLen = input.int(5, "Slow length", minval = 1)
fast = ta.sma(close, fastLen)
slow = ta.sma(close, slowLen)
if ta.crossover(fast, slow)
    strategy.entry("Long", strategy.long)
if ta.crossunder(fast, slow)
    strategy.close("Long")
plot(fast)
plot(slow)
`

// richScript exercises most of the catalog in one program.
const richScript = `strategy("Kitchen Sink")
len = input.int(14, minval = 2)
mult = input.float(2.0)
src = input.source(close)
useTrend = input.bool(true)
[middle, upper, lower] = ta.bb(src, 20, mult)
r = ta.rsi(src, len)
[plusDI, minusDI, adx] = ta.dmi(len, len)
[st, dir] = ta.supertrend(3, 10)
a = ta.atr(len)
trend = ta.ema(close, 50) > ta.sma(close, 50) or not useTrend
longCond = ta.crossover(close, lower) and r < 40 and trend
shortCond = ta.crossunder(close, upper) and r > 60
if longCond
    strategy.entry("L", strategy.long)
else if shortCond
    strategy.entry("S", strategy.short)
if close > upper or ta.highest(len) == high
    strategy.close("L")
if close < lower or dir < 0
    strategy.close("S")
strategy.close_all(when = na(a))
`

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestMACrossEndToEnd(t *testing.T) {
	cs := mustCompile(t, maCross)

	if cs.Name != "MA Cross" {
		t.Errorf("name = %q", cs.Name)
	}
	if cs.Warmup != 10 {
		t.Errorf("warmup = %d, want 10", cs.Warmup)
	}
	if got := cs.Settings.InitialCapital.String(); got != "10000.1" {
		t.Errorf("initial capital = %s", got)
	}
	if spec := cs.Inputs["slowLen"]; spec.Title != "Slow length" || spec.Default != 5 || *spec.Min != 1 {
		t.Errorf("slowLen = %+v", spec)
	}

	out := mustCompute(t, cs, makeBars(riseThenFall()), nil)
	entries, exits := trueAt(out.LongEntry), trueAt(out.LongExit)
	if len(entries) != 1 || len(exits) != 1 {
		t.Fatalf("long_entry at %v, long_exit at %v; want exactly one each", entries, exits)
	}
	if entries[0] != 10 {
		t.Errorf("entry at %d, want 10 (first rising bar)", entries[0])
	}
	if exits[0] <= 30 {
		t.Errorf("exit at %d, want after the peak", exits[0])
	}
	if out.Count(types.ShortEntry) != 0 || out.Count(types.ShortExit) != 0 {
		t.Error("short signals fired")
	}
}

func TestFunctionsAndColumns(t *testing.T) {
	cs := mustCompile(t, maCross)
	if strings.Join(cs.Functions, ",") != "ta.crossover,ta.crossunder,ta.sma" {
		t.Errorf("functions = %v", cs.Functions)
	}
	if strings.Join(cs.Columns, ",") != "close" {
		t.Errorf("columns = %v", cs.Columns)
	}
	if !strings.Contains(cs.Program(), "long_entry = fillna(ta.crossover(") {
		t.Errorf("program:\n%s", cs.Program())
	}
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestWarmupBarsAreFalse(t *testing.T) {
	cs := mustCompile(t, richScript)
	closes := wave(300, 0)
	closes[120] = math.NaN()
	for _, params := range []map[string]any{nil, {"len": 30}, {"len": 2, "useTrend": false}} {
		out := mustCompute(t, cs, makeBars(closes), params)
		warmup, err := cs.EffectiveWarmup(params)
		if err != nil {
			t.Fatalf("warmup: %v", err)
		}
		if warmup < 100 {
			t.Errorf("params %v: warmup %d below the 50-bar averages", params, warmup)
		}
		for sig := types.Signal(0); sig < types.NumSignals; sig++ {
			arr := out.Get(sig)
			if len(arr) != len(closes) {
				t.Fatalf("%s has %d rows, want %d", sig, len(arr), len(closes))
			}
			for i := 0; i < warmup && i < len(arr); i++ {
				if arr[i] {
					t.Errorf("params %v: %s true at warmup bar %d", params, sig, i)
				}
			}
		}
	}
}

func TestRecompilationIsIdempotent(t *testing.T) {
	bars := makeBars(wave(400, 1))
	a := mustCompute(t, mustCompile(t, richScript), bars, map[string]any{"len": 10})
	b := mustCompute(t, mustCompile(t, richScript), bars, map[string]any{"len": 10})
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two compilations of the same source disagree")
	}
}

func TestConcurrentComputeMatchesSequential(t *testing.T) {
	cs := mustCompile(t, richScript)
	tables := make([]*types.BarTable, 6)
	want := make([]types.SignalTuple, len(tables))
	for i := range tables {
		tables[i] = makeBars(wave(250+i*10, float64(i)))
		want[i] = mustCompute(t, cs, tables[i], nil)
	}

	got := make([]types.SignalTuple, len(tables))
	errs := make([]error, len(tables))
	var wg sync.WaitGroup
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = cs.Compute(tables[i], nil)
		}(i)
	}
	wg.Wait()
	for i := range tables {
		if errs[i] != nil {
			t.Fatalf("table %d: %v", i, errs[i])
		}
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Errorf("table %d: concurrent result differs from sequential", i)
		}
	}
}

func TestCrossoverBoundary(t *testing.T) {
	cs := mustCompile(t, `a = bar_index < 3 ? bar_index + 1 : 5 - bar_index
if ta.crossover(a, 2)
    strategy.entry("L", strategy.long)
`)
	bars := makeBars([]float64{1, 1, 1, 1, 1})
	out := mustCompute(t, cs, bars, nil)
	want := []bool{false, false, true, false, false}
	if !reflect.DeepEqual(out.LongEntry, want) {
		t.Errorf("crossover = %v, want %v", out.LongEntry, want)
	}
}

func TestImplicitArgumentsEvaluateIdentically(t *testing.T) {
	pairs := [][2]string{
		{"x = ta.atr(5)", "x = ta.atr(high, low, close, 5)"},
		{"x = ta.highest(8)", "x = ta.highest(high, 8)"},
		{"x = ta.lowest(8)", "x = ta.lowest(low, 8)"},
		{"x = ta.stoch(14)", "x = ta.stoch(close, high, low, 14)"},
		{"x = ta.wpr(9)", "x = ta.wpr(high, low, close, 9)"},
		{"x = ta.tr", "x = ta.tr(high, low, close)"},
	}
	bars := makeBars(wave(120, 2))
	for _, p := range pairs {
		script := func(assign string) string {
			return assign + "\nif x > x[1]\n    strategy.entry(\"L\", strategy.long)\n"
		}
		implicit := mustCompile(t, script(p[0]))
		explicit := mustCompile(t, script(p[1]))
		if implicit.Program() != explicit.Program() {
			t.Errorf("%q and %q lower differently:\n%s\n%s", p[0], p[1], implicit.Program(), explicit.Program())
		}
		a := mustCompute(t, implicit, bars, nil)
		b := mustCompute(t, explicit, bars, nil)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("%q and %q compute differently", p[0], p[1])
		}
	}
}

func TestTupleOutputConsistency(t *testing.T) {
	bars := makeBars(wave(200, 3))
	body := "\nif v > 0\n    strategy.entry(\"L\", strategy.long)\n"
	cases := [][2]string{
		{"[v, s, h] = ta.macd(close, 12, 26, 9)", "v = ta.macd(close, 12, 26, 9)"},
		{"[m, v, h] = ta.macd(close, 12, 26, 9)", "[_, v, _] = ta.macd(close, 12, 26, 9)"},
		{"[m, u, l] = ta.bb(close, 20, 2)\nv = u - close", "[_, u, _] = ta.bb(close, 20, 2)\nv = u - close"},
	}
	for _, tc := range cases {
		a := mustCompute(t, mustCompile(t, tc[0]+body), bars, nil)
		b := mustCompute(t, mustCompile(t, tc[1]+body), bars, nil)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("%q and %q disagree", tc[0], tc[1])
		}
	}
}

func TestUnsupportedConstructsAreSyntaxErrors(t *testing.T) {
	cases := map[string]string{
		"for loop":          "for i = 0 to 10\n    x = i",
		"while loop":        "while close > open\n    x = 1",
		"var declaration":   "var x = 0",
		"varip declaration": "varip x = 0",
		"security request":  "x = request.security(syminfo.tickerid, \"D\", close)",
		"legacy security":   "x = security(syminfo.tickerid, \"D\", close)",
		"user function":     "f(x) => x * 2",
		"array":             "a = array.new_float(10)",
		"map":               "m = map.new<string, float>()",
		"matrix":            "m = matrix.new<float>(2, 2)",
		"list literal":      "x = [1, 2, 3]",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(src)
			if err == nil {
				t.Fatalf("%q compiled", src)
			}
			var ce *CompilationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CompilationError, got %T", err)
			}
			if !ce.Syntax() {
				t.Errorf("phase = %s, want a syntax error: %v", ce.Phase, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestErrorPhases(t *testing.T) {
	cases := []struct {
		name  string
		src   string
		phase Phase
		line  int
		as    any
	}{
		{"unterminated string", "x = \"abc", PhaseLex, 1, new(*lexer.Error)},
		{"missing operand", "x = 1 +\n", PhaseParse, 1, new(*parser.Error)},
		{"undefined name", "a = 1\nb = c", PhaseCodegen, 2, new(*codegen.Error)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.src)
			var ce *CompilationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CompilationError, got %v", err)
			}
			if ce.Phase != tc.phase || ce.Line != tc.line {
				t.Errorf("phase %s line %d, want %s line %d", ce.Phase, ce.Line, tc.phase, tc.line)
			}
			if !errors.As(err, tc.as) {
				t.Errorf("phase error %T not reachable through errors.As", tc.as)
			}
			if !strings.Contains(err.Error(), string(tc.phase)) {
				t.Errorf("message %q does not name the phase", err)
			}
		})
	}
}

func TestComplexityLimits(t *testing.T) {
	deep := "x = " + strings.Repeat("(", 40) + "1" + strings.Repeat(")", 40)
	_, err := Compile(deep, WithMaxDepth(16))
	var ce *CompilationError
	if !errors.As(err, &ce) || ce.Phase != PhaseParse || !strings.Contains(ce.Message, "complexity limit exceeded") {
		t.Fatalf("depth: got %v", err)
	}

	wide := "x = close" + strings.Repeat(" + close", 50)
	_, err = Compile(wide, WithNodeBudget(20))
	if !errors.As(err, &ce) || ce.Phase != PhaseCodegen || !strings.Contains(ce.Message, codegen.ComplexityExceeded) {
		t.Fatalf("budget: got %v", err)
	}
}

func TestComputeErrorsAreExecutionErrors(t *testing.T) {
	cs := mustCompile(t, maCross)
	_, err := cs.Compute(makeBars(riseThenFall()), map[string]any{"fastLen": -1})
	var ee *sandbox.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *sandbox.ExecutionError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if diags := Validate(maCross); len(diags) != 0 {
		t.Errorf("clean script diagnostics: %v", diags)
	}

	diags := Validate("x = ta.sma(close, close)")
	if len(diags) != 1 || !strings.Contains(diags[0], "codegen error at line 1") {
		t.Errorf("diagnostics = %v", diags)
	}

	diags = Validate("mode = input.string(\"a\")\nx = close")
	joined := strings.Join(diags, "\n")
	for _, want := range []string{"no strategy(...) declaration", "no strategy actions", "has no options"} {
		if !strings.Contains(joined, want) {
			t.Errorf("diagnostics %v missing %q", diags, want)
		}
	}
}
