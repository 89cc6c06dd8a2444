package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/lexer"
	"github.com/algomatic/pinec/pkg/types"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, err := ParseSource(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return prog
}

func parseErr(t *testing.T, src string) *Error {
	t.Helper()
	_, err := ParseSource(src)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *parser.Error, got %v", err)
	}
	return perr
}

const maCross = `//@version=5
strategy("MA Cross", overlay=true, initial_capital=10000)
fastLen = input.int(10, "Fast", minval=1)
slowLen = input.int(30, title="Slow", minval=1, maxval=500)
fast = ta.sma(close, fastLen)
slow = ta.sma(close, slowLen)
if ta.crossover(fast, slow)
    strategy.entry("L", strategy.long)
if ta.crossunder(fast, slow)
    strategy.close("L")
plot(fast, color=#FF0000)
`

func TestParseMACross(t *testing.T) {
	prog := mustParse(t, maCross)

	if prog.Decl == nil || prog.Decl.Kind != "strategy" || prog.Decl.Title != "MA Cross" {
		t.Fatalf("decl = %+v", prog.Decl)
	}
	if len(prog.Inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(prog.Inputs))
	}
	fastIn := prog.Inputs[0]
	if fastIn.Name != "fastLen" || fastIn.Kind != types.InputInt || fastIn.Default != 10 || fastIn.Title != "Fast" {
		t.Errorf("fast input = %+v", fastIn)
	}
	slowIn := prog.Inputs[1]
	if slowIn.Min == nil || *slowIn.Min != 1 || slowIn.Max == nil || *slowIn.Max != 500 {
		t.Errorf("slow bounds = %v %v", slowIn.Min, slowIn.Max)
	}

	// 2 inputs + 2 assignments + 2 conditionals + plot
	if len(prog.Body) != 7 {
		t.Fatalf("body = %d statements, want 7", len(prog.Body))
	}
	asg, ok := prog.Body[2].(*ast.Assignment)
	if !ok || asg.Targets[0] != "fast" {
		t.Fatalf("body[2] = %T", prog.Body[2])
	}
	call := asg.Value.(*ast.CallExpr)
	if call.Func != "ta.sma" || len(call.Args) != 2 {
		t.Errorf("call = %+v", call)
	}
	if _, ok := call.Args[0].Value.(*ast.PriceRef); !ok {
		t.Errorf("close should parse as a price ref, got %T", call.Args[0].Value)
	}
	cond, ok := prog.Body[4].(*ast.Conditional)
	if !ok || cond.Line() != 7 {
		t.Fatalf("body[4] = %T line %d", prog.Body[4], prog.Body[4].Line())
	}
	if len(cond.Body) != 1 {
		t.Fatalf("conditional body = %d", len(cond.Body))
	}
	if es := cond.Body[0].(*ast.ExprStmt); es.Call.Func != "strategy.entry" {
		t.Errorf("action = %s", es.Call.Func)
	}
}

func TestPrecedence(t *testing.T) {
	prog := mustParse(t, "x = a or b and not c > 1 + 2 * 3")
	v := prog.Body[0].(*ast.Assignment).Value

	or, ok := v.(*ast.BinaryExpr)
	if !ok || or.Op != "or" {
		t.Fatalf("root = %#v, want or", v)
	}
	and := or.Right.(*ast.BinaryExpr)
	if and.Op != "and" {
		t.Fatalf("or.right = %s, want and", and.Op)
	}
	gt := and.Right.(*ast.BinaryExpr)
	if gt.Op != ">" {
		t.Fatalf("and.right = %s, want >", gt.Op)
	}
	// unary binds tighter than every binary operator
	if not, ok := gt.Left.(*ast.UnaryExpr); !ok || not.Op != "not" {
		t.Fatalf("gt.left = %#v, want not", gt.Left)
	}
	plus := gt.Right.(*ast.BinaryExpr)
	if plus.Op != "+" {
		t.Fatalf("gt.right = %s, want +", plus.Op)
	}
	if mul := plus.Right.(*ast.BinaryExpr); mul.Op != "*" {
		t.Fatalf("plus.right = %s, want *", mul.Op)
	}
}

func TestTernaryAndIndex(t *testing.T) {
	prog := mustParse(t, "x = close > close[1] ? high : low[2]")
	tern, ok := prog.Body[0].(*ast.Assignment).Value.(*ast.TernaryExpr)
	if !ok {
		t.Fatalf("expected ternary")
	}
	cmp := tern.Cond.(*ast.BinaryExpr)
	idx := cmp.Right.(*ast.IndexExpr)
	if idx.Offset != 1 {
		t.Errorf("offset = %d", idx.Offset)
	}
	if low := tern.Else.(*ast.IndexExpr); low.Offset != 2 {
		t.Errorf("else offset = %d", low.Offset)
	}
}

func TestTupleAssignment(t *testing.T) {
	prog := mustParse(t, "[m, s, h] = ta.macd(close, 12, 26, 9)")
	asg := prog.Body[0].(*ast.Assignment)
	if !asg.IsTuple() || strings.Join(asg.Targets, ",") != "m,s,h" {
		t.Fatalf("targets = %v", asg.Targets)
	}
}

func TestKeywordArguments(t *testing.T) {
	prog := mustParse(t, "x = ta.bb(close, length=20, mult=2.0)")
	call := prog.Body[0].(*ast.Assignment).Value.(*ast.CallExpr)
	if len(call.Positional()) != 1 {
		t.Errorf("positional = %d", len(call.Positional()))
	}
	v, ok := call.Keyword("mult")
	if !ok || v.(*ast.NumberLit).Value != 2.0 {
		t.Errorf("mult = %v", v)
	}
}

func TestElseIfChain(t *testing.T) {
	src := strings.Join([]string{
		"if a",
		"    strategy.entry(\"L\", strategy.long)",
		"else if b",
		"    strategy.entry(\"S\", strategy.short)",
		"else",
		"    strategy.close_all()",
	}, "\n")
	prog := mustParse(t, src)
	c := prog.Body[0].(*ast.Conditional)
	if len(c.Else) != 1 {
		t.Fatalf("else = %d", len(c.Else))
	}
	nested, ok := c.Else[0].(*ast.Conditional)
	if !ok {
		t.Fatalf("else[0] = %T, want nested conditional", c.Else[0])
	}
	if len(nested.Else) != 1 {
		t.Errorf("nested else = %d", len(nested.Else))
	}
}

func TestTypedDeclaration(t *testing.T) {
	prog := mustParse(t, "float x = 1.5\nint n = 3")
	if asg := prog.Body[1].(*ast.Assignment); asg.Targets[0] != "n" {
		t.Errorf("target = %v", asg.Targets)
	}
}

func TestInputVariants(t *testing.T) {
	src := strings.Join([]string{
		`a = input(14, "Len")`,
		`b = input(2.5)`,
		`c = input.bool(true, "Use")`,
		`d = input.string("EMA", "Type", options=["EMA", "SMA"])`,
		`e = input.float(-1.5, minval=-3)`,
		`src = input.source(close, "Source")`,
		`col = input.color(#00FF00)`,
	}, "\n")
	prog := mustParse(t, src)
	if len(prog.Inputs) != 5 {
		t.Fatalf("inputs = %d, want 5", len(prog.Inputs))
	}
	want := []struct {
		kind types.InputKind
		def  any
	}{
		{types.InputInt, 14},
		{types.InputFloat, 2.5},
		{types.InputBool, true},
		{types.InputString, "EMA"},
		{types.InputFloat, -1.5},
	}
	for i, w := range want {
		in := prog.Inputs[i]
		if in.Kind != w.kind || in.Default != w.def {
			t.Errorf("input %s = %s %v, want %s %v", in.Name, in.Kind, in.Default, w.kind, w.def)
		}
	}
	if got := prog.Inputs[3].Options; len(got) != 2 || got[1] != "SMA" {
		t.Errorf("options = %v", got)
	}
	srcAsg, ok := prog.Body[5].(*ast.Assignment)
	if !ok {
		t.Fatalf("input.source should bind as an assignment, got %T", prog.Body[5])
	}
	if _, ok := srcAsg.Value.(*ast.PriceRef); !ok {
		t.Errorf("source value = %T", srcAsg.Value)
	}
}

func TestInputErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"int with fraction", "a = input.int(1.5)"},
		{"default below min", "a = input.int(0, minval=1)"},
		{"min above max", "a = input.float(1, minval=5, maxval=2)"},
		{"option not listed", `a = input.string("X", options=["A", "B"])`},
		{"missing default", "a = input.int(title=\"x\")"},
		{"non-literal default", "a = input.int(b)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perr := parseErr(t, tc.src)
			if perr.Line != 1 {
				t.Errorf("line = %d", perr.Line)
			}
		})
	}
}

func TestUnsupportedConstructs(t *testing.T) {
	cases := []struct {
		name string
		src  string
		line int
	}{
		{"for loop", "x = 1\nfor i = 0 to 10\n    x := x + i", 2},
		{"while loop", "while true\n    strategy.close_all()", 1},
		{"var", "var float x = 0", 1},
		{"varip", "varip int n = 0", 1},
		{"reassignment", "x = 1\nx := 2", 2},
		{"compound assignment", "x = 1\nx += 2", 2},
		{"function declaration", "f(a) => a * 2", 1},
		{"request.security", "x = request.security(syminfo.tickerid, \"D\", close)", 1},
		{"security", "x = security(\"X\", \"D\", close)", 1},
		{"array", "a = array.new_float(10)", 1},
		{"map", "m = map.new<string, float>()", 1},
		{"matrix", "m = matrix.new<float>(2, 2)", 1},
		{"list literal", "x = [1, 2, 3]", 1},
		{"switch", "switch x\n    1 => 2", 1},
		{"import", "import user/lib/1 as lib", 1},
		{"type", "type Point\n    float x", 1},
		{"input.timeframe", "tf = input.timeframe(\"D\")", 1},
		{"assignment in block", "if a\n    x = 1", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perr := parseErr(t, tc.src)
			if !perr.Unsupported() {
				t.Fatalf("error %q is not an unsupported-construct rejection", perr.Message)
			}
			if !strings.Contains(perr.Error(), UnsupportedConstruct) {
				t.Errorf("message %q lacks %q", perr.Error(), UnsupportedConstruct)
			}
			if perr.Line != tc.line {
				t.Errorf("line = %d, want %d", perr.Line, tc.line)
			}
		})
	}
}

func TestSyntaxErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		line int
	}{
		{"missing comma", "x = ta.sma(close 10)", 1},
		{"dangling operator", "x = 1 +", 1},
		{"non-action in block", "if a\n    ta.sma(close, 3)", 2},
		{"non-call statement", "close > open", 1},
		{"non-literal offset", "x = close[n]", 1},
		{"negative offset", "x = close[-1]", 1},
		{"else without if", "x = 1\nelse\n    strategy.close_all()", 2},
		{"if without block", "if a\nx = 1", 2},
		{"duplicate declaration", "strategy(\"a\")\nstrategy(\"b\")", 2},
		{"positional after keyword", "x = ta.sma(source=close, 10)", 1},
		{"missing ternary colon", "x = a ? b", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perr := parseErr(t, tc.src)
			if perr.Line != tc.line {
				t.Errorf("line = %d, want %d (%s)", perr.Line, tc.line, perr.Message)
			}
			if perr.Unsupported() {
				t.Errorf("%q should be a plain syntax error", perr.Message)
			}
		})
	}
}

func TestDepthLimit(t *testing.T) {
	src := "x = " + strings.Repeat("(", 50) + "1" + strings.Repeat(")", 50)
	toks := mustTokens(t, src)
	if _, err := Parse(toks, WithMaxDepth(20)); err == nil {
		t.Fatal("expected nesting limit error")
	} else if !strings.Contains(err.Error(), "complexity limit exceeded") {
		t.Errorf("err = %v", err)
	}
	if _, err := Parse(toks); err != nil {
		t.Errorf("default depth should accept 50 levels: %v", err)
	}
}

func mustTokens(t *testing.T, src string) []lexer.Token {
	t.Helper()
	toks, err := lexer.Tokenize(src)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	return toks
}

func TestDisplayCallsAccepted(t *testing.T) {
	src := strings.Join([]string{
		"plot(close)",
		"hline(50)",
		"bgcolor(close > open ? color.green : na)",
		"if close > open",
		"    alert(\"up\")",
		"    label.new(bar_index, high, \"x\")",
	}, "\n")
	mustParse(t, src)
}

func TestIndicatorDeclaration(t *testing.T) {
	prog := mustParse(t, "indicator(title=\"RSI\")\nx = ta.rsi(close, 14)")
	if prog.Decl.Kind != "indicator" || prog.Decl.Title != "RSI" {
		t.Errorf("decl = %+v", prog.Decl)
	}
	prog = mustParse(t, "study(\"Old\")")
	if prog.Decl.Kind != "indicator" {
		t.Errorf("study should map to indicator, got %s", prog.Decl.Kind)
	}
}

func TestIsActionAndDisplay(t *testing.T) {
	if !IsAction("strategy.exit") || IsAction("strategy.order") {
		t.Error("IsAction mismatch")
	}
	if !IsDisplay("plotshape") || !IsDisplay("label.new") || IsDisplay("ta.sma") {
		t.Error("IsDisplay mismatch")
	}
}
