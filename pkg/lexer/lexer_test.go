package lexer

import (
	"errors"
	"strings"
	"testing"
)

// kinds flattens a token stream into "KIND:text" strings for comparison.
func kinds(toks []Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		switch t.Kind {
		case EOF, Newline, Indent, Dedent:
			out[i] = t.Kind.String()
		default:
			out[i] = t.Kind.String() + ":" + t.Text
		}
	}
	return out
}

func assertKinds(t *testing.T, got []Token, want ...string) {
	t.Helper()
	g := kinds(got)
	if strings.Join(g, " ") != strings.Join(want, " ") {
		t.Fatalf("tokens mismatch\n got: %v\nwant: %v", g, want)
	}
}

func TestSimpleAssignment(t *testing.T) {
	toks, err := Tokenize("fast = ta.sma(close, 10)")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	assertKinds(t, toks,
		"IDENT:fast", "OP:=", "IDENT:ta", "OP:.", "IDENT:sma", "OP:(",
		"IDENT:close", "OP:,", "NUMBER:10", "OP:)", "NEWLINE", "EOF",
	)
}

func TestCommentsStripped(t *testing.T) {
	src := "//@version=5\n// header comment\nx = 1 // trailing\n"
	toks, err := Tokenize(src)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	assertKinds(t, toks, "IDENT:x", "OP:=", "NUMBER:1", "NEWLINE", "EOF")
	if toks[0].Line != 3 {
		t.Errorf("x on line %d, want 3", toks[0].Line)
	}
}

func TestCommentMarkerInsideStringPreserved(t *testing.T) {
	toks, err := Tokenize(`strategy("see http://example.com") // real comment`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if toks[2].Kind != String || toks[2].Text != "see http://example.com" {
		t.Fatalf("string token = %v, want the full URL", toks[2])
	}
	assertKinds(t, toks, "IDENT:strategy", "OP:(", "STRING:see http://example.com", "OP:)", "NEWLINE", "EOF")
}

func TestParenthesisJoinsLines(t *testing.T) {
	src := "x = ta.sma(close,\n     20)\ny = 2\n"
	toks, err := Tokenize(src)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	assertKinds(t, toks,
		"IDENT:x", "OP:=", "IDENT:ta", "OP:.", "IDENT:sma", "OP:(", "IDENT:close", "OP:,",
		"NUMBER:20", "OP:)", "NEWLINE",
		"IDENT:y", "OP:=", "NUMBER:2", "NEWLINE", "EOF",
	)
	// Continuation tokens keep their physical line.
	if toks[8].Line != 2 {
		t.Errorf("20 on line %d, want 2", toks[8].Line)
	}
}

func TestIndentDedent(t *testing.T) {
	src := strings.Join([]string{
		"if cond",
		"    strategy.entry(\"L\", strategy.long)",
		"",
		"    // comment only",
		"x = 1",
	}, "\n")
	toks, err := Tokenize(src)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	assertKinds(t, toks,
		"KEYWORD:if", "IDENT:cond", "NEWLINE",
		"INDENT",
		"IDENT:strategy", "OP:.", "IDENT:entry", "OP:(", "STRING:L", "OP:,",
		"IDENT:strategy", "OP:.", "IDENT:long", "OP:)", "NEWLINE",
		"DEDENT",
		"IDENT:x", "OP:=", "NUMBER:1", "NEWLINE", "EOF",
	)
}

func TestDedentAtEOF(t *testing.T) {
	toks, err := Tokenize("if a\n    if b\n        strategy.close_all()")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	n := len(toks)
	if toks[n-1].Kind != EOF || toks[n-2].Kind != Dedent || toks[n-3].Kind != Dedent {
		t.Fatalf("expected two trailing DEDENTs before EOF, got %v", kinds(toks[n-4:]))
	}
}

func TestTabsCountAsFourSpaces(t *testing.T) {
	src := "if a\n\tstrategy.close_all()\n    strategy.close_all()\n"
	if _, err := Tokenize(src); err != nil {
		t.Fatalf("tab and four spaces should be the same block: %v", err)
	}
}

func TestInconsistentDedent(t *testing.T) {
	src := "if a\n    x = 1\n  y = 2\n"
	_, err := Tokenize(src)
	var lerr *Error
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if lerr.Line != 3 {
		t.Errorf("error line = %d, want 3", lerr.Line)
	}
}

func TestOperators(t *testing.T) {
	toks, err := Tokenize("a >= b != c ? d : e := f => g")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	assertKinds(t, toks,
		"IDENT:a", "OP:>=", "IDENT:b", "OP:!=", "IDENT:c", "OP:?", "IDENT:d", "OP::",
		"IDENT:e", "OP::=", "IDENT:f", "OP:=>", "IDENT:g", "NEWLINE", "EOF",
	)
}

func TestNumbersAndColors(t *testing.T) {
	toks, err := Tokenize("plot(x, color=#FF000080, linewidth=2.5e1, transp=.5)")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	var nums, colors []string
	for _, tk := range toks {
		switch tk.Kind {
		case Number:
			nums = append(nums, tk.Text)
		case Color:
			colors = append(colors, tk.Text)
		}
	}
	if strings.Join(nums, ",") != "2.5e1,.5" {
		t.Errorf("numbers = %v", nums)
	}
	if len(colors) != 1 || colors[0] != "#FF000080" {
		t.Errorf("colors = %v", colors)
	}
}

func TestKeywords(t *testing.T) {
	toks, err := Tokenize("x = not a and b or c")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	for _, tk := range toks {
		if tk.Text == "not" || tk.Text == "and" || tk.Text == "or" {
			if tk.Kind != Keyword {
				t.Errorf("%q kind = %v, want KEYWORD", tk.Text, tk.Kind)
			}
		}
	}
}

func TestLexErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		line int
	}{
		{"unterminated string", "x = 1\ny = \"abc", 2},
		{"invalid character", "x = 1 @ 2", 1},
		{"backtick", "x = `a`", 1},
		{"bad color", "c = #12", 1},
		{"unclosed paren", "x = ta.sma(close,\n 10", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Tokenize(tc.src)
			var lerr *Error
			if !errors.As(err, &lerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if lerr.Line != tc.line {
				t.Errorf("line = %d, want %d (%s)", lerr.Line, tc.line, lerr.Message)
			}
		})
	}
}

func TestCRLF(t *testing.T) {
	toks, err := Tokenize("a = 1\r\nb = 2\r\n")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	assertKinds(t, toks, "IDENT:a", "OP:=", "NUMBER:1", "NEWLINE", "IDENT:b", "OP:=", "NUMBER:2", "NEWLINE", "EOF")
}
