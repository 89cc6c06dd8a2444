// Package lexer converts strategy script source into a flat token stream.
//
// Comments are stripped, lines inside unbalanced parentheses or brackets are
// joined into one logical line, and block structure is made explicit through
// Indent and Dedent tokens.
package lexer

import "fmt"

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Newline
	Indent
	Dedent
	Ident
	Number
	String
	Color
	Keyword
	Op
)

var kindNames = map[Kind]string{
	EOF:     "EOF",
	Newline: "NEWLINE",
	Indent:  "INDENT",
	Dedent:  "DEDENT",
	Ident:   "IDENT",
	Number:  "NUMBER",
	String:  "STRING",
	Color:   "COLOR",
	Keyword: "KEYWORD",
	Op:      "OP",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is one lexical unit. Line is the 1-based physical source line.
type Token struct {
	Kind Kind
	Text string
	Line int
}

// Is reports whether the token has the given kind and text.
func (t Token) Is(kind Kind, text string) bool {
	return t.Kind == kind && t.Text == text
}

func (t Token) String() string {
	switch t.Kind {
	case EOF, Newline, Indent, Dedent:
		return t.Kind.String()
	case String:
		return fmt.Sprintf("%q", t.Text)
	}
	return t.Text
}

// keywords are reserved words. Some exist only so the parser can reject the
// construct they introduce with a precise message.
var keywords = map[string]bool{
	"and": true, "or": true, "not": true,
	"if": true, "else": true,
	"true": true, "false": true,
	"for": true, "while": true,
	"var": true, "varip": true,
	"switch": true, "import": true, "export": true,
	"type": true, "method": true,
}

// Error is a lexical error at a source line.
type Error struct {
	Line    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}
