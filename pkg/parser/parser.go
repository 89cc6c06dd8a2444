// Package parser builds an AST from the lexer's token stream by recursive
// descent. It stops at the first structural error; there is no recovery.
//
// Constructs outside the supported subset (loops, persistent variables,
// multi-timeframe requests, user-defined functions, collection types) are
// rejected here, with their line, rather than being left for later phases.
package parser

import (
	"fmt"
	"strings"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/lexer"
)

// DefaultMaxDepth bounds expression nesting.
const DefaultMaxDepth = 256

// UnsupportedConstruct prefixes every rejection of an unsupported construct.
const UnsupportedConstruct = "unsupported construct"

// Error is a syntax error at a source line. Construct names the rejected
// construct when the error is an unsupported-construct rejection.
type Error struct {
	Line      int
	Message   string
	Construct string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Unsupported reports whether the error rejects an unsupported construct.
func (e *Error) Unsupported() bool {
	return e.Construct != ""
}

// Option configures a parse.
type Option func(*Parser)

// WithMaxDepth overrides the expression nesting ceiling.
func WithMaxDepth(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxDepth = n
		}
	}
}

// Parser holds the state of one parse.
type Parser struct {
	toks     []lexer.Token
	pos      int
	depth    int
	maxDepth int
}

// Parse builds a Program from tokens.
func Parse(tokens []lexer.Token, opts ...Option) (*ast.Program, error) {
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind != lexer.EOF {
		tokens = append(tokens, lexer.Token{Kind: lexer.EOF})
	}
	p := &Parser{toks: tokens, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(p)
	}
	return p.program()
}

// ParseSource tokenizes and parses in one step.
func ParseSource(source string, opts ...Option) (*ast.Program, error) {
	toks, err := lexer.Tokenize(source)
	if err != nil {
		return nil, err
	}
	return Parse(toks, opts...)
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (p *Parser) peek() lexer.Token { return p.toks[p.pos] }

func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) next() lexer.Token {
	t := p.toks[p.pos]
	if t.Kind != lexer.EOF {
		p.pos++
	}
	return t
}

func (p *Parser) isOp(text string) bool { return p.peek().Is(lexer.Op, text) }

func (p *Parser) isKeyword(text string) bool { return p.peek().Is(lexer.Keyword, text) }

func (p *Parser) expectOp(text string) (lexer.Token, error) {
	t := p.peek()
	if !t.Is(lexer.Op, text) {
		return t, p.errorf(t, "expected %q, found %s", text, describe(t))
	}
	return p.next(), nil
}

func (p *Parser) expectKind(kind lexer.Kind) (lexer.Token, error) {
	t := p.peek()
	if t.Kind != kind {
		return t, p.errorf(t, "expected %s, found %s", kind, describe(t))
	}
	return p.next(), nil
}

func (p *Parser) endOfStatement() error {
	t := p.peek()
	switch t.Kind {
	case lexer.Newline:
		p.next()
		return nil
	case lexer.EOF, lexer.Dedent:
		return nil
	}
	return p.errorf(t, "unexpected %s after statement", describe(t))
}

func (p *Parser) errorf(t lexer.Token, format string, args ...any) *Error {
	return &Error{Line: t.Line, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) unsupported(t lexer.Token, construct string) *Error {
	return &Error{
		Line:      t.Line,
		Message:   fmt.Sprintf("%s: %s", UnsupportedConstruct, construct),
		Construct: construct,
	}
}

func describe(t lexer.Token) string {
	switch t.Kind {
	case lexer.EOF:
		return "end of input"
	case lexer.Newline:
		return "end of line"
	case lexer.Indent:
		return "indentation"
	case lexer.Dedent:
		return "end of block"
	}
	return fmt.Sprintf("%q", t.Text)
}

// ---------------------------------------------------------------------------
// Program and statements
// ---------------------------------------------------------------------------

func (p *Parser) program() (*ast.Program, error) {
	prog := &ast.Program{}
	for {
		for p.peek().Kind == lexer.Newline {
			p.next()
		}
		if p.peek().Kind == lexer.EOF {
			return prog, nil
		}
		stmt, err := p.statement(true)
		if err != nil {
			return nil, err
		}

		switch s := stmt.(type) {
		case *ast.ExprStmt:
			if decl, ok, err := declaration(s.Call); err != nil {
				return nil, err
			} else if ok {
				if prog.Decl != nil {
					return nil, &Error{Line: s.Line(), Message: "duplicate " + decl.Kind + " declaration"}
				}
				prog.Decl = decl
				continue
			}
		case *ast.InputDecl:
			prog.Inputs = append(prog.Inputs, s)
		}
		prog.Body = append(prog.Body, stmt)
	}
}

// statement parses one statement. Top-level statements may assign; block
// statements may only be actions or nested conditionals.
func (p *Parser) statement(top bool) (ast.Stmt, error) {
	t := p.peek()

	switch t.Kind {
	case lexer.Indent:
		return nil, p.errorf(t, "unexpected indentation")
	case lexer.Keyword:
		return p.keywordStatement(t)
	case lexer.Op:
		if t.Text == "[" {
			if !top {
				return nil, p.unsupported(t, "assignment inside conditional block")
			}
			return p.tupleAssignment()
		}
	case lexer.Ident:
		if p.isFunctionDeclaration() {
			return nil, p.unsupported(t, "user-defined function")
		}
		if stmt, ok, err := p.assignment(top); ok || err != nil {
			return stmt, err
		}
	}

	start := p.peek()
	e, err := p.expression()
	if err != nil {
		return nil, err
	}
	call, ok := e.(*ast.CallExpr)
	if !ok {
		return nil, p.errorf(start, "expression statement must be a function call")
	}
	if !top && !IsAction(call.Func) && !IsDisplay(call.Func) {
		return nil, p.errorf(start, "only strategy actions are allowed inside a conditional block, found %s()", call.Func)
	}
	if err := p.endOfStatement(); err != nil {
		return nil, err
	}
	return &ast.ExprStmt{Pos: ast.Pos{At: start.Line}, Call: call}, nil
}

func (p *Parser) keywordStatement(t lexer.Token) (ast.Stmt, error) {
	switch t.Text {
	case "if":
		return p.conditional()
	case "else":
		return nil, p.errorf(t, "else without matching if")
	case "for":
		return nil, p.unsupported(t, "for loop")
	case "while":
		return nil, p.unsupported(t, "while loop")
	case "var", "varip":
		return nil, p.unsupported(t, "persistent variable declaration ("+t.Text+")")
	case "switch":
		return nil, p.unsupported(t, "switch statement")
	case "type":
		return nil, p.unsupported(t, "user-defined type")
	case "method":
		return nil, p.unsupported(t, "user-defined method")
	case "import", "export":
		return nil, p.unsupported(t, "library "+t.Text)
	}
	return nil, p.errorf(t, "unexpected keyword %q", t.Text)
}

// isFunctionDeclaration looks ahead for "name(...) =>".
func (p *Parser) isFunctionDeclaration() bool {
	if !p.peekAt(1).Is(lexer.Op, "(") {
		return false
	}
	depth := 0
	for i := p.pos + 1; i < len(p.toks); i++ {
		t := p.toks[i]
		switch {
		case t.Is(lexer.Op, "("):
			depth++
		case t.Is(lexer.Op, ")"):
			depth--
			if depth == 0 {
				return i+1 < len(p.toks) && p.toks[i+1].Is(lexer.Op, "=>")
			}
		case t.Kind == lexer.Newline || t.Kind == lexer.EOF:
			return false
		}
	}
	return false
}

// typeQualifiers may precede a declared name: "float x = ...".
var typeQualifiers = map[string]bool{
	"int": true, "float": true, "bool": true, "string": true, "color": true,
	"series": true, "simple": true, "const": true, "label": true, "line": true,
}

// assignment parses "name = expr" (optionally type-qualified). ok is false
// when the statement is not an assignment.
func (p *Parser) assignment(top bool) (ast.Stmt, bool, error) {
	save := p.pos
	for typeQualifiers[p.peek().Text] && p.peek().Kind == lexer.Ident && p.peekAt(1).Kind == lexer.Ident {
		p.next()
	}
	nameTok := p.peek()
	if nameTok.Kind != lexer.Ident {
		p.pos = save
		return nil, false, nil
	}
	op := p.peekAt(1)
	switch {
	case op.Is(lexer.Op, "="):
	case op.Is(lexer.Op, ":="):
		return nil, true, p.unsupported(op, "reassignment (:=)")
	case op.Kind == lexer.Op && (op.Text == "+=" || op.Text == "-=" || op.Text == "*=" || op.Text == "/=" || op.Text == "%="):
		return nil, true, p.unsupported(op, "compound assignment ("+op.Text+")")
	default:
		p.pos = save
		return nil, false, nil
	}
	if !top {
		return nil, true, p.unsupported(nameTok, "assignment inside conditional block")
	}
	p.next()
	p.next()

	value, err := p.expression()
	if err != nil {
		return nil, true, err
	}
	if err := p.endOfStatement(); err != nil {
		return nil, true, err
	}

	if call, ok := value.(*ast.CallExpr); ok && strings.HasPrefix(call.Func, "input") {
		decl, err := inputDecl(nameTok.Text, call)
		if err != nil {
			return nil, true, err
		}
		return decl, true, nil
	}
	return &ast.Assignment{
		Pos:     ast.Pos{At: nameTok.Line},
		Targets: []string{nameTok.Text},
		Value:   value,
	}, true, nil
}

// tupleAssignment parses "[a, b, c] = expr".
func (p *Parser) tupleAssignment() (ast.Stmt, error) {
	open := p.next()
	var names []string
	for {
		t := p.peek()
		if t.Kind != lexer.Ident {
			return nil, p.unsupported(open, "collection literal")
		}
		names = append(names, p.next().Text)
		if p.isOp(",") {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expectOp("]"); err != nil {
		return nil, err
	}
	if !p.isOp("=") {
		if p.isOp(":=") {
			return nil, p.unsupported(p.peek(), "reassignment (:=)")
		}
		return nil, p.unsupported(open, "collection literal")
	}
	p.next()
	value, err := p.expression()
	if err != nil {
		return nil, err
	}
	if err := p.endOfStatement(); err != nil {
		return nil, err
	}
	return &ast.Assignment{Pos: ast.Pos{At: open.Line}, Targets: names, Value: value}, nil
}

// conditional parses an if block with optional else-if / else chains.
func (p *Parser) conditional() (ast.Stmt, error) {
	ifTok := p.next()
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	body, err := p.block(ifTok)
	if err != nil {
		return nil, err
	}
	node := &ast.Conditional{Pos: ast.Pos{At: ifTok.Line}, Cond: cond, Body: body}

	if p.isKeyword("else") {
		elseTok := p.next()
		if p.isKeyword("if") {
			nested, err := p.conditional()
			if err != nil {
				return nil, err
			}
			node.Else = []ast.Stmt{nested}
		} else {
			node.Else, err = p.block(elseTok)
			if err != nil {
				return nil, err
			}
		}
	}
	return node, nil
}

// block parses NEWLINE INDENT statement+ DEDENT.
func (p *Parser) block(owner lexer.Token) ([]ast.Stmt, error) {
	if _, err := p.expectKind(lexer.Newline); err != nil {
		return nil, err
	}
	if p.peek().Kind != lexer.Indent {
		return nil, p.errorf(p.peek(), "expected an indented block after %q on line %d", owner.Text, owner.Line)
	}
	p.next()
	var stmts []ast.Stmt
	for p.peek().Kind != lexer.Dedent && p.peek().Kind != lexer.EOF {
		s, err := p.statement(false)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if p.peek().Kind == lexer.Dedent {
		p.next()
	}
	return stmts, nil
}
