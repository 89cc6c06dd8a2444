package parser

import (
	"strconv"
	"strings"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/lexer"
)

// expression parses a full expression, ternary included.
func (p *Parser) expression() (ast.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.ternary()
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		return &Error{Line: p.peek().Line, Message: "complexity limit exceeded: expression nested too deeply"}
	}
	return nil
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) ternary() (ast.Expr, error) {
	cond, err := p.or()
	if err != nil {
		return nil, err
	}
	if !p.isOp("?") {
		return cond, nil
	}
	q := p.next()
	then, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectOp(":"); err != nil {
		return nil, err
	}
	els, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &ast.TernaryExpr{Pos: ast.Pos{At: q.Line}, Cond: cond, Then: then, Else: els}, nil
}

// binaryLevel parses a left-associative chain of operators at one
// precedence level.
func (p *Parser) binaryLevel(operand func() (ast.Expr, error), match func(lexer.Token) bool) (ast.Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for match(p.peek()) {
		op := p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: ast.Pos{At: op.Line}, Op: op.Text, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) or() (ast.Expr, error) {
	return p.binaryLevel(p.and, func(t lexer.Token) bool { return t.Is(lexer.Keyword, "or") })
}

func (p *Parser) and() (ast.Expr, error) {
	return p.binaryLevel(p.equality, func(t lexer.Token) bool { return t.Is(lexer.Keyword, "and") })
}

func (p *Parser) equality() (ast.Expr, error) {
	return p.binaryLevel(p.relational, func(t lexer.Token) bool {
		return t.Kind == lexer.Op && (t.Text == "==" || t.Text == "!=")
	})
}

func (p *Parser) relational() (ast.Expr, error) {
	return p.binaryLevel(p.additive, func(t lexer.Token) bool {
		return t.Kind == lexer.Op && (t.Text == "<" || t.Text == ">" || t.Text == "<=" || t.Text == ">=")
	})
}

func (p *Parser) additive() (ast.Expr, error) {
	return p.binaryLevel(p.multiplicative, func(t lexer.Token) bool {
		return t.Kind == lexer.Op && (t.Text == "+" || t.Text == "-")
	})
}

func (p *Parser) multiplicative() (ast.Expr, error) {
	return p.binaryLevel(p.unary, func(t lexer.Token) bool {
		return t.Kind == lexer.Op && (t.Text == "*" || t.Text == "/" || t.Text == "%")
	})
}

func (p *Parser) unary() (ast.Expr, error) {
	t := p.peek()
	if t.Is(lexer.Keyword, "not") || t.Is(lexer.Op, "-") || t.Is(lexer.Op, "+") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Pos: ast.Pos{At: t.Line}, Op: t.Text, X: x}, nil
	}
	return p.postfix()
}

func (p *Parser) postfix() (ast.Expr, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.isOp("[") {
		open := p.next()
		n := p.peek()
		if n.Kind != lexer.Number || !isIntText(n.Text) {
			return nil, p.errorf(n, "history offset must be a non-negative integer literal")
		}
		p.next()
		off, err := strconv.Atoi(n.Text)
		if err != nil {
			return nil, p.errorf(n, "invalid history offset %q", n.Text)
		}
		if _, err := p.expectOp("]"); err != nil {
			return nil, err
		}
		x = &ast.IndexExpr{Pos: ast.Pos{At: open.Line}, X: x, Offset: off}
	}
	return x, nil
}

func (p *Parser) primary() (ast.Expr, error) {
	t := p.peek()
	pos := ast.Pos{At: t.Line}

	switch t.Kind {
	case lexer.Number:
		p.next()
		v, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number %q", t.Text)
		}
		return &ast.NumberLit{Pos: pos, Value: v, Text: t.Text, IsInt: isIntText(t.Text)}, nil

	case lexer.String:
		p.next()
		return &ast.StringLit{Pos: pos, Value: t.Text}, nil

	case lexer.Color:
		p.next()
		return &ast.ColorLit{Pos: pos, Value: t.Text}, nil

	case lexer.Keyword:
		switch t.Text {
		case "true", "false":
			p.next()
			return &ast.BoolLit{Pos: pos, Value: t.Text == "true"}, nil
		case "if", "switch":
			return nil, p.unsupported(t, t.Text+" expression")
		}
		return nil, p.errorf(t, "unexpected keyword %q", t.Text)

	case lexer.Ident:
		return p.name()

	case lexer.Op:
		switch t.Text {
		case "(":
			p.next()
			e, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			return nil, p.unsupported(t, "collection literal")
		}
	}
	return nil, p.errorf(t, "unexpected %s", describe(t))
}

// rejectedNamespaces are call namespaces whose constructs are not supported.
var rejectedNamespaces = map[string]string{
	"request": "multi-timeframe request",
	"array":   "collection type (array)",
	"map":     "collection type (map)",
	"matrix":  "collection type (matrix)",
}

// name parses a dotted identifier and, when followed by "(", a call.
func (p *Parser) name() (ast.Expr, error) {
	first := p.next()
	parts := []string{first.Text}
	for p.isOp(".") && p.peekAt(1).Kind == lexer.Ident {
		p.next()
		parts = append(parts, p.next().Text)
	}
	full := strings.Join(parts, ".")
	pos := ast.Pos{At: first.Line}

	if len(parts) > 1 {
		if what, ok := rejectedNamespaces[parts[0]]; ok {
			return nil, p.unsupported(first, what)
		}
	}
	if full == "security" {
		return nil, p.unsupported(first, "multi-timeframe request")
	}
	if p.isOp("<") && (parts[0] == "array" || parts[0] == "matrix") {
		return nil, p.unsupported(first, "collection type")
	}

	if p.isOp("(") {
		args, err := p.arguments(full)
		if err != nil {
			return nil, err
		}
		return &ast.CallExpr{Pos: pos, Func: full, Args: args}, nil
	}
	if full == "na" {
		return &ast.NaLit{Pos: pos}, nil
	}
	if ast.PriceNames[full] {
		return &ast.PriceRef{Pos: pos, Name: full}, nil
	}
	return &ast.Ident{Pos: pos, Name: full}, nil
}

// arguments parses "(arg, ..., name=arg, ...)". Keyword arguments must follow
// positional ones. A list literal is accepted only as the options= argument
// of an input declaration.
func (p *Parser) arguments(fn string) ([]ast.Arg, error) {
	p.next() // (
	var args []ast.Arg
	seenKeyword := false
	for !p.isOp(")") {
		t := p.peek()
		var arg ast.Arg
		if (t.Kind == lexer.Ident || t.Kind == lexer.Keyword) && p.peekAt(1).Is(lexer.Op, "=") {
			p.next()
			p.next()
			arg.Name = t.Text
			seenKeyword = true
			if arg.Name == "options" && strings.HasPrefix(fn, "input") && p.isOp("[") {
				list, err := p.listLiteral()
				if err != nil {
					return nil, err
				}
				arg.Value = list
			}
		} else if seenKeyword {
			return nil, p.errorf(t, "positional argument after keyword argument in call to %s", fn)
		}
		if arg.Value == nil {
			v, err := p.expression()
			if err != nil {
				return nil, err
			}
			arg.Value = v
		}
		args = append(args, arg)
		if p.isOp(",") {
			p.next()
			continue
		}
		if !p.isOp(")") {
			return nil, p.errorf(p.peek(), "expected \",\" or \")\" in call to %s, found %s", fn, describe(p.peek()))
		}
	}
	p.next() // )
	return args, nil
}

func (p *Parser) listLiteral() (ast.Expr, error) {
	open := p.next()
	list := &ast.ListLit{Pos: ast.Pos{At: open.Line}}
	for !p.isOp("]") {
		item, err := p.expression()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
		if p.isOp(",") {
			p.next()
			continue
		}
		if !p.isOp("]") {
			return nil, p.errorf(p.peek(), "expected \",\" or \"]\" in options list")
		}
	}
	p.next()
	return list, nil
}

func isIntText(s string) bool {
	return !strings.ContainsAny(s, ".eE")
}
