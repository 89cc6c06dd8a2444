// Package ast defines the abstract syntax tree produced by the parser.
//
// The node set is closed: statements implement Stmt, expressions implement
// Expr, and both carry the source line they started on. Nodes are built
// bottom-up by the parser and never mutated afterwards.
package ast

import (
	"github.com/algomatic/pinec/pkg/types"
)

// Node is any AST node.
type Node interface {
	Line() int
}

// Stmt is a top-level or block statement.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression yielding a value.
type Expr interface {
	Node
	exprNode()
}

// Pos is embedded by every node to record its line.
type Pos struct {
	At int
}

func (p Pos) Line() int { return p.At }

// Program is the root node.
type Program struct {
	Decl   *StrategyDecl
	Inputs []*InputDecl
	Body   []Stmt
}

// StrategyDecl is the strategy(...) or indicator(...) declaration.
type StrategyDecl struct {
	Pos
	Kind  string // "strategy" or "indicator"
	Title string
	Args  []Arg
}

// InputDecl binds a name to a user-tunable input.
type InputDecl struct {
	Pos
	Name    string
	Kind    types.InputKind
	Default any // int, float64, bool or string
	Min     *float64
	Max     *float64
	Title   string
	Options []string
}

// Assignment binds one name, or a tuple of names, to an expression.
type Assignment struct {
	Pos
	Targets []string
	Value   Expr
}

// IsTuple reports whether this is a destructuring assignment.
func (a *Assignment) IsTuple() bool { return len(a.Targets) > 1 }

// Conditional is an if block. Else holds either the statements of an else
// block or a single nested Conditional for "else if".
type Conditional struct {
	Pos
	Cond Expr
	Body []Stmt
	Else []Stmt
}

// ExprStmt is a call used as a statement: a strategy action or a
// display-only call.
type ExprStmt struct {
	Pos
	Call *CallExpr
}

func (*InputDecl) stmtNode()   {}
func (*Assignment) stmtNode()  {}
func (*Conditional) stmtNode() {}
func (*ExprStmt) stmtNode()    {}

// NumberLit is a numeric literal. IsInt is true when the source text has no
// fraction or exponent.
type NumberLit struct {
	Pos
	Value float64
	Text  string
	IsInt bool
}

// StringLit is a quoted string.
type StringLit struct {
	Pos
	Value string
}

// BoolLit is true or false.
type BoolLit struct {
	Pos
	Value bool
}

// NaLit is the undefined value na.
type NaLit struct {
	Pos
}

// ColorLit is a #RRGGBB[AA] literal. Only display calls accept it.
type ColorLit struct {
	Pos
	Value string
}

// Ident is a possibly dotted name such as fast or strategy.long.
type Ident struct {
	Pos
	Name string
}

// PriceRef is a reference to a bar-table builtin such as close or hl2.
type PriceRef struct {
	Pos
	Name string
}

// BinaryExpr is a binary operation. Op is the source operator text
// ("+", "and", ">=", ...).
type BinaryExpr struct {
	Pos
	Op    string
	Left  Expr
	Right Expr
}

// UnaryExpr is "-x", "+x" or "not x".
type UnaryExpr struct {
	Pos
	Op string
	X  Expr
}

// TernaryExpr is "cond ? a : b".
type TernaryExpr struct {
	Pos
	Cond Expr
	Then Expr
	Else Expr
}

// IndexExpr is the history reference x[n].
type IndexExpr struct {
	Pos
	X      Expr
	Offset int
}

// CallExpr is a function call with positional and keyword arguments.
type CallExpr struct {
	Pos
	Func string
	Args []Arg
}

// Positional returns the positional arguments in order.
func (c *CallExpr) Positional() []Expr {
	var out []Expr
	for _, a := range c.Args {
		if a.Name == "" {
			out = append(out, a.Value)
		}
	}
	return out
}

// Keyword returns the keyword argument with the given name.
func (c *CallExpr) Keyword(name string) (Expr, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Arg is a call argument. Name is empty for positional arguments.
type Arg struct {
	Name  string
	Value Expr
}

// ListLit is a bracketed list. Only the options= argument of an input
// declaration accepts it.
type ListLit struct {
	Pos
	Items []Expr
}

func (*NumberLit) exprNode()   {}
func (*StringLit) exprNode()   {}
func (*BoolLit) exprNode()     {}
func (*NaLit) exprNode()       {}
func (*ColorLit) exprNode()    {}
func (*Ident) exprNode()       {}
func (*PriceRef) exprNode()    {}
func (*BinaryExpr) exprNode()  {}
func (*UnaryExpr) exprNode()   {}
func (*TernaryExpr) exprNode() {}
func (*IndexExpr) exprNode()   {}
func (*CallExpr) exprNode()    {}
func (*ListLit) exprNode()     {}

// PriceNames are the bar-table builtins a bare identifier may refer to.
var PriceNames = map[string]bool{
	"open": true, "high": true, "low": true, "close": true, "volume": true,
	"hl2": true, "hlc3": true, "ohlc4": true, "hlcc4": true,
	"bar_index": true, "time": true,
}

// Walk calls fn for e and every sub-expression in depth-first order.
// Returning false from fn skips the children of that node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *UnaryExpr:
		Walk(n.X, fn)
	case *TernaryExpr:
		Walk(n.Cond, fn)
		Walk(n.Then, fn)
		Walk(n.Else, fn)
	case *IndexExpr:
		Walk(n.X, fn)
	case *CallExpr:
		for _, a := range n.Args {
			Walk(a.Value, fn)
		}
	case *ListLit:
		for _, it := range n.Items {
			Walk(it, fn)
		}
	}
}
