package codegen

import (
	"math"
	"strings"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/parser"
	"github.com/algomatic/pinec/pkg/ta"
)

var mathConstants = map[string]float64{
	"math.pi":  math.Pi,
	"math.e":   math.E,
	"math.phi": math.Phi,
}

// expr lowers one expression to a node.
func (g *generator) expr(e ast.Expr) (ir.Node, error) {
	switch x := e.(type) {
	case *ast.NumberLit:
		return g.node(&ir.Const{Value: x.Value, K: ir.Num}, x)
	case *ast.BoolLit:
		v := 0.0
		if x.Value {
			v = 1
		}
		return g.node(&ir.Const{Value: v, K: ir.Bool}, x)
	case *ast.NaLit:
		return g.node(&ir.Const{Value: math.NaN(), K: ir.Num}, x)
	case *ast.StringLit:
		return g.node(&ir.StrConst{Value: x.Value}, x)
	case *ast.ColorLit:
		return nil, errorf(x, x.Value, "color values are only accepted by display calls")
	case *ast.PriceRef:
		return g.column(x.Name, x)
	case *ast.Ident:
		return g.ident(x)
	case *ast.BinaryExpr:
		return g.binary(x)
	case *ast.UnaryExpr:
		return g.unary(x)
	case *ast.TernaryExpr:
		return g.ternary(x)
	case *ast.IndexExpr:
		return g.history(x)
	case *ast.CallExpr:
		return g.callValue(x)
	case *ast.ListLit:
		return nil, errorf(x, "", "list literals are only accepted as input options")
	}
	return nil, errorf(e, "", "unexpected expression %T", e)
}

// column returns the shared node for a bar-table builtin.
func (g *generator) column(name string, at ast.Node) (ir.Node, error) {
	if n, ok := g.columns[name]; ok {
		return n, nil
	}
	n, err := g.node(&ir.Column{Name: name}, at)
	if err != nil {
		return nil, err
	}
	g.columns[name] = n
	return n, nil
}

func (g *generator) ident(x *ast.Ident) (ir.Node, error) {
	if b, ok := g.scope[x.Name]; ok {
		if b.display {
			return nil, errorf(x, x.Name, "color value used in a computation")
		}
		return b.node, nil
	}
	if v, ok := mathConstants[x.Name]; ok {
		return g.node(&ir.Const{Value: v, K: ir.Num}, x)
	}
	switch {
	case x.Name == "strategy.long" || x.Name == "strategy.short":
		return nil, errorf(x, x.Name, "direction constants are only valid as strategy.entry arguments")
	case strings.HasPrefix(x.Name, "color."):
		return nil, errorf(x, x.Name, "color value used in a computation")
	}
	if d, ok := ta.Lookup(x.Name); ok {
		if !d.Variable {
			return nil, errorf(x, x.Name, "is a function; call it as %s", d.Signature())
		}
		return g.callValue(&ast.CallExpr{Pos: x.Pos, Func: x.Name})
	}
	return nil, errorf(x, x.Name, "undefined name; assign it before use")
}

func isNA(n ir.Node) bool {
	c, ok := n.(*ir.Const)
	return ok && math.IsNaN(c.Value)
}

func (g *generator) binary(x *ast.BinaryExpr) (ir.Node, error) {
	l, err := g.expr(x.Left)
	if err != nil {
		return nil, err
	}
	r, err := g.expr(x.Right)
	if err != nil {
		return nil, err
	}
	lk, rk := l.Kind(), r.Kind()

	switch x.Op {
	case "and", "or":
		if lk != ir.Bool || rk != ir.Bool {
			return nil, errorf(x, x.Op, "operands must be bool, got %s and %s", lk, rk)
		}
		if x.Op == "and" {
			return g.node(&ir.And{X: l, Y: r}, x)
		}
		return g.node(&ir.Or{X: l, Y: r}, x)

	case "==", "!=":
		if lk == ir.Str || rk == ir.Str {
			if lk != rk {
				return nil, errorf(x, x.Op, "cannot compare %s with %s", lk, rk)
			}
		} else if lk != rk && !isNA(l) && !isNA(r) {
			return nil, errorf(x, x.Op, "cannot compare %s with %s", lk, rk)
		}
		return g.node(&ir.Compare{Op: x.Op, X: l, Y: r}, x)

	case "<", "<=", ">", ">=":
		if lk != ir.Num || rk != ir.Num {
			return nil, errorf(x, x.Op, "operands must be numbers, got %s and %s", lk, rk)
		}
		return g.node(&ir.Compare{Op: x.Op, X: l, Y: r}, x)

	case "+", "-", "*", "/", "%":
		if x.Op == "+" && (lk == ir.Str || rk == ir.Str) {
			return nil, errorf(x, x.Op, "string concatenation is only accepted by display calls")
		}
		if lk != ir.Num || rk != ir.Num {
			return nil, errorf(x, x.Op, "operands must be numbers, got %s and %s", lk, rk)
		}
		return g.node(&ir.Arith{Op: x.Op, X: l, Y: r}, x)
	}
	return nil, errorf(x, x.Op, "unknown operator")
}

func (g *generator) unary(x *ast.UnaryExpr) (ir.Node, error) {
	if n, ok := x.X.(*ast.NumberLit); ok && x.Op == "-" {
		return g.node(&ir.Const{Value: -n.Value, K: ir.Num}, x)
	}
	v, err := g.expr(x.X)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "not":
		if v.Kind() != ir.Bool {
			return nil, errorf(x, "not", "operand must be bool, got %s", v.Kind())
		}
		return g.node(&ir.Not{X: v}, x)
	case "-", "+":
		if v.Kind() != ir.Num {
			return nil, errorf(x, x.Op, "operand must be a number, got %s", v.Kind())
		}
		if x.Op == "+" {
			return v, nil
		}
		return g.node(&ir.Neg{X: v}, x)
	}
	return nil, errorf(x, x.Op, "unknown operator")
}

func (g *generator) ternary(x *ast.TernaryExpr) (ir.Node, error) {
	cond, err := g.expr(x.Cond)
	if err != nil {
		return nil, err
	}
	if cond.Kind() != ir.Bool {
		return nil, errorf(x.Cond, "?:", "condition must be bool, got %s", cond.Kind())
	}
	then, err := g.expr(x.Then)
	if err != nil {
		return nil, err
	}
	els, err := g.expr(x.Else)
	if err != nil {
		return nil, err
	}
	if then.Kind() == ir.Str || els.Kind() == ir.Str {
		return nil, errorf(x, "?:", "string values are only accepted in equality tests")
	}
	if then.Kind() != els.Kind() {
		switch {
		case isNA(then):
			then = &ir.Const{Value: math.NaN(), K: els.Kind()}
		case isNA(els):
			els = &ir.Const{Value: math.NaN(), K: then.Kind()}
		default:
			return nil, errorf(x, "?:", "branches have different types: %s and %s", then.Kind(), els.Kind())
		}
	}
	return g.node(&ir.Cond{If: cond, Then: then, Else: els}, x)
}

func (g *generator) history(x *ast.IndexExpr) (ir.Node, error) {
	v, err := g.expr(x.X)
	if err != nil {
		return nil, err
	}
	if v.Kind() == ir.Str {
		return nil, errorf(x, "[]", "history of a string value")
	}
	if x.Offset == 0 {
		return v, nil
	}
	return g.node(&ir.History{X: v, Offset: x.Offset}, x)
}

// callValue lowers a call used as a value. A tuple-returning call yields its
// first output.
func (g *generator) callValue(c *ast.CallExpr) (ir.Node, error) {
	switch {
	case parser.IsAction(c.Func):
		return nil, errorf(c, c.Func, "is a statement and has no value")
	case parser.IsDisplay(c.Func):
		return nil, errorf(c, c.Func, "display calls have no value")
	case c.Func == "input" || strings.HasPrefix(c.Func, "input."):
		return nil, errorf(c, c.Func, "inputs must be declared as name = %s(...)", c.Func)
	case strings.HasPrefix(c.Func, "color."):
		return nil, errorf(c, c.Func, "color value used in a computation")
	case c.Func == "strategy" || c.Func == "indicator" || c.Func == "study":
		return nil, errorf(c, c.Func, "declaration must be a top-level statement")
	}
	outs, err := g.callOutputs(c)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// constant resolves e to a literal or a declared input when its value is
// fixed before evaluation, following names bound to either.
func (g *generator) constant(e ast.Expr) (lit ast.Expr, input string, ok bool) {
	switch x := e.(type) {
	case *ast.NumberLit, *ast.BoolLit:
		return x, "", true
	case *ast.UnaryExpr:
		if n, isNum := x.X.(*ast.NumberLit); isNum && x.Op == "-" {
			return &ast.NumberLit{Pos: n.Pos, Value: -n.Value, Text: "-" + n.Text, IsInt: n.IsInt}, "", true
		}
	case *ast.Ident:
		if b, found := g.scope[x.Name]; found && (b.literal != nil || b.input != "") {
			return b.literal, b.input, true
		}
	}
	return nil, "", false
}

// isDisplayValue reports whether e is a color value.
func isDisplayValue(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.ColorLit:
		return true
	case *ast.Ident:
		return strings.HasPrefix(x.Name, "color.")
	case *ast.CallExpr:
		return strings.HasPrefix(x.Func, "color.")
	case *ast.TernaryExpr:
		return isDisplayValue(x.Then) || isDisplayValue(x.Else)
	}
	return false
}
