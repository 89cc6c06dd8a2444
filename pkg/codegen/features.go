package codegen

import (
	"sort"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/parser"
)

// RequiredFunctions walks the script and collects the catalog functions it
// calls, sorted. Actions, display calls and inputs are not included.
func RequiredFunctions(prog *ast.Program) []string {
	seen := make(map[string]bool)
	var visitStmts func([]ast.Stmt)
	visit := func(e ast.Expr) {
		ast.Walk(e, func(e ast.Expr) bool {
			c, ok := e.(*ast.CallExpr)
			if !ok {
				return true
			}
			if parser.IsDisplay(c.Func) {
				return false
			}
			if !parser.IsAction(c.Func) {
				seen[c.Func] = true
			}
			return true
		})
	}
	visitStmts = func(stmts []ast.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *ast.Assignment:
				visit(s.Value)
			case *ast.Conditional:
				visit(s.Cond)
				visitStmts(s.Body)
				visitStmts(s.Else)
			case *ast.ExprStmt:
				visit(s.Call)
			}
		}
	}
	visitStmts(prog.Body)
	return sortedKeys(seen)
}

// RequiredColumns collects the bar-table builtins the lowered program reads,
// including those injected for omitted price arguments. These are the
// columns a data feed must supply.
func RequiredColumns(p *ir.Program) []string {
	seen := make(map[string]bool)
	collect := func(n ir.Node) {
		if c, ok := n.(*ir.Column); ok {
			seen[c.Name] = true
		}
	}
	for _, root := range p.Signals {
		ir.Walk(root, collect)
	}
	for _, b := range p.Bindings {
		ir.Walk(b.Node, collect)
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
