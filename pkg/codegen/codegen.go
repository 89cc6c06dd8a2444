// Package codegen lowers a parsed script to the computation-graph IR.
//
// Generation walks the top-level statements in order, binding every assigned
// name to an IR node, and folds strategy actions into the four signal roots.
// Calls are resolved against the ta catalog, which is the single source of
// truth for argument matching, implicit price arguments and tuple outputs.
package codegen

import (
	"fmt"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/parser"
	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

// DefaultNodeBudget bounds the number of IR nodes one script may produce.
const DefaultNodeBudget = 100000

// ComplexityExceeded is the message of a node-budget overrun.
const ComplexityExceeded = "complexity limit exceeded"

// Error is a code generation failure at a source line. Construct names the
// offending identifier, function or statement.
type Error struct {
	Line      int
	Construct string
	Message   string
}

func (e *Error) Error() string {
	if e.Construct != "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Construct, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

func errorf(n ast.Node, construct, format string, args ...any) *Error {
	line := 0
	if n != nil {
		line = n.Line()
	}
	return &Error{Line: line, Construct: construct, Message: fmt.Sprintf(format, args...)}
}

// Option configures generation.
type Option func(*generator)

// WithNodeBudget overrides the IR node ceiling.
func WithNodeBudget(n int) Option {
	return func(g *generator) {
		if n > 0 {
			g.budget = n
		}
	}
}

// Result is the output of Generate.
type Result struct {
	Program *ir.Program
	// Name is the declared title.
	Name string
	// Inputs maps each declared input to its spec; InputOrder keeps
	// declaration order.
	Inputs     map[string]types.InputSpec
	InputOrder []string
	// Warmup is twice the largest length argument, with inputs at their
	// defaults.
	Warmup   int
	Settings types.Settings
}

// binding is what a name in scope refers to.
type binding struct {
	node ir.Node
	// literal or input is set when the value is fixed before evaluation.
	literal ast.Expr
	input   string
	// display marks color values, usable only by display calls.
	display bool
}

type generator struct {
	budget  int
	prog    *ir.Program
	inputs  map[string]*ast.InputDecl
	scope   map[string]*binding
	columns map[string]ir.Node
	entries map[string]types.Direction
	signals [types.NumSignals][]ir.Node
}

// Generate lowers prog to IR.
func Generate(prog *ast.Program, opts ...Option) (*Result, error) {
	g := &generator{
		budget:  DefaultNodeBudget,
		prog:    &ir.Program{},
		inputs:  make(map[string]*ast.InputDecl),
		scope:   make(map[string]*binding),
		columns: make(map[string]ir.Node),
		entries: make(map[string]types.Direction),
	}
	for _, opt := range opts {
		opt(g)
	}

	res := &Result{Inputs: make(map[string]types.InputSpec), Settings: types.DefaultSettings()}
	if prog.Decl != nil {
		res.Name = prog.Decl.Title
		settings, err := declSettings(prog.Decl)
		if err != nil {
			return nil, err
		}
		res.Settings = settings
	}

	if err := g.collectEntries(prog.Body); err != nil {
		return nil, err
	}
	for _, stmt := range prog.Body {
		if err := g.statement(stmt); err != nil {
			return nil, err
		}
	}

	for sig := range g.signals {
		root, err := g.signalRoot(g.signals[sig])
		if err != nil {
			return nil, err
		}
		g.prog.Signals[sig] = root
	}

	for _, in := range prog.Inputs {
		res.Inputs[in.Name] = types.InputSpec{
			Kind:    in.Kind,
			Default: in.Default,
			Min:     in.Min,
			Max:     in.Max,
			Title:   in.Title,
			Options: in.Options,
		}
		res.InputOrder = append(res.InputOrder, in.Name)
	}
	res.Program = g.prog
	res.Warmup = StaticWarmup(g.prog, res.Inputs)
	return res, nil
}

// StaticWarmup is the warmup with input-backed lengths at their declared
// defaults.
func StaticWarmup(p *ir.Program, inputs map[string]types.InputSpec) int {
	return p.Warmup(func(name string) (float64, bool) {
		spec, ok := inputs[name]
		if !ok {
			return 0, false
		}
		return toFloat(spec.Default)
	})
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// node accounts for one IR node against the budget.
func (g *generator) node(n ir.Node, at ast.Node) (ir.Node, error) {
	g.prog.Nodes++
	if g.prog.Nodes > g.budget {
		return nil, errorf(at, "", "%s: more than %d nodes", ComplexityExceeded, g.budget)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *generator) statement(stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.InputDecl:
		return g.declareInput(s)
	case *ast.Assignment:
		return g.assign(s)
	case *ast.Conditional:
		return g.conditional(s, nil)
	case *ast.ExprStmt:
		return g.exprStatement(s, nil)
	}
	return errorf(stmt, "", "unexpected statement %T", stmt)
}

func (g *generator) declare(name string, at ast.Node, b *binding) error {
	if ast.PriceNames[name] {
		return errorf(at, name, "cannot assign to a builtin series")
	}
	if _, exists := g.scope[name]; exists {
		return errorf(at, name, "name is already declared")
	}
	g.scope[name] = b
	return nil
}

func (g *generator) declareInput(in *ast.InputDecl) error {
	kind := ir.Num
	switch in.Kind {
	case types.InputBool:
		kind = ir.Bool
	case types.InputString:
		kind = ir.Str
	}
	n, err := g.node(&ir.Input{Name: in.Name, K: kind}, in)
	if err != nil {
		return err
	}
	g.inputs[in.Name] = in
	return g.declare(in.Name, in, &binding{node: n, input: in.Name})
}

func (g *generator) assign(a *ast.Assignment) error {
	if a.IsTuple() {
		return g.assignTuple(a)
	}
	name := a.Targets[0]
	if isDisplayValue(a.Value) {
		return g.declare(name, a, &binding{display: true})
	}
	n, err := g.expr(a.Value)
	if err != nil {
		return err
	}
	lit, input, _ := g.constant(a.Value)
	b := &binding{node: n, literal: lit, input: input}
	if err := g.declare(name, a, b); err != nil {
		return err
	}
	g.prog.Bindings = append(g.prog.Bindings, ir.Binding{Name: name, Node: n})
	return nil
}

func (g *generator) assignTuple(a *ast.Assignment) error {
	call, ok := a.Value.(*ast.CallExpr)
	if !ok {
		return errorf(a, "", "tuple assignment needs a multi-output function call")
	}
	if d, ok := ta.Lookup(call.Func); ok && !d.MultiOutput() {
		return errorf(a, call.Func, "returns 1 values, %d names given; tuple assignment needs a multi-output function", len(a.Targets))
	}
	outs, err := g.callOutputs(call)
	if err != nil {
		return err
	}
	if len(outs) != len(a.Targets) {
		return errorf(a, call.Func, "returns %d values, %d names given", len(outs), len(a.Targets))
	}
	for i, name := range a.Targets {
		if name == "_" {
			continue
		}
		if err := g.declare(name, a, &binding{node: outs[i]}); err != nil {
			return err
		}
		g.prog.Bindings = append(g.prog.Bindings, ir.Binding{Name: name, Node: outs[i]})
	}
	return nil
}

// conditional lowers an if block. guard is the conjunction of the enclosing
// conditions, nil at top level.
func (g *generator) conditional(c *ast.Conditional, guard ir.Node) error {
	cond, err := g.expr(c.Cond)
	if err != nil {
		return err
	}
	if cond.Kind() != ir.Bool {
		return errorf(c.Cond, "if", "condition must be bool, got %s", cond.Kind())
	}
	thenGuard, err := g.and(guard, cond, c)
	if err != nil {
		return err
	}
	if err := g.block(c.Body, thenGuard); err != nil {
		return err
	}
	if len(c.Else) == 0 {
		return nil
	}
	neg, err := g.node(&ir.Not{X: cond}, c)
	if err != nil {
		return err
	}
	elseGuard, err := g.and(guard, neg, c)
	if err != nil {
		return err
	}
	return g.block(c.Else, elseGuard)
}

func (g *generator) block(stmts []ast.Stmt, guard ir.Node) error {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.Conditional:
			if err := g.conditional(s, guard); err != nil {
				return err
			}
		case *ast.ExprStmt:
			if err := g.exprStatement(s, guard); err != nil {
				return err
			}
		default:
			return errorf(stmt, "", "only strategy actions are allowed inside a conditional block")
		}
	}
	return nil
}

func (g *generator) exprStatement(s *ast.ExprStmt, guard ir.Node) error {
	call := s.Call
	switch {
	case parser.IsAction(call.Func):
		return g.action(call, guard)
	case parser.IsDisplay(call.Func):
		return nil
	}
	// A bare call has no effect; lower it anyway so errors surface.
	_, err := g.expr(call)
	return err
}

// and conjoins a guard with a condition; a nil guard is true.
func (g *generator) and(guard, cond ir.Node, at ast.Node) (ir.Node, error) {
	if guard == nil {
		return cond, nil
	}
	return g.node(&ir.And{X: guard, Y: cond}, at)
}

func (g *generator) signalRoot(parts []ir.Node) (ir.Node, error) {
	if len(parts) == 0 {
		return &ir.Const{Value: 0, K: ir.Bool}, nil
	}
	root := parts[0]
	for _, p := range parts[1:] {
		var err error
		if root, err = g.node(&ir.Or{X: root, Y: p}, nil); err != nil {
			return nil, err
		}
	}
	return g.node(&ir.Mask{X: root}, nil)
}
