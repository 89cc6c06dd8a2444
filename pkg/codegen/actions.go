package codegen

import (
	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/types"
)

// Order arguments that place price-level orders. Signals are bar conditions
// only, so these are rejected.
var (
	entryPriceArgs = []string{"limit", "stop"}
	exitPriceArgs  = []string{"profit", "limit", "loss", "stop", "trail_price", "trail_points", "trail_offset"}
)

// collectEntries records the direction of every strategy.entry id so that
// close and exit calls may refer to entries declared later in the script.
func (g *generator) collectEntries(stmts []ast.Stmt) error {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.Conditional:
			if err := g.collectEntries(s.Body); err != nil {
				return err
			}
			if err := g.collectEntries(s.Else); err != nil {
				return err
			}
		case *ast.ExprStmt:
			if s.Call.Func != "strategy.entry" {
				continue
			}
			id, err := stringArg(s.Call, 0, "id", true)
			if err != nil {
				return err
			}
			dir, err := direction(s.Call)
			if err != nil {
				return err
			}
			if prev, ok := g.entries[id]; ok && prev != dir {
				return errorf(s, "strategy.entry", "entry id %q is used for both %s and %s", id, prev, dir)
			}
			g.entries[id] = dir
		}
	}
	return nil
}

// action folds one strategy action into the signal roots under guard.
func (g *generator) action(call *ast.CallExpr, guard ir.Node) error {
	cond := guard
	if when, ok := call.Keyword("when"); ok {
		w, err := g.expr(when)
		if err != nil {
			return err
		}
		if w.Kind() != ir.Bool {
			return errorf(when, call.Func, "when must be bool, got %s", w.Kind())
		}
		if cond, err = g.and(cond, w, call); err != nil {
			return err
		}
	}
	if cond == nil {
		cond = &ir.Const{Value: 1, K: ir.Bool}
	}

	switch call.Func {
	case "strategy.entry":
		if err := rejectArgs(call, entryPriceArgs); err != nil {
			return err
		}
		id, err := stringArg(call, 0, "id", true)
		if err != nil {
			return err
		}
		g.emit(entrySignal(g.entries[id]), cond)

	case "strategy.close":
		id, err := stringArg(call, 0, "id", true)
		if err != nil {
			return err
		}
		dir, err := g.entryDirection(call, id)
		if err != nil {
			return err
		}
		g.emit(exitSignal(dir), cond)

	case "strategy.close_all":
		g.emit(types.LongExit, cond)
		g.emit(types.ShortExit, cond)

	case "strategy.exit":
		if err := rejectArgs(call, exitPriceArgs); err != nil {
			return err
		}
		from, err := stringArg(call, 1, "from_entry", false)
		if err != nil {
			return err
		}
		if from == "" {
			g.emit(types.LongExit, cond)
			g.emit(types.ShortExit, cond)
			return nil
		}
		dir, err := g.entryDirection(call, from)
		if err != nil {
			return err
		}
		g.emit(exitSignal(dir), cond)
	}
	return nil
}

func (g *generator) emit(sig types.Signal, cond ir.Node) {
	g.signals[sig] = append(g.signals[sig], cond)
}

func (g *generator) entryDirection(call *ast.CallExpr, id string) (types.Direction, error) {
	dir, ok := g.entries[id]
	if !ok {
		return "", errorf(call, call.Func, "unknown entry id %q", id)
	}
	return dir, nil
}

func entrySignal(d types.Direction) types.Signal {
	if d == types.Short {
		return types.ShortEntry
	}
	return types.LongEntry
}

func exitSignal(d types.Direction) types.Signal {
	if d == types.Short {
		return types.ShortExit
	}
	return types.LongExit
}

// stringArg reads a string literal argument by keyword, or by position when
// it was not given by keyword. A missing optional argument is "".
func stringArg(call *ast.CallExpr, pos int, name string, required bool) (string, error) {
	e, ok := call.Keyword(name)
	if !ok {
		if args := call.Positional(); pos < len(args) {
			e, ok = args[pos], true
		}
	}
	if !ok {
		if required {
			return "", errorf(call, call.Func, "missing %s argument", name)
		}
		return "", nil
	}
	s, isStr := e.(*ast.StringLit)
	if !isStr {
		return "", errorf(e, call.Func, "%s must be a string literal", name)
	}
	if s.Value == "" && required {
		return "", errorf(e, call.Func, "%s must not be empty", name)
	}
	return s.Value, nil
}

// direction reads the trade direction of strategy.entry: strategy.long or
// strategy.short, or the legacy bool long= argument.
func direction(call *ast.CallExpr) (types.Direction, error) {
	e, ok := call.Keyword("direction")
	if !ok {
		e, ok = call.Keyword("long")
	}
	if !ok {
		if args := call.Positional(); len(args) > 1 {
			e, ok = args[1], true
		}
	}
	if !ok {
		return "", errorf(call, call.Func, "missing direction argument")
	}
	switch x := e.(type) {
	case *ast.Ident:
		switch x.Name {
		case "strategy.long":
			return types.Long, nil
		case "strategy.short":
			return types.Short, nil
		}
	case *ast.BoolLit:
		if x.Value {
			return types.Long, nil
		}
		return types.Short, nil
	}
	return "", errorf(e, call.Func, "direction must be strategy.long or strategy.short")
}

func rejectArgs(call *ast.CallExpr, names []string) error {
	for _, name := range names {
		if _, ok := call.Keyword(name); ok {
			return errorf(call, call.Func, "%s orders are not supported; express exits as conditions", name)
		}
	}
	return nil
}
