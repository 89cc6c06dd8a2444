package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/types"
)

var actions = map[string]bool{
	"strategy.entry":     true,
	"strategy.close":     true,
	"strategy.close_all": true,
	"strategy.exit":      true,
}

// IsAction reports whether fn is a strategy action call that contributes to
// the signal tuple.
func IsAction(fn string) bool { return actions[fn] }

var displays = map[string]bool{
	"plot": true, "plotshape": true, "plotchar": true, "plotarrow": true,
	"plotcandle": true, "plotbar": true, "bgcolor": true, "barcolor": true,
	"hline": true, "fill": true, "alertcondition": true, "alert": true,
}

var displayNamespaces = []string{"label.", "line.", "box.", "table.", "log."}

// IsDisplay reports whether fn only draws or alerts and has no effect on
// signals.
func IsDisplay(fn string) bool {
	if displays[fn] {
		return true
	}
	for _, ns := range displayNamespaces {
		if strings.HasPrefix(fn, ns) {
			return true
		}
	}
	return false
}

// declaration recognises strategy(...), indicator(...) and the legacy
// study(...). ok is false for any other call.
func declaration(call *ast.CallExpr) (*ast.StrategyDecl, bool, error) {
	kind := call.Func
	switch kind {
	case "strategy", "indicator":
	case "study":
		kind = "indicator"
	default:
		return nil, false, nil
	}
	decl := &ast.StrategyDecl{Pos: call.Pos, Kind: kind, Args: call.Args}
	title, ok := call.Keyword("title")
	if !ok {
		if pos := call.Positional(); len(pos) > 0 {
			title, ok = pos[0], true
		}
	}
	if ok {
		s, isStr := title.(*ast.StringLit)
		if !isStr {
			return nil, true, &Error{Line: call.Line(), Message: kind + " title must be a string literal"}
		}
		decl.Title = s.Value
	}
	return decl, true, nil
}

// inputParams is the positional order shared by every input.* function.
var inputParams = []string{"defval", "title"}

// inputDecl turns "name = input.<kind>(...)" into an InputDecl. Source and
// color inputs are not tunable; they bind name to their default expression
// and come back as a plain Assignment.
func inputDecl(name string, call *ast.CallExpr) (ast.Stmt, error) {
	line := call.Line()
	args, err := inputArgs(call)
	if err != nil {
		return nil, err
	}
	defval, hasDefault := args["defval"]

	switch call.Func {
	case "input.source", "input.color":
		if !hasDefault {
			return nil, &Error{Line: line, Message: call.Func + " requires a default value"}
		}
		return &ast.Assignment{Pos: call.Pos, Targets: []string{name}, Value: defval}, nil
	case "input":
		if hasDefault && isSeriesDefault(defval) {
			return &ast.Assignment{Pos: call.Pos, Targets: []string{name}, Value: defval}, nil
		}
	case "input.int", "input.float", "input.bool", "input.string", "input.price", "input.text_area":
	case "input.timeframe", "input.symbol", "input.session", "input.time":
		return nil, &Error{
			Line:      line,
			Message:   fmt.Sprintf("%s: %s", UnsupportedConstruct, call.Func),
			Construct: call.Func,
		}
	default:
		return nil, &Error{Line: line, Message: fmt.Sprintf("unknown input function %s", call.Func)}
	}

	if !hasDefault {
		return nil, &Error{Line: line, Message: fmt.Sprintf("input %q requires a default value", name)}
	}
	decl := &ast.InputDecl{Pos: call.Pos, Name: name, Title: name}

	lit, err := literalValue(defval)
	if err != nil {
		return nil, &Error{Line: line, Message: fmt.Sprintf("input %q default: %v", name, err)}
	}

	switch call.Func {
	case "input.int":
		n, ok := lit.(*ast.NumberLit)
		if !ok || !n.IsInt {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: input.int default must be an integer", name)}
		}
		decl.Kind, decl.Default = types.InputInt, int(signed(defval, n.Value))
	case "input.float", "input.price":
		n, ok := lit.(*ast.NumberLit)
		if !ok {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: %s default must be a number", name, call.Func)}
		}
		decl.Kind, decl.Default = types.InputFloat, signed(defval, n.Value)
	case "input.bool":
		b, ok := lit.(*ast.BoolLit)
		if !ok {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: input.bool default must be true or false", name)}
		}
		decl.Kind, decl.Default = types.InputBool, b.Value
	case "input.string", "input.text_area":
		s, ok := lit.(*ast.StringLit)
		if !ok {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: %s default must be a string", name, call.Func)}
		}
		decl.Kind, decl.Default = types.InputString, s.Value
	default: // generic input(): kind follows the default literal
		switch v := lit.(type) {
		case *ast.NumberLit:
			if v.IsInt {
				decl.Kind, decl.Default = types.InputInt, int(signed(defval, v.Value))
			} else {
				decl.Kind, decl.Default = types.InputFloat, signed(defval, v.Value)
			}
		case *ast.BoolLit:
			decl.Kind, decl.Default = types.InputBool, v.Value
		case *ast.StringLit:
			decl.Kind, decl.Default = types.InputString, v.Value
		}
	}

	if t, ok := args["title"]; ok {
		s, isStr := t.(*ast.StringLit)
		if !isStr {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: title must be a string literal", name)}
		}
		decl.Title = s.Value
	}
	for _, bound := range []struct {
		key string
		dst **float64
	}{{"minval", &decl.Min}, {"maxval", &decl.Max}} {
		e, ok := args[bound.key]
		if !ok {
			continue
		}
		if decl.Kind != types.InputInt && decl.Kind != types.InputFloat {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: %s only applies to numeric inputs", name, bound.key)}
		}
		v, err := numberValue(e)
		if err != nil {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: %s %v", name, bound.key, err)}
		}
		*bound.dst = &v
	}
	if decl.Min != nil && decl.Max != nil && *decl.Min > *decl.Max {
		return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: minval %g exceeds maxval %g", name, *decl.Min, *decl.Max)}
	}
	if e, ok := args["options"]; ok {
		opts, err := optionValues(e)
		if err != nil {
			return nil, &Error{Line: line, Message: fmt.Sprintf("input %q: options %v", name, err)}
		}
		decl.Options = opts
	}
	if err := checkDefault(decl); err != nil {
		return nil, &Error{Line: line, Message: err.Error()}
	}
	return decl, nil
}

// inputArgs maps positional and keyword input arguments onto their names.
func inputArgs(call *ast.CallExpr) (map[string]ast.Expr, error) {
	out := make(map[string]ast.Expr, len(call.Args))
	i := 0
	for _, a := range call.Args {
		key := a.Name
		if key == "" {
			if i >= len(inputParams) {
				// step, tooltip, inline, group: presentation only
				i++
				continue
			}
			key = inputParams[i]
			i++
		}
		if _, dup := out[key]; dup {
			return nil, &Error{Line: call.Line(), Message: fmt.Sprintf("%s: argument %q given twice", call.Func, key)}
		}
		out[key] = a.Value
	}
	return out, nil
}

func isSeriesDefault(e ast.Expr) bool {
	switch e.(type) {
	case *ast.PriceRef, *ast.CallExpr, *ast.Ident:
		return true
	}
	return false
}

// literalValue strips one leading unary sign and returns the literal.
func literalValue(e ast.Expr) (ast.Expr, error) {
	if u, ok := e.(*ast.UnaryExpr); ok && (u.Op == "-" || u.Op == "+") {
		if n, ok := u.X.(*ast.NumberLit); ok {
			return n, nil
		}
		return nil, fmt.Errorf("must be a literal")
	}
	switch e.(type) {
	case *ast.NumberLit, *ast.BoolLit, *ast.StringLit:
		return e, nil
	}
	return nil, fmt.Errorf("must be a literal")
}

func signed(e ast.Expr, v float64) float64 {
	if u, ok := e.(*ast.UnaryExpr); ok && u.Op == "-" {
		return -v
	}
	return v
}

func numberValue(e ast.Expr) (float64, error) {
	lit, err := literalValue(e)
	if err != nil {
		return 0, err
	}
	n, ok := lit.(*ast.NumberLit)
	if !ok {
		return 0, fmt.Errorf("must be a number")
	}
	return signed(e, n.Value), nil
}

func optionValues(e ast.Expr) ([]string, error) {
	list, ok := e.(*ast.ListLit)
	if !ok {
		return nil, fmt.Errorf("must be a list literal")
	}
	out := make([]string, 0, len(list.Items))
	for _, it := range list.Items {
		lit, err := literalValue(it)
		if err != nil {
			return nil, err
		}
		switch v := lit.(type) {
		case *ast.StringLit:
			out = append(out, v.Value)
		case *ast.NumberLit:
			out = append(out, strconv.FormatFloat(signed(it, v.Value), 'g', -1, 64))
		default:
			return nil, fmt.Errorf("must hold strings or numbers")
		}
	}
	return out, nil
}

func checkDefault(d *ast.InputDecl) error {
	var v float64
	switch x := d.Default.(type) {
	case int:
		v = float64(x)
	case float64:
		v = x
	case string:
		if len(d.Options) > 0 && !contains(d.Options, x) {
			return fmt.Errorf("input %q: default %q is not one of its options", d.Name, x)
		}
		return nil
	default:
		return nil
	}
	if d.Min != nil && v < *d.Min {
		return fmt.Errorf("input %q: default %g is below minval %g", d.Name, v, *d.Min)
	}
	if d.Max != nil && v > *d.Max {
		return fmt.Errorf("input %q: default %g is above maxval %g", d.Name, v, *d.Max)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
