package codegen

import (
	"github.com/algomatic/pinec/pkg/ast"
	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

// callOutputs lowers a cataloged call and returns one node per output.
func (g *generator) callOutputs(c *ast.CallExpr) ([]ir.Node, error) {
	d, ok := ta.Lookup(c.Func)
	if !ok {
		return nil, errorf(c, c.Func, "unknown function")
	}
	slots, extra, err := g.bindArgs(d, c)
	if err != nil {
		return nil, err
	}

	call := &ir.Call{ID: d.ID, Outputs: len(d.Outputs)}
	for i, p := range d.Params {
		arg := slots[i]
		if p.Kind.Scalar() {
			s := ir.Scalar{Kind: p.Kind, Value: p.Default}
			if arg != nil {
				if s, err = g.scalarArg(d, p, arg); err != nil {
					return nil, err
				}
			} else if !p.Optional {
				return nil, errorf(c, d.ID, "missing argument %q; expected %s", p.Name, d.Signature())
			}
			if p.Kind == ta.LengthParam {
				g.prog.Lengths = append(g.prog.Lengths, s)
			}
			call.Scalars = append(call.Scalars, s)
			call.Args = append(call.Args, false)
			continue
		}

		var n ir.Node
		switch {
		case arg != nil:
			n, err = g.seriesArg(d, p.Name, arg)
		case p.Price != "":
			n, err = g.column(p.Price, c)
		case p.Optional:
			n, err = g.node(&ir.Const{Value: p.Default, K: ir.Num}, c)
		default:
			return nil, errorf(c, d.ID, "missing argument %q; expected %s", p.Name, d.Signature())
		}
		if err != nil {
			return nil, err
		}
		call.Series = append(call.Series, n)
		call.Args = append(call.Args, true)
	}
	for _, arg := range extra {
		n, err := g.seriesArg(d, "", arg)
		if err != nil {
			return nil, err
		}
		call.Series = append(call.Series, n)
		call.Args = append(call.Args, true)
	}
	g.prog.Calls = append(g.prog.Calls, call)

	kind := ir.Num
	if d.Bool {
		kind = ir.Bool
	}
	outs := make([]ir.Node, len(d.Outputs))
	for i, name := range d.Outputs {
		if outs[i], err = g.node(&ir.Output{Call: call, Index: i, Name: name, K: kind}, c); err != nil {
			return nil, err
		}
	}
	return outs, nil
}

// bindArgs matches positional and keyword arguments to parameter slots.
//
// When the first positional argument is a value fixed before evaluation, or
// there are no positional arguments, and no implicit parameter was passed by
// keyword, positional binding skips the implicit parameters; they are later
// filled from their price builtins. Hidden parameters only bind by keyword.
func (g *generator) bindArgs(d *ta.Descriptor, c *ast.CallExpr) (slots, extra []ast.Expr, err error) {
	positional := c.Positional()

	inject := len(d.Implicit) > 0
	for _, name := range d.Implicit {
		if _, ok := c.Keyword(name); ok {
			inject = false
		}
	}
	if inject && len(positional) > 0 {
		if _, _, fixed := g.constant(positional[0]); !fixed {
			inject = false
		}
	}

	slots = make([]ast.Expr, len(d.Params))
	next := 0
	for _, arg := range positional {
		for next < len(d.Params) && (d.Params[next].Hidden || (inject && d.IsImplicit(d.Params[next].Name))) {
			next++
		}
		if next >= len(d.Params) {
			if d.Variadic {
				extra = append(extra, arg)
				continue
			}
			return nil, nil, errorf(c, d.ID, "too many arguments; expected %s", d.Signature())
		}
		slots[next] = arg
		next++
	}

	for _, a := range c.Args {
		if a.Name == "" {
			continue
		}
		i, ok := d.Param(a.Name)
		if !ok {
			return nil, nil, errorf(c, d.ID, "no parameter named %q; expected %s", a.Name, d.Signature())
		}
		if slots[i] != nil {
			return nil, nil, errorf(c, d.ID, "argument %q given more than once", a.Name)
		}
		slots[i] = a.Value
	}
	return slots, extra, nil
}

func (g *generator) seriesArg(d *ta.Descriptor, name string, arg ast.Expr) (ir.Node, error) {
	n, err := g.expr(arg)
	if err != nil {
		return nil, err
	}
	if n.Kind() == ir.Str {
		return nil, errorf(arg, d.ID, "argument %q cannot be a string", name)
	}
	return n, nil
}

// scalarArg resolves an argument that must be known before evaluation: a
// literal, a declared input, or a name bound to either.
func (g *generator) scalarArg(d *ta.Descriptor, p ta.Param, arg ast.Expr) (ir.Scalar, error) {
	s := ir.Scalar{Kind: p.Kind}
	lit, input, ok := g.constant(arg)
	if !ok {
		return s, errorf(arg, d.ID, "%s argument %q must be a literal or a declared input", p.Kind, p.Name)
	}

	if input != "" {
		in := g.inputs[input]
		if !inputFits(p.Kind, in.Kind) {
			return s, errorf(arg, d.ID, "%s argument %q cannot take %s input %q", p.Kind, p.Name, in.Kind, input)
		}
		s.Input = input
		return s, nil
	}

	switch v := lit.(type) {
	case *ast.NumberLit:
		switch p.Kind {
		case ta.BoolParam:
			return s, errorf(arg, d.ID, "argument %q must be true or false", p.Name)
		case ta.LengthParam:
			if !v.IsInt || v.Value < 1 {
				return s, errorf(arg, d.ID, "length argument %q must be a positive integer, got %s", p.Name, v.Text)
			}
		case ta.IntParam:
			if !v.IsInt {
				return s, errorf(arg, d.ID, "argument %q must be an integer, got %s", p.Name, v.Text)
			}
		}
		s.Value = v.Value
	case *ast.BoolLit:
		if p.Kind != ta.BoolParam {
			return s, errorf(arg, d.ID, "%s argument %q cannot be a bool", p.Kind, p.Name)
		}
		if v.Value {
			s.Value = 1
		}
	}
	return s, nil
}

func inputFits(p ta.ParamKind, in types.InputKind) bool {
	switch p {
	case ta.LengthParam, ta.IntParam:
		return in == types.InputInt
	case ta.FloatParam:
		return in == types.InputInt || in == types.InputFloat
	case ta.BoolParam:
		return in == types.InputBool
	}
	return false
}
