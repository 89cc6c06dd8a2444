// Package sandbox evaluates a lowered program over a bar table.
//
// Load re-resolves every call site against the ta catalog, so only cataloged
// functions ever run. The resulting Procedure is immutable: each Compute call
// builds its own evaluation frame, so one Procedure may serve any number of
// goroutines.
package sandbox

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

// ExecutionError is a failure while loading or evaluating a program. Op names
// the stage or function that failed.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func execErr(op, format string, args ...any) *ExecutionError {
	return &ExecutionError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Option configures a Procedure.
type Option func(*Procedure)

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Procedure) {
		if l != nil {
			p.logger = l
		}
	}
}

// Procedure is a loaded program ready to compute signals.
type Procedure struct {
	prog   *ir.Program
	inputs map[string]types.InputSpec
	fns    map[*ir.Call]ta.Fn
	logger *slog.Logger
}

// Load checks prog against the catalog and the declared inputs.
func Load(prog *ir.Program, inputs map[string]types.InputSpec, opts ...Option) (*Procedure, error) {
	p := &Procedure{
		prog:   prog,
		inputs: inputs,
		fns:    make(map[*ir.Call]ta.Fn, len(prog.Calls)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, c := range prog.Calls {
		if err := p.resolve(c); err != nil {
			return nil, err
		}
	}
	for _, s := range prog.Lengths {
		if s.Input != "" {
			if _, ok := inputs[s.Input]; !ok {
				return nil, execErr("load", "length reads undeclared input %q", s.Input)
			}
		}
	}

	var err error
	check := func(n ir.Node) {
		if err != nil {
			return
		}
		switch x := n.(type) {
		case *ir.Column:
			if !slices.Contains(ir.Columns, x.Name) {
				err = execErr("load", "unknown column %q", x.Name)
			}
		case *ir.Input:
			if _, ok := inputs[x.Name]; !ok {
				err = execErr("load", "undeclared input %q", x.Name)
			}
		case *ir.Output:
			if _, ok := p.fns[x.Call]; !ok {
				err = execErr("load", "call %s was not registered with the program", x.Call.ID)
			}
		}
	}
	for sig, root := range prog.Signals {
		if root == nil {
			return nil, execErr("load", "missing root for %s", types.Signal(sig))
		}
		ir.Walk(root, check)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// resolve looks a call site up in the catalog and checks its arity.
func (p *Procedure) resolve(c *ir.Call) error {
	d, ok := ta.Lookup(c.ID)
	if !ok {
		return execErr("load", "function %q is not in the catalog", c.ID)
	}
	series, scalars := 0, 0
	for _, prm := range d.Params {
		if prm.Kind.Scalar() {
			scalars++
		} else {
			series++
		}
	}
	if len(c.Scalars) != scalars || len(c.Series) < series || (len(c.Series) > series && !d.Variadic) {
		return execErr("load", "%s called with %d series and %d scalar arguments", c.ID, len(c.Series), len(c.Scalars))
	}
	if c.Outputs != len(d.Outputs) {
		return execErr("load", "%s has %d outputs, program expects %d", c.ID, len(d.Outputs), c.Outputs)
	}
	for _, s := range c.Scalars {
		if s.Input != "" {
			if _, ok := p.inputs[s.Input]; !ok {
				return execErr("load", "%s reads undeclared input %q", c.ID, s.Input)
			}
		}
	}
	p.fns[c] = d.Fn
	return nil
}

// Warmup is the number of leading bars masked for the given parameters.
func (p *Procedure) Warmup(params map[string]any) (int, error) {
	values, err := p.resolveParams(params)
	if err != nil {
		return 0, err
	}
	return p.warmup(values), nil
}

func (p *Procedure) warmup(values map[string]value) int {
	return p.prog.Warmup(func(name string) (float64, bool) {
		v, ok := values[name]
		return v.num, ok
	})
}

// Compute evaluates the four signals over bars. params overrides input
// defaults by name; unknown names are ignored.
func (p *Procedure) Compute(bars *types.BarTable, params map[string]any) (out types.SignalTuple, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Evaluation panicked", "error", r, "bars", bars.Len())
			out, err = types.SignalTuple{}, execErr("compute", "panic: %v", r)
		}
	}()

	if err := bars.Validate(); err != nil {
		return types.SignalTuple{}, &ExecutionError{Op: "bars", Err: err}
	}
	values, err := p.resolveParams(params)
	if err != nil {
		return types.SignalTuple{}, err
	}

	f := &frame{
		bars:   bars,
		n:      bars.Len(),
		params: values,
		fns:    p.fns,
		memo:   make(map[ir.Node][]float64),
		calls:  make(map[*ir.Call][][]float64),
	}
	warmup := p.warmup(values)

	var arrays [types.NumSignals][]bool
	for sig, root := range p.prog.Signals {
		v, err := f.eval(root)
		if err != nil {
			return types.SignalTuple{}, err
		}
		arrays[sig] = toBools(v, warmup)
	}
	return types.SignalTuple{
		LongEntry:  arrays[types.LongEntry],
		LongExit:   arrays[types.LongExit],
		ShortEntry: arrays[types.ShortEntry],
		ShortExit:  arrays[types.ShortExit],
	}, nil
}

// toBools converts a truth series, treating undefined and the first warmup
// bars as false.
func toBools(v []float64, warmup int) []bool {
	out := make([]bool, len(v))
	for i, x := range v {
		out[i] = i >= warmup && !math.IsNaN(x) && x != 0
	}
	return out
}
