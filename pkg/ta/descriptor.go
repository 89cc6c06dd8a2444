package ta

import "fmt"

// ParamKind classifies a descriptor parameter.
type ParamKind int

const (
	// SeriesParam takes a per-bar series.
	SeriesParam ParamKind = iota
	// LengthParam is a positive bar count; it contributes to warmup.
	LengthParam
	// IntParam is any integer known before evaluation.
	IntParam
	// FloatParam is a number known before evaluation.
	FloatParam
	// BoolParam is a flag known before evaluation.
	BoolParam
)

var paramKindNames = map[ParamKind]string{
	SeriesParam: "series",
	LengthParam: "length",
	IntParam:    "int",
	FloatParam:  "float",
	BoolParam:   "bool",
}

func (k ParamKind) String() string {
	if s, ok := paramKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ParamKind(%d)", int(k))
}

// Scalar reports whether the parameter must be known before evaluation.
func (k ParamKind) Scalar() bool { return k != SeriesParam }

// Param is one entry of a descriptor's parameter list.
type Param struct {
	Name string
	Kind ParamKind
	// Optional parameters fall back to Default (scalars and constant
	// series) or Price (series) when omitted.
	Optional bool
	Default  float64
	// Price names the bar-table builtin a series parameter reads when it is
	// omitted or injected implicitly.
	Price string
	// Hidden parameters are never bound positionally.
	Hidden bool
}

// Fn computes a descriptor's outputs. series holds the series arguments in
// parameter order and scalars the scalar arguments in parameter order.
type Fn func(series [][]float64, scalars []float64) [][]float64

// Descriptor is the calling metadata and implementation of one cataloged
// function.
type Descriptor struct {
	ID       string
	Category string
	Summary  string
	Params   []Param
	// Implicit lists the leading series parameters that may be omitted;
	// they are injected from their Price builtins.
	Implicit []string
	// Outputs names the results in order. A single output is a plain value.
	Outputs []string
	// Bool marks outputs encoded as 1/0 truth values.
	Bool bool
	// Variable descriptors may be referenced without parentheses.
	Variable bool
	// Variadic descriptors accept extra trailing series arguments of the
	// last parameter's kind.
	Variadic bool
	Fn       Fn
}

// Param returns the index of the named parameter.
func (d *Descriptor) Param(name string) (int, bool) {
	for i, p := range d.Params {
		if p.Name == name {
			return i, true
		}
	}
	return -1, false
}

// IsImplicit reports whether the named parameter may be injected.
func (d *Descriptor) IsImplicit(name string) bool {
	for _, n := range d.Implicit {
		if n == name {
			return true
		}
	}
	return false
}

// MultiOutput reports whether the descriptor returns a tuple.
func (d *Descriptor) MultiOutput() bool { return len(d.Outputs) > 1 }

// Signature renders the call shape, e.g. "ta.atr([high, low, close], length)".
func (d *Descriptor) Signature() string {
	s := d.ID + "("
	for i, p := range d.Params {
		if i > 0 {
			s += ", "
		}
		name := p.Name
		if d.IsImplicit(p.Name) {
			name = "[" + name + "]"
		}
		if p.Optional && !d.IsImplicit(p.Name) {
			name += "?"
		}
		s += name
	}
	if d.Variadic {
		s += ", ..."
	}
	return s + ")"
}

// Validate checks the descriptor's internal consistency.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor without id")
	}
	if d.Fn == nil {
		return fmt.Errorf("%s: missing implementation", d.ID)
	}
	if len(d.Outputs) == 0 {
		return fmt.Errorf("%s: no outputs", d.ID)
	}
	for i, name := range d.Implicit {
		if i >= len(d.Params) || d.Params[i].Name != name {
			return fmt.Errorf("%s: implicit parameter %q must lead the parameter list", d.ID, name)
		}
		if d.Params[i].Kind != SeriesParam || d.Params[i].Price == "" {
			return fmt.Errorf("%s: implicit parameter %q needs a price source", d.ID, name)
		}
	}
	seen := map[string]bool{}
	for _, p := range d.Params {
		if seen[p.Name] {
			return fmt.Errorf("%s: duplicate parameter %q", d.ID, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
