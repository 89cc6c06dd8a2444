package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/algomatic/pinec/pkg/types"
)

// value is a resolved input. Numbers and bools live in num (bools as 1/0);
// strings in str.
type value struct {
	num float64
	str string
}

// resolveParams merges params over the input defaults and checks every
// effective value against its declaration.
func (p *Procedure) resolveParams(params map[string]any) (map[string]value, error) {
	out := make(map[string]value, len(p.inputs))
	for name, spec := range p.inputs {
		raw, given := params[name]
		if !given {
			raw = spec.Default
		}
		v, err := coerce(spec.Kind, raw)
		if err != nil {
			return nil, &ExecutionError{Op: "params", Err: fmt.Errorf("input %q: %w", name, err)}
		}
		if err := check(spec, v); err != nil {
			return nil, &ExecutionError{Op: "params", Err: fmt.Errorf("input %q: %w", name, err)}
		}
		out[name] = v
	}
	return out, nil
}

// coerce converts a JSON-decoded or Go-typed parameter to an input value.
func coerce(kind types.InputKind, raw any) (value, error) {
	switch kind {
	case types.InputInt, types.InputFloat:
		f, err := number(raw)
		if err != nil {
			return value{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return value{}, fmt.Errorf("%v is not a finite number", raw)
		}
		if kind == types.InputInt && f != math.Trunc(f) {
			return value{}, fmt.Errorf("%v is not an integer", raw)
		}
		return value{num: f}, nil

	case types.InputBool:
		switch b := raw.(type) {
		case bool:
			return value{num: boolNum(b)}, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return value{}, fmt.Errorf("%q is not a bool", b)
			}
			return value{num: boolNum(parsed)}, nil
		}
		return value{}, fmt.Errorf("expected a bool, got %T", raw)

	case types.InputString:
		s, ok := raw.(string)
		if !ok {
			return value{}, fmt.Errorf("expected a string, got %T", raw)
		}
		return value{str: s}, nil
	}
	return value{}, fmt.Errorf("unknown input kind %q", kind)
}

func number(raw any) (float64, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func check(spec types.InputSpec, v value) error {
	if spec.Kind == types.InputString {
		if len(spec.Options) > 0 && !slices.Contains(spec.Options, v.str) {
			return fmt.Errorf("%q is not one of %v", v.str, spec.Options)
		}
		return nil
	}
	if spec.Kind == types.InputBool {
		return nil
	}
	if spec.Min != nil && v.num < *spec.Min {
		return fmt.Errorf("%g is below minval %g", v.num, *spec.Min)
	}
	if spec.Max != nil && v.num > *spec.Max {
		return fmt.Errorf("%g is above maxval %g", v.num, *spec.Max)
	}
	if len(spec.Options) > 0 && !slices.Contains(spec.Options, strconv.FormatFloat(v.num, 'g', -1, 64)) {
		return fmt.Errorf("%g is not one of %v", v.num, spec.Options)
	}
	return nil
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
