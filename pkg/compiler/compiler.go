// Package compiler is the single entry point from script source to an
// executable strategy.
//
// Compile runs the tokenizer, parser, code generator and sandbox loader in
// order. Any failure comes back as a *CompilationError tagged with the phase
// that raised it; the phase error is available through errors.As.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/algomatic/pinec/pkg/codegen"
	"github.com/algomatic/pinec/pkg/ir"
	"github.com/algomatic/pinec/pkg/lexer"
	"github.com/algomatic/pinec/pkg/parser"
	"github.com/algomatic/pinec/pkg/sandbox"
	"github.com/algomatic/pinec/pkg/types"
)

// Phase names the compilation stage that failed.
type Phase string

const (
	PhaseLex     Phase = "lex"
	PhaseParse   Phase = "parse"
	PhaseCodegen Phase = "codegen"
	PhaseLoad    Phase = "load"
)

// CompilationError is any failure to compile a script.
type CompilationError struct {
	Phase   Phase
	Line    int
	Message string
	Err     error
}

func (e *CompilationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s error at line %d: %s", e.Phase, e.Line, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Phase, e.Message)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// Syntax reports whether the script was rejected before code generation,
// including every unsupported construct.
func (e *CompilationError) Syntax() bool {
	return e.Phase == PhaseLex || e.Phase == PhaseParse
}

// Unsupported reports whether the script uses a construct the language
// deliberately leaves out (loops, persistent state, requests, ...).
func (e *CompilationError) Unsupported() bool {
	var pe *parser.Error
	return errors.As(e.Err, &pe) && pe.Unsupported()
}

// Option configures compilation.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	maxDepth   int
	nodeBudget int
}

// WithLogger sets the logger for compilation and evaluation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxDepth overrides the parser's expression nesting limit.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithNodeBudget overrides the code generator's node ceiling.
func WithNodeBudget(n int) Option {
	return func(o *options) { o.nodeBudget = n }
}

// CompiledStrategy is an immutable, concurrency-safe compiled script.
type CompiledStrategy struct {
	Name   string
	Inputs map[string]types.InputSpec
	// InputOrder lists input names in declaration order.
	InputOrder []string
	// Warmup is computed with every input at its default.
	Warmup   int
	Settings types.Settings
	// Functions and Columns are the catalog functions and bar-table
	// columns the script reads.
	Functions []string
	Columns   []string

	program *ir.Program
	proc    *sandbox.Procedure
}

// Compute evaluates the four signals over bars. params overrides input
// defaults by name; unknown names are ignored. Errors are
// *sandbox.ExecutionError.
func (s *CompiledStrategy) Compute(bars *types.BarTable, params map[string]any) (types.SignalTuple, error) {
	return s.proc.Compute(bars, params)
}

// EffectiveWarmup is the warmup Compute applies for params.
func (s *CompiledStrategy) EffectiveWarmup(params map[string]any) (int, error) {
	return s.proc.Warmup(params)
}

// Program renders the lowered computation graph as text.
func (s *CompiledStrategy) Program() string {
	return s.program.String()
}

// Compile translates source into a CompiledStrategy.
func Compile(source string, opts ...Option) (*CompiledStrategy, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	tokens, err := lexer.Tokenize(source)
	if err != nil {
		return nil, wrap(PhaseLex, err)
	}

	var parseOpts []parser.Option
	if o.maxDepth > 0 {
		parseOpts = append(parseOpts, parser.WithMaxDepth(o.maxDepth))
	}
	prog, err := parser.Parse(tokens, parseOpts...)
	if err != nil {
		return nil, wrap(PhaseParse, err)
	}

	var genOpts []codegen.Option
	if o.nodeBudget > 0 {
		genOpts = append(genOpts, codegen.WithNodeBudget(o.nodeBudget))
	}
	res, err := codegen.Generate(prog, genOpts...)
	if err != nil {
		return nil, wrap(PhaseCodegen, err)
	}

	proc, err := sandbox.Load(res.Program, res.Inputs, sandbox.WithLogger(logger))
	if err != nil {
		return nil, wrap(PhaseLoad, err)
	}

	cs := &CompiledStrategy{
		Name:       res.Name,
		Inputs:     res.Inputs,
		InputOrder: res.InputOrder,
		Warmup:     res.Warmup,
		Settings:   res.Settings,
		Functions:  codegen.RequiredFunctions(prog),
		Columns:    codegen.RequiredColumns(res.Program),
		program:    res.Program,
		proc:       proc,
	}
	logger.Debug("Compiled strategy",
		"name", cs.Name,
		"inputs", len(cs.Inputs),
		"warmup", cs.Warmup,
		"calls", len(res.Program.Calls),
		"nodes", res.Program.Nodes,
		"duration", time.Since(start),
	)
	return cs, nil
}

// wrap tags a phase error with its phase and line.
func wrap(phase Phase, err error) *CompilationError {
	ce := &CompilationError{Phase: phase, Message: err.Error(), Err: err}
	var (
		le *lexer.Error
		pe *parser.Error
		ge *codegen.Error
	)
	switch {
	case errors.As(err, &le):
		ce.Line, ce.Message = le.Line, le.Message
	case errors.As(err, &pe):
		ce.Line, ce.Message = pe.Line, pe.Message
	case errors.As(err, &ge):
		ce.Line = ge.Line
		ce.Message = ge.Message
		if ge.Construct != "" {
			ce.Message = ge.Construct + ": " + ge.Message
		}
	}
	return ce
}
