package compiler

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/algomatic/pinec/pkg/types"
)

// Validate compiles source and returns human-readable diagnostics without
// handing back a strategy. Errors come first; a script that compiles may
// still get warnings. An empty result means the script is clean.
func Validate(source string) []string {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	cs, err := Compile(source, WithLogger(quiet))
	if err != nil {
		return []string{err.Error()}
	}
	return Warnings(cs)
}

// Warnings lists suspicious but legal properties of a compiled script.
func Warnings(cs *CompiledStrategy) []string {
	var warns []string
	if cs.Name == "" {
		warns = append(warns, "warning: no strategy(...) declaration; using default settings")
	}
	fires := func(sig types.Signal) bool { return cs.program.Signal(sig).String() != "false" }
	switch {
	case !fires(types.LongEntry) && !fires(types.ShortEntry) && !fires(types.LongExit) && !fires(types.ShortExit):
		warns = append(warns, "warning: no strategy actions; every signal is always false")
	case !fires(types.LongEntry) && !fires(types.ShortEntry):
		warns = append(warns, "warning: exits without any entries")
	}
	for _, name := range cs.InputOrder {
		spec := cs.Inputs[name]
		if spec.Kind == types.InputString && len(spec.Options) == 0 {
			warns = append(warns, fmt.Sprintf("warning: string input %q has no options; any value is accepted", name))
		}
	}
	return warns
}
