// Package service is the transport-independent core shared by the HTTP API,
// the gRPC server and the CLI: compile scripts, evaluate them over bars that
// come inline or from the database, and keep named scripts.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/algomatic/pinec/pkg/compiler"
	"github.com/algomatic/pinec/pkg/metrics"
	"github.com/algomatic/pinec/pkg/sandbox"
	"github.com/algomatic/pinec/pkg/store"
	"github.com/algomatic/pinec/pkg/types"
)

var (
	// ErrNotFound is returned when a named script does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when a request needs a backend that is
	// not configured.
	ErrUnavailable = errors.New("backend not configured")
	// ErrInvalid marks malformed requests.
	ErrInvalid = errors.New("invalid request")
)

// BarSource loads bar tables by symbol and timeframe.
type BarSource interface {
	LoadBars(ctx context.Context, q store.BarQuery) (*types.BarTable, error)
}

// ScriptStore persists named scripts.
type ScriptStore interface {
	Save(ctx context.Context, s *store.Script) (int64, error)
	Get(ctx context.Context, name string) (*store.Script, error)
	List(ctx context.Context) ([]store.Script, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// SignalCache stores computed signal tuples.
type SignalCache interface {
	Key(source string, params map[string]any, bars *types.BarTable) (string, error)
	Fetch(ctx context.Context, key string, compute func() (types.SignalTuple, error)) (types.SignalTuple, bool, error)
}

// maxCompiled bounds the in-process table of compiled strategies.
const maxCompiled = 256

// Config wires a Service. Every backend is optional.
type Config struct {
	Compiler []compiler.Option
	Bars     BarSource
	Scripts  ScriptStore
	Cache    SignalCache
	Logger   *slog.Logger
	Version  string
}

// Service compiles and evaluates scripts.
type Service struct {
	opts    []compiler.Option
	bars    BarSource
	scripts ScriptStore
	cache   SignalCache
	logger  *slog.Logger
	version string
	started time.Time

	mu       sync.Mutex
	compiled map[string]*compiler.CompiledStrategy
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		opts:     append([]compiler.Option{compiler.WithLogger(logger)}, cfg.Compiler...),
		bars:     cfg.Bars,
		scripts:  cfg.Scripts,
		cache:    cfg.Cache,
		logger:   logger,
		version:  cfg.Version,
		started:  time.Now(),
		compiled: make(map[string]*compiler.CompiledStrategy),
	}
}

// Version returns the build version reported by status endpoints.
func (s *Service) Version() string { return s.version }

// UptimeSeconds returns seconds since the service was created.
func (s *Service) UptimeSeconds() float64 { return time.Since(s.started).Seconds() }

// HasDatabase reports whether bar loading and script storage are available.
func (s *Service) HasDatabase() bool { return s.bars != nil && s.scripts != nil }

// HasBars reports whether symbol queries can be served.
func (s *Service) HasBars() bool { return s.bars != nil }

// HasCache reports whether signal caching is enabled.
func (s *Service) HasCache() bool { return s.cache != nil }

// ---------------------------------------------------------------------------
// Compilation
// ---------------------------------------------------------------------------

// Compile returns the compiled form of source. Identical sources share one
// CompiledStrategy.
func (s *Service) Compile(source string) (*compiler.CompiledStrategy, error) {
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])

	s.mu.Lock()
	cs, ok := s.compiled[key]
	s.mu.Unlock()
	if ok {
		return cs, nil
	}

	start := time.Now()
	cs, err := compiler.Compile(source, s.opts...)
	if err != nil {
		outcome := "error"
		var ce *compiler.CompilationError
		if errors.As(err, &ce) {
			outcome = string(ce.Phase)
		}
		metrics.ObserveCompile(outcome, time.Since(start))
		return nil, err
	}
	metrics.ObserveCompile("ok", time.Since(start))

	s.mu.Lock()
	// A full table is dropped wholesale; the next compiles refill it.
	if len(s.compiled) >= maxCompiled {
		clear(s.compiled)
	}
	s.compiled[key] = cs
	s.mu.Unlock()
	return cs, nil
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// EvalRequest selects a script, its parameters and the bars to run over.
// Exactly one of Source and Script names the script, and exactly one of
// Bars and Query supplies the bars.
type EvalRequest struct {
	Source string
	Script string
	Params map[string]any
	Bars   *types.BarTable
	Query  *store.BarQuery
}

// EvalResult is the outcome of one evaluation.
type EvalResult struct {
	Name    string
	Warmup  int
	Bars    *types.BarTable
	Signals types.SignalTuple
	Cached  bool
}

// Evaluate compiles (or reuses) the requested script and computes its
// signals.
func (s *Service) Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error) {
	source, err := s.resolveSource(ctx, req)
	if err != nil {
		return nil, err
	}
	cs, err := s.Compile(source)
	if err != nil {
		return nil, err
	}
	bars, err := s.resolveBars(ctx, req)
	if err != nil {
		return nil, err
	}

	warmup, err := cs.EffectiveWarmup(req.Params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	compute := func() (types.SignalTuple, error) { return cs.Compute(bars, req.Params) }
	var (
		tuple  types.SignalTuple
		cached bool
		mode   = "off"
	)
	if s.cache != nil {
		key, kerr := s.cache.Key(source, req.Params, bars)
		if kerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, kerr)
		}
		tuple, cached, err = s.cache.Fetch(ctx, key, compute)
		mode = "miss"
		if cached {
			mode = "hit"
		}
	} else {
		tuple, err = compute()
	}
	if err != nil {
		metrics.ObserveEvaluate("error", mode, bars.Len(), time.Since(start))
		return nil, err
	}
	metrics.ObserveEvaluate("ok", mode, bars.Len(), time.Since(start))

	s.logger.Debug("Evaluated strategy",
		"name", cs.Name,
		"bars", bars.Len(),
		"warmup", warmup,
		"cache", mode,
		"duration", time.Since(start),
	)
	return &EvalResult{Name: cs.Name, Warmup: warmup, Bars: bars, Signals: tuple, Cached: cached}, nil
}

func (s *Service) resolveSource(ctx context.Context, req EvalRequest) (string, error) {
	switch {
	case req.Source != "" && req.Script != "":
		return "", fmt.Errorf("%w: give either source or script, not both", ErrInvalid)
	case req.Source != "":
		return req.Source, nil
	case req.Script != "":
		sc, err := s.Script(ctx, req.Script)
		if err != nil {
			return "", err
		}
		return sc.Source, nil
	}
	return "", fmt.Errorf("%w: source or script is required", ErrInvalid)
}

func (s *Service) resolveBars(ctx context.Context, req EvalRequest) (*types.BarTable, error) {
	switch {
	case req.Bars != nil && req.Query != nil:
		return nil, fmt.Errorf("%w: give either bars or a symbol query, not both", ErrInvalid)
	case req.Bars != nil:
		return req.Bars, nil
	case req.Query != nil:
		if s.bars == nil {
			return nil, fmt.Errorf("loading bars for %s: %w", req.Query.Symbol, ErrUnavailable)
		}
		bars, err := s.bars.LoadBars(ctx, *req.Query)
		if err != nil {
			return nil, fmt.Errorf("loading bars for %s: %w", req.Query.Symbol, err)
		}
		return bars, nil
	}
	return nil, fmt.Errorf("%w: bars or a symbol query is required", ErrInvalid)
}

// ---------------------------------------------------------------------------
// Named scripts
// ---------------------------------------------------------------------------

// SaveScript compiles source and stores it under name. Scripts that do not
// compile are never stored.
func (s *Service) SaveScript(ctx context.Context, name, source string) (*store.Script, error) {
	if s.scripts == nil {
		return nil, ErrUnavailable
	}
	if name == "" {
		return nil, fmt.Errorf("%w: script name is required", ErrInvalid)
	}
	cs, err := s.Compile(source)
	if err != nil {
		return nil, err
	}
	sc := &store.Script{
		Name:      name,
		Source:    source,
		Warmup:    cs.Warmup,
		Inputs:    cs.Inputs,
		Functions: cs.Functions,
	}
	id, err := s.scripts.Save(ctx, sc)
	if err != nil {
		return nil, err
	}
	sc.ID = id
	s.logger.Info("Script saved", "name", name, "id", id, "warmup", cs.Warmup)
	return sc, nil
}

// Script returns a stored script by name.
func (s *Service) Script(ctx context.Context, name string) (*store.Script, error) {
	if s.scripts == nil {
		return nil, ErrUnavailable
	}
	sc, err := s.scripts.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, fmt.Errorf("script %q: %w", name, ErrNotFound)
	}
	return sc, nil
}

// Scripts lists stored scripts.
func (s *Service) Scripts(ctx context.Context) ([]store.Script, error) {
	if s.scripts == nil {
		return nil, ErrUnavailable
	}
	return s.scripts.List(ctx)
}

// DeleteScript removes a stored script.
func (s *Service) DeleteScript(ctx context.Context, name string) error {
	if s.scripts == nil {
		return ErrUnavailable
	}
	ok, err := s.scripts.Delete(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("script %q: %w", name, ErrNotFound)
	}
	return nil
}

// IsUserError reports whether err is the caller's fault: a script that does
// not compile, parameters or bars the strategy rejects, or a malformed
// request.
func IsUserError(err error) bool {
	var (
		ce *compiler.CompilationError
		ee *sandbox.ExecutionError
	)
	return errors.As(err, &ce) || errors.As(err, &ee) || errors.Is(err, ErrInvalid)
}
