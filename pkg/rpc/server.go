// Package rpc serves the compiler over gRPC as pinec.v1.Compiler.
//
// Requests and responses are google.protobuf.Struct messages so any gRPC
// client can call the service without generated stubs:
//
//	Compile   {source, emit?}                      -> {name, warmup, inputs, input_order, settings, functions, columns, warnings, program?}
//	Validate  {source}                             -> {valid, diagnostics}
//	Evaluate  {source | script, params?, bars | symbol+timeframe(+start, end)}
//	                                               -> {name, bars, warmup, cached, signals, counts}
//
// Inline bars are columnar: {open, high, low, close, volume, time?} with
// time in Unix milliseconds.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/algomatic/pinec/pkg/compiler"
	"github.com/algomatic/pinec/pkg/sandbox"
	"github.com/algomatic/pinec/pkg/service"
	"github.com/algomatic/pinec/pkg/store"
	"github.com/algomatic/pinec/pkg/types"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "pinec.v1.Compiler"

// CompilerServer is the server API for pinec.v1.Compiler.
type CompilerServer interface {
	Compile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Validate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements CompilerServer on top of a service.Service.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewServer creates a new Server.
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv CompilerServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Compile compiles a script and describes it.
func (s *Server) Compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source, err := stringField(req, "source")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if source == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}
	cs, err := s.svc.Compile(source)
	if err != nil {
		return nil, s.mapError(err, "compile")
	}

	inputs := make(map[string]any, len(cs.Inputs))
	for name, spec := range cs.Inputs {
		inputs[name] = inputSpec(spec)
	}
	resp := map[string]any{
		"name":        cs.Name,
		"warmup":      cs.Warmup,
		"inputs":      inputs,
		"input_order": stringList(cs.InputOrder),
		"settings": map[string]any{
			"initial_capital": cs.Settings.InitialCapital.String(),
			"commission":      cs.Settings.Commission.String(),
			"commission_type": cs.Settings.CommissionType,
			"slippage":        cs.Settings.Slippage.String(),
		},
		"functions": stringList(cs.Functions),
		"columns":   stringList(cs.Columns),
		"warnings":  stringList(compiler.Warnings(cs)),
	}
	if req.GetFields()["emit"].GetBoolValue() {
		resp["program"] = cs.Program()
	}
	return newStruct(resp)
}

// Validate reports errors and warnings for a script.
func (s *Server) Validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source, err := stringField(req, "source")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	cs, err := s.svc.Compile(source)
	if err != nil {
		return newStruct(map[string]any{"valid": false, "diagnostics": []any{err.Error()}})
	}
	return newStruct(map[string]any{"valid": true, "diagnostics": stringList(compiler.Warnings(cs))})
}

// Evaluate computes the four signals.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	er, err := evalRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.svc.Evaluate(ctx, er)
	if err != nil {
		return nil, s.mapError(err, "evaluate")
	}

	signals := make(map[string]any, types.NumSignals)
	counts := make(map[string]any, types.NumSignals)
	for sig := types.Signal(0); sig < types.NumSignals; sig++ {
		col := res.Signals.Get(sig)
		vals := make([]any, len(col))
		for i, v := range col {
			vals[i] = v
		}
		signals[sig.String()] = vals
		counts[sig.String()] = res.Signals.Count(sig)
	}
	return newStruct(map[string]any{
		"name":    res.Name,
		"bars":    res.Bars.Len(),
		"warmup":  res.Warmup,
		"cached":  res.Cached,
		"signals": signals,
		"counts":  counts,
	})
}

// mapError converts service errors to gRPC status codes.
func (s *Server) mapError(err error, op string) error {
	var (
		ce *compiler.CompilationError
		ee *sandbox.ExecutionError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &ee), errors.Is(err, service.ErrInvalid):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, service.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, service.ErrUnavailable):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: canceled", op)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: deadline exceeded", op)
	}
	s.logger.Error("RPC failed", "op", op, "error", err)
	return status.Errorf(codes.Internal, "%s failed", op)
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return st, nil
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func inputSpec(spec types.InputSpec) map[string]any {
	m := map[string]any{"kind": string(spec.Kind), "default": spec.Default}
	if spec.Title != "" {
		m["title"] = spec.Title
	}
	if spec.Min != nil {
		m["min"] = *spec.Min
	}
	if spec.Max != nil {
		m["max"] = *spec.Max
	}
	if len(spec.Options) > 0 {
		m["options"] = stringList(spec.Options)
	}
	return m
}

func stringField(st *structpb.Struct, name string) (string, error) {
	v, ok := st.GetFields()[name]
	if !ok {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return sv.StringValue, nil
}

func evalRequest(st *structpb.Struct) (service.EvalRequest, error) {
	var er service.EvalRequest
	var err error
	if er.Source, err = stringField(st, "source"); err != nil {
		return er, err
	}
	if er.Script, err = stringField(st, "script"); err != nil {
		return er, err
	}
	fields := st.GetFields()
	if p := fields["params"]; p != nil {
		ps := p.GetStructValue()
		if ps == nil {
			return er, fmt.Errorf("params must be an object")
		}
		er.Params = ps.AsMap()
	}
	if b := fields["bars"]; b != nil {
		bs := b.GetStructValue()
		if bs == nil {
			return er, fmt.Errorf("bars must be an object of columns")
		}
		if er.Bars, err = barTable(bs); err != nil {
			return er, err
		}
	}

	symbol, err := stringField(st, "symbol")
	if err != nil {
		return er, err
	}
	if symbol != "" {
		q := &store.BarQuery{Symbol: symbol}
		if q.Timeframe, err = stringField(st, "timeframe"); err != nil {
			return er, err
		}
		if q.Start, err = timeField(st, "start"); err != nil {
			return er, err
		}
		if q.End, err = timeField(st, "end"); err != nil {
			return er, err
		}
		er.Query = q
	}
	return er, nil
}

// timeField reads an RFC 3339 timestamp.
func timeField(st *structpb.Struct, name string) (*time.Time, error) {
	s, err := stringField(st, name)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &t, nil
}

func barTable(st *structpb.Struct) (*types.BarTable, error) {
	fields := st.GetFields()
	column := func(name string, required bool) ([]float64, error) {
		v, ok := fields[name]
		if !ok {
			if required {
				return nil, fmt.Errorf("bars.%s is required", name)
			}
			return nil, nil
		}
		list := v.GetListValue()
		if list == nil {
			return nil, fmt.Errorf("bars.%s must be a list of numbers", name)
		}
		out := make([]float64, len(list.GetValues()))
		for i, x := range list.GetValues() {
			n, ok := x.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("bars.%s[%d] is not a number", name, i)
			}
			out[i] = n.NumberValue
		}
		return out, nil
	}

	t := &types.BarTable{}
	var err error
	for _, c := range []struct {
		name string
		dst  *[]float64
	}{
		{"open", &t.Open}, {"high", &t.High}, {"low", &t.Low}, {"close", &t.Close}, {"volume", &t.Volume},
	} {
		if *c.dst, err = column(c.name, true); err != nil {
			return nil, err
		}
	}
	ms, err := column("time", false)
	if err != nil {
		return nil, err
	}
	if ms != nil {
		t.Time = make([]time.Time, len(ms))
		for i, v := range ms {
			t.Time[i] = time.UnixMilli(int64(v)).UTC()
		}
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compile", Handler: unary(CompilerServer.Compile, "Compile")},
		{MethodName: "Validate", Handler: unary(CompilerServer.Validate, "Validate")},
		{MethodName: "Evaluate", Handler: unary(CompilerServer.Evaluate, "Evaluate")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pinec/v1/compiler.proto",
}

type method func(CompilerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(m method, name string) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(CompilerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return m(srv.(CompilerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
