// Package api provides the HTTP JSON interface to the compiler.
//
// Endpoints:
//
//	GET    /api/v1/status            - Service health and backends
//	GET    /api/v1/catalog           - Indicator catalog (optional ?category=)
//	POST   /api/v1/compile           - Compile a script and describe it
//	POST   /api/v1/validate          - Errors and warnings for a script
//	POST   /api/v1/evaluate          - Compute the four signals over bars
//	GET    /api/v1/scripts           - List saved scripts
//	PUT    /api/v1/scripts/{name}    - Compile and save a script
//	GET    /api/v1/scripts/{name}    - Fetch a saved script
//	DELETE /api/v1/scripts/{name}    - Remove a saved script
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/algomatic/pinec/pkg/compiler"
	"github.com/algomatic/pinec/pkg/sandbox"
	"github.com/algomatic/pinec/pkg/service"
	"github.com/algomatic/pinec/pkg/store"
	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

// maxBodyBytes caps request bodies; bar tables dominate their size.
const maxBodyBytes = 32 << 20

// Server holds dependencies for the API handlers.
type Server struct {
	Service *service.Service
	Logger  *slog.Logger
}

// NewServer creates a new API server.
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Service: svc,
		Logger:  logger,
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.HandleStatus)
	mux.HandleFunc("GET /api/v1/catalog", s.HandleCatalog)
	mux.HandleFunc("POST /api/v1/compile", s.HandleCompile)
	mux.HandleFunc("POST /api/v1/validate", s.HandleValidate)
	mux.HandleFunc("POST /api/v1/evaluate", s.HandleEvaluate)
	mux.HandleFunc("GET /api/v1/scripts", s.HandleListScripts)
	mux.HandleFunc("PUT /api/v1/scripts/{name}", s.HandleSaveScript)
	mux.HandleFunc("GET /api/v1/scripts/{name}", s.HandleGetScript)
	mux.HandleFunc("DELETE /api/v1/scripts/{name}", s.HandleDeleteScript)
}

// ---------------------------------------------------------------------------
// Request and response types
// ---------------------------------------------------------------------------

type statusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version"`
	Functions     int     `json:"functions"`
	Database      bool    `json:"database"`
	Bars          bool    `json:"bars"`
	Cache         bool    `json:"cache"`
}

type paramItem struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Optional bool    `json:"optional,omitempty"`
	Default  float64 `json:"default,omitempty"`
	Price    string  `json:"price,omitempty"`
	Hidden   bool    `json:"hidden,omitempty"`
}

type catalogItem struct {
	ID        string      `json:"id"`
	Category  string      `json:"category"`
	Summary   string      `json:"summary"`
	Signature string      `json:"signature"`
	Params    []paramItem `json:"params"`
	Outputs   []string    `json:"outputs"`
}

type catalogResponse struct {
	Functions  []catalogItem `json:"functions"`
	Categories []string      `json:"categories"`
}

type sourceRequest struct {
	Source string `json:"source"`
	Emit   bool   `json:"emit,omitempty"`
}

type compileResponse struct {
	Name       string                     `json:"name"`
	Inputs     map[string]types.InputSpec `json:"inputs"`
	InputOrder []string                   `json:"input_order"`
	Warmup     int                        `json:"warmup"`
	Settings   types.Settings             `json:"settings"`
	Functions  []string                   `json:"functions"`
	Columns    []string                   `json:"columns"`
	Warnings   []string                   `json:"warnings"`
	Program    string                     `json:"program,omitempty"`
}

type validateResponse struct {
	Valid       bool     `json:"valid"`
	Diagnostics []string `json:"diagnostics"`
}

// barJSON is one row of an inline bar table.
type barJSON struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type evaluateRequest struct {
	Source    string         `json:"source,omitempty"`
	Script    string         `json:"script,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Bars      []barJSON      `json:"bars,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Timeframe string         `json:"timeframe,omitempty"`
	Start     *time.Time     `json:"start,omitempty"`
	End       *time.Time     `json:"end,omitempty"`
}

type evaluateResponse struct {
	Name    string            `json:"name"`
	Bars    int               `json:"bars"`
	Warmup  int               `json:"warmup"`
	Cached  bool              `json:"cached"`
	Signals map[string][]bool `json:"signals"`
	Counts  map[string]int    `json:"counts"`
}

type scriptItem struct {
	ID        int64                      `json:"id"`
	Name      string                     `json:"name"`
	Source    string                     `json:"source,omitempty"`
	Warmup    int                        `json:"warmup"`
	Inputs    map[string]types.InputSpec `json:"inputs"`
	Functions []string                   `json:"functions"`
	UpdatedAt *time.Time                 `json:"updated_at,omitempty"`
}

type scriptListResponse struct {
	Scripts []scriptItem `json:"scripts"`
	Total   int          `json:"total"`
}

type errorResponse struct {
	Error string `json:"error"`
	Phase string `json:"phase,omitempty"`
	Line  int    `json:"line,omitempty"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// HandleStatus returns overall service health and readiness.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "healthy",
		UptimeSeconds: s.Service.UptimeSeconds(),
		Version:       s.Service.Version(),
		Functions:     ta.Count(),
		Database:      s.Service.HasDatabase(),
		Bars:          s.Service.HasBars(),
		Cache:         s.Service.HasCache(),
	})
}

// HandleCatalog lists the callable indicator functions.
func (s *Server) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	var ds []*ta.Descriptor
	if c := r.URL.Query().Get("category"); c != "" {
		ds = ta.ByCategory(c)
	} else {
		ds = ta.All()
	}
	items := make([]catalogItem, len(ds))
	for i, d := range ds {
		items[i] = buildCatalogItem(d)
	}
	writeJSON(w, http.StatusOK, catalogResponse{Functions: items, Categories: ta.Categories()})
}

// HandleCompile compiles a script and describes the result.
func (s *Server) HandleCompile(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	cs, err := s.Service.Compile(req.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := compileResponse{
		Name:       cs.Name,
		Inputs:     cs.Inputs,
		InputOrder: cs.InputOrder,
		Warmup:     cs.Warmup,
		Settings:   cs.Settings,
		Functions:  cs.Functions,
		Columns:    cs.Columns,
		Warnings:   nonNil(compiler.Warnings(cs)),
	}
	if req.Emit {
		resp.Program = cs.Program()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleValidate returns diagnostics for a script. A script that does not
// compile is still a 200 response, with valid=false.
func (s *Server) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	cs, err := s.Service.Compile(req.Source)
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Diagnostics: []string{err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Diagnostics: nonNil(compiler.Warnings(cs))})
}

// HandleEvaluate computes the signal tuple over inline bars or bars loaded
// by symbol.
func (s *Server) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	er := service.EvalRequest{Source: req.Source, Script: req.Script, Params: req.Params}
	if len(req.Bars) > 0 {
		er.Bars = barTable(req.Bars)
	}
	if req.Symbol != "" {
		er.Query = &store.BarQuery{Symbol: req.Symbol, Timeframe: req.Timeframe, Start: req.Start, End: req.End}
	}

	res, err := s.Service.Evaluate(r.Context(), er)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := evaluateResponse{
		Name:    res.Name,
		Bars:    res.Bars.Len(),
		Warmup:  res.Warmup,
		Cached:  res.Cached,
		Signals: make(map[string][]bool, types.NumSignals),
		Counts:  make(map[string]int, types.NumSignals),
	}
	for sig := types.Signal(0); sig < types.NumSignals; sig++ {
		resp.Signals[sig.String()] = nonNilBools(res.Signals.Get(sig))
		resp.Counts[sig.String()] = res.Signals.Count(sig)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListScripts lists saved scripts without their sources.
func (s *Server) HandleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.Service.Scripts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]scriptItem, len(scripts))
	for i := range scripts {
		items[i] = buildScriptItem(&scripts[i], false)
	}
	writeJSON(w, http.StatusOK, scriptListResponse{Scripts: items, Total: len(items)})
}

// HandleSaveScript compiles the body's source and stores it under {name}.
func (s *Server) HandleSaveScript(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	sc, err := s.Service.SaveScript(r.Context(), r.PathValue("name"), req.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildScriptItem(sc, false))
}

// HandleGetScript returns one saved script including its source.
func (s *Server) HandleGetScript(w http.ResponseWriter, r *http.Request) {
	sc, err := s.Service.Script(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildScriptItem(sc, true))
}

// HandleDeleteScript removes a saved script.
func (s *Server) HandleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.DeleteScript(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	return true
}

// writeError maps service errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		ce *compiler.CompilationError
		ee *sandbox.ExecutionError
	)
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: ce.Error(), Phase: string(ce.Phase), Line: ce.Line})
	case errors.As(err, &ee):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: ee.Error(), Phase: "execution"})
	case errors.Is(err, service.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.Logger.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func buildCatalogItem(d *ta.Descriptor) catalogItem {
	params := make([]paramItem, len(d.Params))
	for i, p := range d.Params {
		params[i] = paramItem{
			Name:     p.Name,
			Kind:     p.Kind.String(),
			Optional: p.Optional,
			Default:  p.Default,
			Price:    p.Price,
			Hidden:   p.Hidden,
		}
	}
	return catalogItem{
		ID:        d.ID,
		Category:  d.Category,
		Summary:   d.Summary,
		Signature: d.Signature(),
		Params:    params,
		Outputs:   d.Outputs,
	}
}

func buildScriptItem(sc *store.Script, withSource bool) scriptItem {
	item := scriptItem{
		ID:        sc.ID,
		Name:      sc.Name,
		Warmup:    sc.Warmup,
		Inputs:    sc.Inputs,
		Functions: nonNil(sc.Functions),
	}
	if withSource {
		item.Source = sc.Source
	}
	if !sc.UpdatedAt.IsZero() {
		t := sc.UpdatedAt.UTC()
		item.UpdatedAt = &t
	}
	return item
}

func barTable(rows []barJSON) *types.BarTable {
	bars := make([]types.Bar, len(rows))
	for i, b := range rows {
		bars[i] = types.Bar{Timestamp: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return types.NewBarTable(bars)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilBools(s []bool) []bool {
	if s == nil {
		return []bool{}
	}
	return s
}
