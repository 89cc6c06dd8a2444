package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveRegistersMetrics(t *testing.T) {
	ObserveCompile("ok", time.Millisecond)
	ObserveCompile("parse", time.Millisecond)
	ObserveEvaluate("ok", "miss", 250, 3*time.Millisecond)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{
		"pinec_compiles_total":       false,
		"pinec_evaluations_total":    false,
		"pinec_compile_seconds":      false,
		"pinec_evaluate_seconds":     false,
		"pinec_bars_evaluated_total": false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
		if mf.GetName() == "pinec_bars_evaluated_total" {
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v < 250 {
				t.Errorf("bars evaluated = %g, want >= 250", v)
			}
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s metric not found", name)
		}
	}
}

func TestHandlerServesText(t *testing.T) {
	ObserveCompile("ok", time.Millisecond)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `pinec_compiles_total{outcome="ok"}`) {
		t.Errorf("metrics output missing compile counter:\n%s", body)
	}
}

func TestServeOnListener(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := Serve(lis, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer srv.Shutdown(context.Background())

	ObserveCompile("ok", time.Millisecond)
	resp, err := http.Get("http://" + lis.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "pinec_compiles_total") {
		t.Errorf("status %d, body:\n%s", resp.StatusCode, body)
	}

	resp, err = http.Get("http://" + lis.Addr().String() + "/other")
	if err != nil {
		t.Fatalf("GET /other: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/other status = %d, want 404", resp.StatusCode)
	}
}
