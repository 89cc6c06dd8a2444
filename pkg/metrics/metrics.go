// Package metrics exposes compiler and evaluation counters to Prometheus.
package metrics

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CompilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pinec_compiles_total", Help: "Script compilations by outcome (ok or the failing phase)"},
		[]string{"outcome"},
	)
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pinec_evaluations_total", Help: "Signal evaluations by outcome and cache result"},
		[]string{"outcome", "cache"},
	)
	CompileSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pinec_compile_seconds",
		Help:    "Time to compile a script",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	EvaluateSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pinec_evaluate_seconds",
		Help:    "Time to compute a signal tuple",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
	BarsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pinec_bars_evaluated_total", Help: "Bars run through compiled strategies"},
	)
)

func init() {
	prometheus.MustRegister(CompilesTotal, EvaluationsTotal, CompileSeconds, EvaluateSeconds, BarsEvaluated)
}

// ObserveCompile records one compilation. outcome is "ok" or the phase that
// failed.
func ObserveCompile(outcome string, d time.Duration) {
	CompilesTotal.WithLabelValues(outcome).Inc()
	CompileSeconds.Observe(d.Seconds())
}

// ObserveEvaluate records one evaluation over bars rows. cache is "hit",
// "miss" or "off".
func ObserveEvaluate(outcome, cache string, bars int, d time.Duration) {
	EvaluationsTotal.WithLabelValues(outcome, cache).Inc()
	EvaluateSeconds.Observe(d.Seconds())
	if outcome == "ok" {
		BarsEvaluated.Add(float64(bars))
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on lis in the background. Serve errors other than
// a clean shutdown are logged. A nil logger uses slog.Default().
func Serve(lis net.Listener, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Metrics server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", lis.Addr().String(), "error", err)
		}
	}()
	return srv
}
