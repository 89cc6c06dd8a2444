// Command pinec-server serves the compiler over HTTP and gRPC.
//
// The HTTP API lives under /api/v1 with Prometheus metrics at /metrics; the
// gRPC service is pinec.v1.Compiler with the standard health service.
// PostgreSQL (bar loading, saved scripts) and Redis (signal cache) are used
// when configured. Without a database, bars come from the market-data API
// named by PINEC_BACKEND_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/algomatic/pinec/internal/config"
	"github.com/algomatic/pinec/pkg/api"
	"github.com/algomatic/pinec/pkg/barfeed"
	"github.com/algomatic/pinec/pkg/compiler"
	"github.com/algomatic/pinec/pkg/metrics"
	"github.com/algomatic/pinec/pkg/rpc"
	"github.com/algomatic/pinec/pkg/service"
	"github.com/algomatic/pinec/pkg/sigcache"
	"github.com/algomatic/pinec/pkg/store"
)

var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logger.
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("Starting pinec-server",
		"version", version,
		"http_port", cfg.HTTP.Port,
		"grpc_port", cfg.GRPC.Port,
		"database", cfg.Database.Enabled,
		"backend", cfg.Backend.URL,
		"metrics_addr", cfg.Metrics.Addr,
		"cache", cfg.Redis.Host != "",
	)

	svcCfg := service.Config{
		Compiler: []compiler.Option{
			compiler.WithMaxDepth(cfg.Compiler.MaxDepth),
			compiler.WithNodeBudget(cfg.Compiler.NodeBudget),
		},
		Logger:  logger,
		Version: version,
	}

	// Optional database pool.
	if cfg.Database.Enabled {
		pool, err := store.NewPool(ctx, cfg.Database.ConnString(), cfg.Database.MaxConns, cfg.Database.MinConns, logger)
		if err != nil {
			logger.Error("Failed to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		scripts := store.NewScriptRepo(pool, logger)
		if err := scripts.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to prepare schema", "error", err)
			os.Exit(1)
		}
		svcCfg.Bars = store.NewBarRepo(pool, logger)
		svcCfg.Scripts = scripts
	} else if cfg.Backend.URL != "" {
		svcCfg.Bars = barfeed.NewClient(cfg.Backend.URL, &barfeed.Config{
			Timeout: cfg.Backend.Timeout,
			Logger:  logger,
		})
	}

	// Optional signal cache.
	if cfg.Redis.Host != "" {
		cache := sigcache.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := cache.HealthCheck(pingCtx); err != nil {
			logger.Warn("Redis unreachable; signal cache disabled", "addr", cfg.Redis.Addr(), "error", err)
			cache.Close()
		} else {
			defer cache.Close()
			svcCfg.Cache = cache
			logger.Info("Signal cache connected", "addr", cfg.Redis.Addr(), "ttl", cfg.Redis.TTL)
		}
		pingCancel()
	}

	svc := service.New(svcCfg)

	// Create gRPC server.
	grpcServer := grpc.NewServer()
	rpc.Register(grpcServer, rpc.NewServer(svc, logger))

	// Register health check.
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Register reflection for debugging.
	reflection.Register(grpcServer)

	// Create HTTP server.
	mux := http.NewServeMux()
	api.NewServer(svc, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())
	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(logRequests(logger, mux))
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start listening.
	grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("Failed to listen", "addr", grpcAddr, "error", err)
		os.Exit(1)
	}

	// Optional dedicated metrics listener.
	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsLis, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			logger.Error("Failed to listen", "addr", cfg.Metrics.Addr, "error", err)
			os.Exit(1)
		}
		metricsServer = metrics.Serve(metricsLis, logger)
	}

	// Handle graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", "signal", sig)
		healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics shutdown incomplete", "error", err)
			}
		}
		grpcServer.GracefulStop()
		cancel()
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("gRPC server listening", "addr", grpcAddr)
	if err := grpcServer.Serve(lis); err != nil {
		logger.Error("gRPC server failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("pinec-server stopped")
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
