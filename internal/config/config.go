// Package config loads pinec service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// PINEC_CONFIG, then a .env file in the working directory, then PINEC_*
// environment variables. The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pinec server and CLI.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Backend  BackendConfig  `yaml:"backend"`
	Compiler CompilerConfig `yaml:"compiler"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// ConnString builds a PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// GRPCConfig holds gRPC server parameters.
type GRPCConfig struct {
	Port int `yaml:"port"`
}

// HTTPConfig holds HTTP API parameters.
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address for the HTTP API.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", h.Port)
}

// RedisConfig holds signal cache parameters. An empty Host disables the cache.
type RedisConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	DB        int           `yaml:"db"`
	Password  string        `yaml:"password"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// Addr returns host:port for Redis.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BackendConfig points at the market-data REST API used for bars when the
// database is disabled. An empty URL disables it.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CompilerConfig holds complexity ceilings applied to every compilation.
type CompilerConfig struct {
	MaxDepth   int `yaml:"max_depth"`
	NodeBudget int `yaml:"node_budget"`
}

// MetricsConfig holds the optional dedicated metrics listener. An empty
// Addr leaves /metrics on the HTTP API only.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from the file named by PINEC_CONFIG, the .env
// file, and PINEC_* environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("PINEC_CONFIG"))
}

// LoadFile is Load with an explicit YAML path. A missing file is not an
// error; an empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	// Variables already set in the environment win over .env entries.
	_ = godotenv.Load()
	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "algomatic",
			User:     "algomatic",
			MaxConns: 10,
			MinConns: 1,
		},
		GRPC: GRPCConfig{
			Port: 50061,
		},
		HTTP: HTTPConfig{
			Port:           8090,
			AllowedOrigins: []string{"*"},
		},
		Redis: RedisConfig{
			Port:      6379,
			KeyPrefix: "pinec",
			TTL:       15 * time.Minute,
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Compiler: CompilerConfig{
			MaxDepth:   256,
			NodeBudget: 100000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("PINEC_DB_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.Enabled = b
		}
	}
	if v := os.Getenv("PINEC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PINEC_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("PINEC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PINEC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PINEC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PINEC_DB_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("PINEC_DB_MIN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MinConns = int32(n)
		}
	}
	if v := os.Getenv("PINEC_GRPC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.GRPC.Port = p
		}
	}
	if v := os.Getenv("PINEC_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("PINEC_HTTP_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.HTTP.AllowedOrigins = origins
	}
	if v := os.Getenv("PINEC_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("PINEC_REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("PINEC_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("PINEC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PINEC_REDIS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.TTL = d
		}
	}
	if v := os.Getenv("PINEC_BACKEND_URL"); v != "" {
		cfg.Backend.URL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("PINEC_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("PINEC_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compiler.MaxDepth = n
		}
	}
	if v := os.Getenv("PINEC_NODE_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compiler.NodeBudget = n
		}
	}
	if v := os.Getenv("PINEC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("PINEC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func validate(cfg *Config) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", cfg.Log.Level)
	}

	if cfg.Database.Enabled && cfg.Database.MaxConns < 1 {
		return fmt.Errorf("PINEC_DB_MAX_CONNS must be >= 1, got %d", cfg.Database.MaxConns)
	}

	if cfg.GRPC.Port < 1 || cfg.GRPC.Port > 65535 {
		return fmt.Errorf("PINEC_GRPC_PORT must be 1-65535, got %d", cfg.GRPC.Port)
	}
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("PINEC_HTTP_PORT must be 1-65535, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Port == cfg.GRPC.Port {
		return fmt.Errorf("HTTP and gRPC ports must differ, both are %d", cfg.HTTP.Port)
	}

	if cfg.Metrics.Addr != "" {
		if _, port, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil || port == "" {
			return fmt.Errorf("PINEC_METRICS_ADDR must be host:port, got %q", cfg.Metrics.Addr)
		}
	}

	if cfg.Redis.Host != "" && cfg.Redis.TTL <= 0 {
		return fmt.Errorf("PINEC_REDIS_TTL must be positive, got %s", cfg.Redis.TTL)
	}

	if cfg.Backend.URL != "" {
		u, err := url.Parse(cfg.Backend.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("PINEC_BACKEND_URL must be an http(s) URL, got %q", cfg.Backend.URL)
		}
		if cfg.Backend.Timeout <= 0 {
			return fmt.Errorf("PINEC_BACKEND_TIMEOUT must be positive, got %s", cfg.Backend.Timeout)
		}
	}

	if cfg.Compiler.MaxDepth < 1 {
		return fmt.Errorf("PINEC_MAX_DEPTH must be >= 1, got %d", cfg.Compiler.MaxDepth)
	}
	if cfg.Compiler.NodeBudget < 1 {
		return fmt.Errorf("PINEC_NODE_BUDGET must be >= 1, got %d", cfg.Compiler.NodeBudget)
	}

	return nil
}
