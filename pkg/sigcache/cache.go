// Package sigcache caches computed signal tuples in Redis.
//
// A tuple is a pure function of the script source, the effective parameters
// and the bar table, so the cache key is a digest of those three. Cache
// failures never fail an evaluation; they are logged and the tuple is
// computed directly.
package sigcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/algomatic/pinec/pkg/types"
)

// Cache wraps a Redis client holding encoded signal tuples.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Redis-backed signal cache.
func New(addr, password string, db int, prefix string, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
		ReadTimeout: time.Second,
	})

	return &Cache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// HealthCheck verifies Redis connectivity.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key derives the cache key for one evaluation.
func (c *Cache) Key(source string, params map[string]any, bars *types.BarTable) (string, error) {
	h := sha256.New()
	writeString(h, source)

	// encoding/json sorts map keys, so equal maps encode identically.
	p, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}
	writeString(h, string(p))

	var buf [8]byte
	writeFloats := func(col []float64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(col)))
		h.Write(buf[:])
		for _, v := range col {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	if bars != nil {
		writeFloats(bars.Open)
		writeFloats(bars.High)
		writeFloats(bars.Low)
		writeFloats(bars.Close)
		writeFloats(bars.Volume)
		binary.LittleEndian.PutUint64(buf[:], uint64(len(bars.Time)))
		h.Write(buf[:])
		for _, ts := range bars.Time {
			binary.LittleEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
			h.Write(buf[:])
		}
	}

	return c.prefix + ":signals:" + hex.EncodeToString(h.Sum(nil)), nil
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Get returns the cached tuple for key. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (types.SignalTuple, bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return types.SignalTuple{}, false, nil
	}
	if err != nil {
		return types.SignalTuple{}, false, fmt.Errorf("reading %s: %w", key, err)
	}
	tuple, err := Decode(data)
	if err != nil {
		return types.SignalTuple{}, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return tuple, true, nil
}

// Set stores tuple under key with the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, tuple types.SignalTuple) error {
	if err := c.client.Set(ctx, key, Encode(tuple), c.ttl).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Fetch returns the cached tuple for key or runs compute and stores its
// result. hit reports whether the tuple came from Redis. Errors from compute
// are returned unchanged and never cached.
func (c *Cache) Fetch(ctx context.Context, key string, compute func() (types.SignalTuple, error)) (tuple types.SignalTuple, hit bool, err error) {
	tuple, ok, err := c.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Signal cache read failed", "key", key, "error", err)
	} else if ok {
		c.logger.Debug("Signal cache hit", "key", key)
		return tuple, true, nil
	}

	tuple, err = compute()
	if err != nil {
		return types.SignalTuple{}, false, err
	}
	if err := c.Set(ctx, key, tuple); err != nil {
		c.logger.Warn("Signal cache write failed", "key", key, "error", err)
	}
	return tuple, false, nil
}

// ---------------------------------------------------------------------------
// Encoding: one line per signal, one '0' or '1' per bar.
// ---------------------------------------------------------------------------

// Encode renders tuple in the cache wire format.
func Encode(tuple types.SignalTuple) string {
	var sb strings.Builder
	sb.Grow(types.NumSignals * (tuple.Len() + 1))
	for sig := types.Signal(0); sig < types.NumSignals; sig++ {
		if sig > 0 {
			sb.WriteByte('\n')
		}
		for _, v := range tuple.Get(sig) {
			if v {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

// Decode parses the cache wire format.
func Decode(data string) (types.SignalTuple, error) {
	lines := strings.Split(data, "\n")
	if len(lines) != types.NumSignals {
		return types.SignalTuple{}, fmt.Errorf("expected %d signal lines, got %d", types.NumSignals, len(lines))
	}
	var cols [types.NumSignals][]bool
	for i, line := range lines {
		if len(line) != len(lines[0]) {
			return types.SignalTuple{}, fmt.Errorf("signal %s has %d bars, %s has %d",
				types.Signal(i), len(line), types.Signal(0), len(lines[0]))
		}
		col := make([]bool, len(line))
		for j := 0; j < len(line); j++ {
			switch line[j] {
			case '1':
				col[j] = true
			case '0':
			default:
				return types.SignalTuple{}, fmt.Errorf("signal %s: invalid byte %q at bar %d", types.Signal(i), line[j], j)
			}
		}
		cols[i] = col
	}
	return types.SignalTuple{
		LongEntry:  cols[types.LongEntry],
		LongExit:   cols[types.LongExit],
		ShortEntry: cols[types.ShortEntry],
		ShortExit:  cols[types.ShortExit],
	}, nil
}
