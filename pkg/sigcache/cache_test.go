package sigcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/algomatic/pinec/pkg/types"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// unreachable returns a cache pointed at a port nothing listens on.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	c := New("127.0.0.1:1", "", 0, "test", time.Minute, quiet())
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleBars() *types.BarTable {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	var bars []types.Bar
	for i := 0; i < 5; i++ {
		c := 100 + float64(i)
		bars = append(bars, types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		})
	}
	return types.NewBarTable(bars)
}

func TestEncodeDecode(t *testing.T) {
	tuple := types.SignalTuple{
		LongEntry:  []bool{false, true, false},
		LongExit:   []bool{false, false, true},
		ShortEntry: []bool{false, false, false},
		ShortExit:  []bool{true, false, false},
	}
	enc := Encode(tuple)
	if enc != "010\n001\n000\n100" {
		t.Fatalf("Encode = %q", enc)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for sig := types.Signal(0); sig < types.NumSignals; sig++ {
		a, b := tuple.Get(sig), got.Get(sig)
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("%s[%d] = %v, want %v", sig, i, b[i], a[i])
			}
		}
	}
}

func TestEncodeEmptyTuple(t *testing.T) {
	tuple := types.SignalTuple{LongEntry: []bool{}, LongExit: []bool{}, ShortEntry: []bool{}, ShortExit: []bool{}}
	got, err := Decode(Encode(tuple))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("Len = %d, want 0", got.Len())
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name, data, want string
	}{
		{"lines", "01\n01", "expected 4 signal lines"},
		{"ragged", "01\n0\n01\n01", "has 1 bars"},
		{"byte", "01\n0x\n01\n01", "invalid byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestKeyIsStable(t *testing.T) {
	c := unreachable(t)
	bars := sampleBars()
	src := `strategy("k")`

	k1, err := c.Key(src, map[string]any{"a": 1, "b": 2.5}, bars)
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := c.Key(src, map[string]any{"b": 2.5, "a": 1}, bars)
	if k1 != k2 {
		t.Errorf("key depends on map order: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1, "test:signals:") {
		t.Errorf("key %q lacks prefix", k1)
	}

	changed := sampleBars()
	changed.Close[2] += 0.01
	variants := []struct {
		name   string
		src    string
		params map[string]any
		bars   *types.BarTable
	}{
		{"source", src + "\n", map[string]any{"a": 1, "b": 2.5}, bars},
		{"params", src, map[string]any{"a": 2, "b": 2.5}, bars},
		{"bars", src, map[string]any{"a": 1, "b": 2.5}, changed},
	}
	for _, v := range variants {
		k, err := c.Key(v.src, v.params, v.bars)
		if err != nil {
			t.Fatal(err)
		}
		if k == k1 {
			t.Errorf("changing %s did not change the key", v.name)
		}
	}
}

func TestFetchFallsBackWhenRedisIsDown(t *testing.T) {
	c := unreachable(t)
	want := types.SignalTuple{LongEntry: []bool{true}, LongExit: []bool{false}, ShortEntry: []bool{false}, ShortExit: []bool{false}}

	calls := 0
	got, hit, err := c.Fetch(context.Background(), "test:signals:x", func() (types.SignalTuple, error) {
		calls++
		return want, nil
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hit {
		t.Error("hit reported with Redis unreachable")
	}
	if calls != 1 || !got.LongEntry[0] {
		t.Errorf("compute calls = %d, tuple = %+v", calls, got)
	}
}

func TestFetchReturnsComputeError(t *testing.T) {
	c := unreachable(t)
	boom := errors.New("boom")
	_, _, err := c.Fetch(context.Background(), "test:signals:y", func() (types.SignalTuple, error) {
		return types.SignalTuple{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want compute error", err)
	}
}
