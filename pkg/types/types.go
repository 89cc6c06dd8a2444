// Package types defines the data structures shared by the compiler pipeline
// and its callers.
//
//   - Bar = one OHLCV row
//   - BarTable = the columnar, time-ordered table a compiled strategy runs over
//   - SignalTuple = the four boolean arrays handed to the backtest engine
//   - InputSpec = a declared script input and its default
//   - Settings = strategy-level capital, commission and slippage
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLCV bar.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// BarTable is a row-per-bar, time-ordered table stored column-wise.
// All columns must have the same length.
type BarTable struct {
	Time   []time.Time
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// NewBarTable converts a slice of bars into a columnar table.
func NewBarTable(bars []Bar) *BarTable {
	n := len(bars)
	t := &BarTable{
		Time:   make([]time.Time, n),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]float64, n),
	}
	for i, b := range bars {
		t.Time[i] = b.Timestamp
		t.Open[i] = b.Open
		t.High[i] = b.High
		t.Low[i] = b.Low
		t.Close[i] = b.Close
		t.Volume[i] = b.Volume
	}
	return t
}

// Len returns the number of bars (the length of the close column).
func (t *BarTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Close)
}

// Validate checks that every price column has the same length. The Time
// column may be empty when timestamps are not needed.
func (t *BarTable) Validate() error {
	if t == nil {
		return fmt.Errorf("bar table is nil")
	}
	n := len(t.Close)
	cols := []struct {
		name string
		size int
	}{
		{"open", len(t.Open)},
		{"high", len(t.High)},
		{"low", len(t.Low)},
		{"volume", len(t.Volume)},
	}
	for _, c := range cols {
		if c.size != n {
			return fmt.Errorf("column %s has %d rows, close has %d", c.name, c.size, n)
		}
	}
	if len(t.Time) != 0 && len(t.Time) != n {
		return fmt.Errorf("time column has %d rows, close has %d", len(t.Time), n)
	}
	return nil
}

// Direction represents trade direction.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Signal identifies one of the four exposed signal arrays.
type Signal int

const (
	LongEntry Signal = iota
	LongExit
	ShortEntry
	ShortExit
)

// NumSignals is the size of the signal contract.
const NumSignals = 4

var signalNames = [NumSignals]string{"long_entry", "long_exit", "short_entry", "short_exit"}

// String returns the snake_case name used in CSV headers and JSON.
func (s Signal) String() string {
	if s < 0 || int(s) >= NumSignals {
		return fmt.Sprintf("signal(%d)", int(s))
	}
	return signalNames[s]
}

// SignalTuple is the sole output contract of a compiled strategy: four
// same-length boolean arrays aligned to the bar table index.
type SignalTuple struct {
	LongEntry  []bool
	LongExit   []bool
	ShortEntry []bool
	ShortExit  []bool
}

// Get returns the array for the given signal.
func (s SignalTuple) Get(sig Signal) []bool {
	switch sig {
	case LongEntry:
		return s.LongEntry
	case LongExit:
		return s.LongExit
	case ShortEntry:
		return s.ShortEntry
	case ShortExit:
		return s.ShortExit
	}
	return nil
}

// Len returns the length of the arrays.
func (s SignalTuple) Len() int {
	return len(s.LongEntry)
}

// Count returns how many bars of the given signal are true.
func (s SignalTuple) Count(sig Signal) int {
	n := 0
	for _, v := range s.Get(sig) {
		if v {
			n++
		}
	}
	return n
}

// InputKind is the declared type of a script input.
type InputKind string

const (
	InputInt    InputKind = "int"
	InputFloat  InputKind = "float"
	InputBool   InputKind = "bool"
	InputString InputKind = "string"
)

// InputSpec describes a declared script input.
// Default holds an int, float64, bool or string matching Kind.
type InputSpec struct {
	Kind    InputKind `json:"kind"`
	Default any       `json:"default"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Title   string    `json:"title,omitempty"`
	Options []string  `json:"options,omitempty"`
}

// Settings holds the strategy declaration's accounting parameters. They are
// metadata for the backtest engine; the compiler never interprets them.
type Settings struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Commission     decimal.Decimal `json:"commission"`
	CommissionType string          `json:"commission_type,omitempty"`
	Slippage       decimal.Decimal `json:"slippage"`
}

// DefaultSettings mirrors the reference platform's strategy() defaults.
func DefaultSettings() Settings {
	return Settings{
		InitialCapital: decimal.NewFromInt(1000000),
		Commission:     decimal.Zero,
		CommissionType: "percent",
		Slippage:       decimal.Zero,
	}
}
