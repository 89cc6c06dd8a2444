package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/algomatic/pinec/pkg/types"
)

// loadCSV loads a bar table from a CSV file.
// Expected columns: timestamp, open, high, low, close, volume. Extra columns
// are ignored.
func loadCSV(path string) (*types.BarTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) (*types.BarTable, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have header + at least 1 data row")
	}

	headers := records[0]
	colIdx := make(map[string]int)
	for i, h := range headers {
		colIdx[strings.TrimSpace(strings.ToLower(h))] = i
	}

	requiredCols := []string{"timestamp", "open", "high", "low", "close", "volume"}
	for _, col := range requiredCols {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	bars := make([]types.Bar, 0, len(records)-1)
	for rowNum, row := range records[1:] {
		line := rowNum + 2
		ts, err := parseTimestamp(strings.TrimSpace(row[colIdx["timestamp"]]))
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", line, err)
		}

		var vals [5]float64
		for i, col := range requiredCols[1:] {
			raw := strings.TrimSpace(row[colIdx[col]])
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d %s: %q is not a number", line, col, raw)
			}
			vals[i] = v
		}

		if n := len(bars); n > 0 && !ts.After(bars[n-1].Timestamp) {
			return nil, fmt.Errorf("row %d: timestamp %s is not after the previous row", line, ts.Format(time.RFC3339))
		}

		bars = append(bars, types.Bar{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	return types.NewBarTable(bars), nil
}

// parseTimestamp tries multiple timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", s)
}

// loadParams reads a YAML mapping of input name to value.
func loadParams(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading params file: %w", err)
	}
	params := map[string]any{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parsing params file %s: %w", path, err)
	}
	return params, nil
}

// paramFlags collects repeated --set name=value flags.
type paramFlags map[string]any

func (p paramFlags) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

// Set parses name=value. Values that read as a bool or a number are passed
// as such; anything else is a string.
func (p paramFlags) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	switch {
	case raw == "true" || raw == "false":
		p[name] = raw == "true"
	default:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			p[name] = n
		} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
			p[name] = f
		} else {
			p[name] = raw
		}
	}
	return nil
}

// writeSignals writes one CSV row per bar with the four signal columns.
func writeSignals(w io.Writer, bars *types.BarTable, tuple types.SignalTuple) error {
	cw := csv.NewWriter(w)
	header := []string{"timestamp"}
	for sig := types.Signal(0); sig < types.NumSignals; sig++ {
		header = append(header, sig.String())
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < tuple.Len(); i++ {
		row := make([]string, 0, 1+types.NumSignals)
		if i < len(bars.Time) {
			row = append(row, bars.Time[i].Format(time.RFC3339))
		} else {
			row = append(row, strconv.Itoa(i))
		}
		for sig := types.Signal(0); sig < types.NumSignals; sig++ {
			row = append(row, strconv.FormatBool(tuple.Get(sig)[i]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
