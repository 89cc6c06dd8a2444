package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const maCross = `strategy("MA Cross")
fast = input.int(5, "Fast", minval=1)
slow = input.int(8, "Slow", minval=1)
f = ta.sma(close, fast)
s = ta.sma(close, slow)
if ta.crossover(f, s)
    strategy.entry("L", strategy.long)
if ta.crossunder(f, s)
    strategy.close("L")
`

const barsCSV = `timestamp,open,high,low,close,volume
2024-01-01,9.8,11,9,10,1000
2024-01-02,8.8,10,8,9,1000
2024-01-03,7.8,9,7,8,1000
2024-01-04,6.8,8,6,7,1000
2024-01-05,5.8,7,5,6,1000
2024-01-06,6.8,8,6,7,1000
2024-01-07,7.8,9,7,8,1000
2024-01-08,8.8,10,8,9,1000
2024-01-09,9.8,11,9,10,1000
2024-01-10,10.8,12,10,11,1000
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadCSV(t *testing.T) {
	bars, err := readCSV(strings.NewReader(barsCSV))
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if bars.Len() != 10 {
		t.Fatalf("Len = %d, want 10", bars.Len())
	}
	if bars.Close[4] != 6 || bars.High[9] != 12 {
		t.Errorf("close[4]=%g high[9]=%g", bars.Close[4], bars.High[9])
	}
	if !bars.Time[1].Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("time[1] = %s", bars.Time[1])
	}
}

func TestReadCSVRejects(t *testing.T) {
	tests := []struct {
		name, data, want string
	}{
		{"header only", "timestamp,open,high,low,close,volume\n", "at least 1 data row"},
		{"missing column", "timestamp,open,high,low,close\n2024-01-01,1,1,1,1\n", "missing required column: volume"},
		{"bad number", "timestamp,open,high,low,close,volume\n2024-01-01,1,x,1,1,1\n", "high"},
		{"bad time", "timestamp,open,high,low,close,volume\nyesterday,1,1,1,1,1\n", "timestamp"},
		{"unordered", "timestamp,open,high,low,close,volume\n2024-01-02,1,1,1,1,1\n2024-01-01,1,1,1,1,1\n", "not after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readCSV(strings.NewReader(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParamFlags(t *testing.T) {
	p := paramFlags{}
	for _, s := range []string{"fast=3", "mult=1.5", "on=true", "mode=EMA"} {
		if err := p.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
	}
	if p["fast"] != int64(3) || p["mult"] != 1.5 || p["on"] != true || p["mode"] != "EMA" {
		t.Errorf("params = %#v", p)
	}
	if err := p.Set("novalue"); err == nil {
		t.Error("expected error for missing '='")
	}
}

func TestLoadParams(t *testing.T) {
	path := writeFile(t, "params.yaml", "fast: 3\nslow: 6\nmode: SMA\n")
	params, err := loadParams(path)
	if err != nil {
		t.Fatalf("loadParams: %v", err)
	}
	if params["fast"] != 3 || params["mode"] != "SMA" {
		t.Errorf("params = %#v", params)
	}
}

func TestRunCompile(t *testing.T) {
	script := writeFile(t, "cross.pine", maCross)

	var out bytes.Buffer
	if err := runCompile([]string{script}, &out); err != nil {
		t.Fatalf("runCompile: %v", err)
	}
	s := out.String()
	for _, want := range []string{"MA Cross", "Warmup:", "16 bars", "ta.crossover", "fast"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}

	out.Reset()
	if err := runCompile([]string{"--emit", script}, &out); err != nil {
		t.Fatalf("runCompile --emit: %v", err)
	}
	if !strings.Contains(out.String(), "long_entry") {
		t.Errorf("program missing signal roots:\n%s", out.String())
	}
}

func TestRunValidate(t *testing.T) {
	var out bytes.Buffer
	if err := runValidate([]string{writeFile(t, "ok.pine", maCross)}, &out); err != nil {
		t.Fatalf("runValidate: %v", err)
	}
	if strings.TrimSpace(out.String()) != "ok" {
		t.Errorf("output = %q, want ok", out.String())
	}

	out.Reset()
	err := runValidate([]string{writeFile(t, "bad.pine", "x = (close\n")}, &out)
	if !errors.Is(err, errInvalid) {
		t.Fatalf("err = %v, want errInvalid", err)
	}
	if !strings.Contains(out.String(), "error at line 1") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunEval(t *testing.T) {
	script := writeFile(t, "cross.pine", maCross)
	bars := writeFile(t, "bars.csv", barsCSV)
	params := writeFile(t, "params.yaml", "fast: 2\n")

	var out bytes.Buffer
	err := runEval([]string{"--csv", bars, "--params", params, "--set", "slow=3", script}, &out)
	if err != nil {
		t.Fatalf("runEval: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want header + 10:\n%s", len(lines), out.String())
	}
	if lines[0] != "timestamp,long_entry,long_exit,short_entry,short_exit" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[7] != "2024-01-07T00:00:00Z,true,false,false,false" {
		t.Errorf("row 6 = %q", lines[7])
	}
}

func TestRunEvalFromAPI(t *testing.T) {
	rows, err := readCSV(strings.NewReader(barsCSV))
	if err != nil {
		t.Fatal(err)
	}
	type bar struct {
		Timestamp string  `json:"timestamp"`
		Open      float64 `json:"open"`
		High      float64 `json:"high"`
		Low       float64 `json:"low"`
		Close     float64 `json:"close"`
		Volume    float64 `json:"volume"`
	}
	payload := struct {
		Symbol string `json:"symbol"`
		Bars   []bar  `json:"bars"`
	}{Symbol: "AAPL"}
	for i := 0; i < rows.Len(); i++ {
		payload.Bars = append(payload.Bars, bar{
			Timestamp: rows.Time[i].Format(time.RFC3339),
			Open:      rows.Open[i],
			High:      rows.High[i],
			Low:       rows.Low[i],
			Close:     rows.Close[i],
			Volume:    rows.Volume[i],
		})
	}
	var gotSymbol string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbol = r.URL.Query().Get("symbol")
		json.NewEncoder(w).Encode(payload)
	}))
	defer ts.Close()

	var out bytes.Buffer
	args := []string{"--symbol", "AAPL", "--api-url", ts.URL + "/", "--set", "fast=2", "--set", "slow=3", writeFile(t, "cross.pine", maCross)}
	if err := runEval(args, &out); err != nil {
		t.Fatalf("runEval: %v", err)
	}
	if gotSymbol != "AAPL" {
		t.Errorf("backend saw symbol %q", gotSymbol)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 11 || lines[7] != "2024-01-07T00:00:00Z,true,false,false,false" {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRunEvalNeedsData(t *testing.T) {
	script := writeFile(t, "cross.pine", maCross)
	err := runEval([]string{script}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "--csv or --symbol") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunCatalog(t *testing.T) {
	var out bytes.Buffer
	if err := runCatalog([]string{"--category", "oscillator"}, &out); err != nil {
		t.Fatalf("runCatalog: %v", err)
	}
	if !strings.Contains(out.String(), "ta.rsi(") {
		t.Errorf("catalog missing ta.rsi:\n%s", out.String())
	}
	if err := runCatalog([]string{"--category", "astrology"}, &out); err == nil {
		t.Error("expected unknown category error")
	}
}
