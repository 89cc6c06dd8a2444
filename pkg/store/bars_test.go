package store

import (
	"strings"
	"testing"
	"time"
)

func TestBarQuerySQL(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	tests := []struct {
		name      string
		q         BarQuery
		wantArgs  int
		wantParts []string
	}{
		{
			name:      "no range",
			q:         BarQuery{Symbol: "AAPL", Timeframe: "1Day"},
			wantArgs:  2,
			wantParts: []string{"t.symbol = $1", "b.timeframe = $2", "ORDER BY b.timestamp ASC"},
		},
		{
			name:      "start only",
			q:         BarQuery{Symbol: "AAPL", Timeframe: "1Hour", Start: &start},
			wantArgs:  3,
			wantParts: []string{"b.timestamp >= $3"},
		},
		{
			name:      "end only",
			q:         BarQuery{Symbol: "AAPL", Timeframe: "1Hour", End: &end},
			wantArgs:  3,
			wantParts: []string{"b.timestamp <= $3"},
		},
		{
			name:      "both",
			q:         BarQuery{Symbol: "AAPL", Timeframe: "15Min", Start: &start, End: &end},
			wantArgs:  4,
			wantParts: []string{"b.timestamp >= $3", "b.timestamp <= $4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := tt.q.sql()
			if err != nil {
				t.Fatalf("sql: %v", err)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %d, want %d", len(args), tt.wantArgs)
			}
			for _, p := range tt.wantParts {
				if !strings.Contains(query, p) {
					t.Errorf("query missing %q:\n%s", p, query)
				}
			}
		})
	}
}

func TestBarQueryRejects(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)

	tests := []struct {
		name string
		q    BarQuery
		want string
	}{
		{"symbol", BarQuery{Timeframe: "1Day"}, "symbol is required"},
		{"timeframe", BarQuery{Symbol: "AAPL", Timeframe: "5Min"}, "invalid timeframe"},
		{"range", BarQuery{Symbol: "AAPL", Timeframe: "1Day", Start: &start, End: &end}, "before start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.q.sql()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
