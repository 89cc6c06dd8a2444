package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/pinec/pkg/types"
)

// ValidTimeframes are the only supported timeframe values.
var ValidTimeframes = map[string]bool{
	"1Min":  true,
	"15Min": true,
	"1Hour": true,
	"1Day":  true,
}

// BarRepo loads bar tables from the ohlcv_bars table.
type BarRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewBarRepo creates a new BarRepo.
func NewBarRepo(pool *pgxpool.Pool, logger *slog.Logger) *BarRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &BarRepo{pool: pool, logger: logger}
}

// BarQuery selects the bars of one symbol and timeframe. Start and End are
// inclusive and optional.
type BarQuery struct {
	Symbol    string
	Timeframe string
	Start     *time.Time
	End       *time.Time
}

// sql builds the statement and arguments for q.
func (q BarQuery) sql() (string, []any, error) {
	if q.Symbol == "" {
		return "", nil, fmt.Errorf("symbol is required")
	}
	if !ValidTimeframes[q.Timeframe] {
		return "", nil, fmt.Errorf("invalid timeframe %q", q.Timeframe)
	}
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return "", nil, fmt.Errorf("end %s is before start %s", q.End.Format(time.RFC3339), q.Start.Format(time.RFC3339))
	}

	query := `SELECT b.timestamp, b.open, b.high, b.low, b.close, b.volume
		FROM ohlcv_bars b JOIN tickers t ON t.id = b.ticker_id
		WHERE t.symbol = $1 AND b.timeframe = $2`
	args := []any{q.Symbol, q.Timeframe}
	argIdx := 3

	if q.Start != nil {
		query += fmt.Sprintf(` AND b.timestamp >= $%d`, argIdx)
		args = append(args, *q.Start)
		argIdx++
	}
	if q.End != nil {
		query += fmt.Sprintf(` AND b.timestamp <= $%d`, argIdx)
		args = append(args, *q.End)
	}
	query += ` ORDER BY b.timestamp ASC`
	return query, args, nil
}

// LoadBars returns the bars matching q as a time-ordered table. An unknown
// symbol yields an empty table.
func (r *BarRepo) LoadBars(ctx context.Context, q BarQuery) (*types.BarTable, error) {
	query, args, err := q.sql()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bars for %s/%s: %w", q.Symbol, q.Timeframe, err)
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Loaded bars",
		"symbol", q.Symbol,
		"timeframe", q.Timeframe,
		"count", len(bars),
		"duration", time.Since(start),
	)
	return types.NewBarTable(bars), nil
}

func scanBars(rows pgx.Rows) ([]types.Bar, error) {
	var bars []types.Bar
	for rows.Next() {
		var (
			b      types.Bar
			volume int64
		)
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("scanning bar row: %w", err)
		}
		b.Volume = float64(volume)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
