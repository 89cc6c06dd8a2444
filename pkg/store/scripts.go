package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/pinec/pkg/types"
)

// Schema creates the table that holds saved scripts.
const Schema = `CREATE TABLE IF NOT EXISTS pinec_scripts (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	source      TEXT NOT NULL,
	warmup      INTEGER NOT NULL,
	inputs      JSONB NOT NULL DEFAULT '{}',
	functions   TEXT[] NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Script is a row from the pinec_scripts table. Source is kept verbatim so
// the script can be recompiled; the other fields describe the last
// successful compilation.
type Script struct {
	ID        int64
	Name      string
	Source    string
	Warmup    int
	Inputs    map[string]types.InputSpec
	Functions []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScriptRepo handles pinec_scripts table operations.
type ScriptRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewScriptRepo creates a new ScriptRepo.
func NewScriptRepo(pool *pgxpool.Pool, logger *slog.Logger) *ScriptRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptRepo{pool: pool, logger: logger}
}

// EnsureSchema creates the scripts table if it does not exist.
func (r *ScriptRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("creating pinec_scripts: %w", err)
	}
	return nil
}

// Save inserts s or replaces the script with the same name, returning its ID.
func (r *ScriptRepo) Save(ctx context.Context, s *Script) (int64, error) {
	if s.Name == "" {
		return 0, fmt.Errorf("script name is required")
	}
	inputs, err := json.Marshal(s.Inputs)
	if err != nil {
		return 0, fmt.Errorf("encoding inputs of %q: %w", s.Name, err)
	}
	functions := s.Functions
	if functions == nil {
		functions = []string{}
	}

	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO pinec_scripts (name, source, warmup, inputs, functions)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE SET
			source = EXCLUDED.source,
			warmup = EXCLUDED.warmup,
			inputs = EXCLUDED.inputs,
			functions = EXCLUDED.functions,
			updated_at = now()
		 RETURNING id`,
		s.Name, s.Source, s.Warmup, inputs, functions,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving script %q: %w", s.Name, err)
	}
	r.logger.Debug("Script saved", "name", s.Name, "id", id)
	return id, nil
}

const scriptColumns = `id, name, source, warmup, inputs, functions, created_at, updated_at`

func scanScript(row pgx.Row) (*Script, error) {
	var (
		s      Script
		inputs []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Source, &s.Warmup, &inputs, &s.Functions, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputs, &s.Inputs); err != nil {
		return nil, fmt.Errorf("decoding inputs of %q: %w", s.Name, err)
	}
	return &s, nil
}

// Get returns a script by name. Returns nil, nil if it does not exist.
func (r *ScriptRepo) Get(ctx context.Context, name string) (*Script, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM pinec_scripts WHERE name = $1`, scriptColumns), name)
	s, err := scanScript(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Script not found", "name", name)
			return nil, nil
		}
		return nil, fmt.Errorf("querying script %q: %w", name, err)
	}
	return s, nil
}

// List returns all saved scripts ordered by name.
func (r *ScriptRepo) List(ctx context.Context) ([]Script, error) {
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM pinec_scripts ORDER BY name`, scriptColumns))
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	defer rows.Close()

	var scripts []Script
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning script row: %w", err)
		}
		scripts = append(scripts, *s)
	}
	return scripts, rows.Err()
}

// Delete removes a script by name and reports whether it existed.
func (r *ScriptRepo) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pinec_scripts WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("deleting script %q: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}
