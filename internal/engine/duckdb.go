package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/medsidd/whyline-denver/internal/models"
)

// DuckDBConfig controls how the local warehouse file is opened.
type DuckDBConfig struct {
	Path        string
	ReadOnly    bool
	Threads     int
	MemoryLimit string
}

// DuckDB is the local, unmetered engine. The warehouse file is produced by
// the external sync job; the gateway only ever reads it.
type DuckDB struct {
	db *sql.DB
}

var _ Engine = (*DuckDB)(nil)

// OpenDuckDB opens the warehouse with conservative resource limits. Limits
// are best-effort: a failed SET is logged, not fatal.
func OpenDuckDB(cfg DuckDBConfig) (*DuckDB, error) {
	dsn := cfg.Path
	if cfg.ReadOnly {
		dsn += "?access_mode=read_only"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	if cfg.Threads > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET threads = %d", cfg.Threads)); err != nil {
			log.Warn().Err(err).Int("threads", cfg.Threads).Msg("duckdb: set threads failed")
		}
	}
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit = '%s'", cfg.MemoryLimit)); err != nil {
			log.Warn().Err(err).Str("memory_limit", cfg.MemoryLimit).Msg("duckdb: set memory_limit failed")
		}
	}

	return &DuckDB{db: db}, nil
}

func (e *DuckDB) Name() string { return NameDuckDB }

func (e *DuckDB) Close() error { return e.db.Close() }

// Ping verifies the warehouse file is readable.
func (e *DuckDB) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Execute runs the query against the local warehouse. Cancellation stops
// waiting on the driver; nothing is billed either way.
func (e *DuckDB) Execute(ctx context.Context, req Request) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, req.SQL)
	if err != nil {
		return nil, translateLocalErr(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, translateLocalErr(ctx, err)
	}

	var out []map[string]any
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, translateLocalErr(ctx, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translateLocalErr(ctx, err)
	}

	return &Result{Columns: columns, Rows: out, RowCount: len(out)}, nil
}

func translateLocalErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.WrapQueryError(models.KindCancelled, err, "query cancelled")
	}
	return models.WrapQueryError(models.KindExecution, err, "local query failed")
}
