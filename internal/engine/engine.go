// Package engine provides the two analytical backends behind one interface:
// a local embedded DuckDB warehouse (free) and BigQuery (metered). The
// gateway selects the adapter by configuration at dispatch time.
package engine

import "context"

const (
	NameDuckDB   = "duckdb"
	NameBigQuery = "bigquery"
)

// Request is one execution against a backend. MaxBytesBilled only applies to
// metered engines and acts as a hard cap independent of the admission
// controller's estimate.
type Request struct {
	SQL            string
	MaxBytesBilled int64
}

// Result is the uniform shape both adapters produce.
type Result struct {
	Columns      []string
	Rows         []map[string]any
	RowCount     int
	BytesScanned *int64 // nil for unmetered engines
}

// Engine executes validated SQL. Implementations translate backend-specific
// failures into the gateway's canonical execution error, preserving the
// original message for diagnostics.
type Engine interface {
	Name() string
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Estimator is the non-executing cost probe metered engines expose.
type Estimator interface {
	EstimateBytes(ctx context.Context, sql string) (int64, error)
}
