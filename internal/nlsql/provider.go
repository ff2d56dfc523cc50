// Package nlsql turns a natural-language question into candidate SQL. The
// output is untrusted by definition: whatever the model produces goes through
// the same guardrail pipeline as hand-written SQL before it can run.
package nlsql

import (
	"context"
	"errors"
	"fmt"
)

// Generated is one candidate produced by a provider.
type Generated struct {
	SQL         string
	Explanation string
}

// Provider produces candidate SQL for a question given the schema brief of
// the exposed datasets.
type Provider interface {
	GenerateSQL(ctx context.Context, question, schemaBrief string) (*Generated, error)
}

// ErrNotConfigured is returned when no generation provider is set up.
var ErrNotConfigured = errors.New("no SQL generation provider configured")

// Disabled is the provider used when generation is turned off or the
// configured provider has no API key. Every call fails with
// ErrNotConfigured; the rest of the gateway works normally.
type Disabled struct{}

func (Disabled) GenerateSQL(context.Context, string, string) (*Generated, error) {
	return nil, ErrNotConfigured
}

func systemPrompt(schemaBrief string) string {
	return fmt.Sprintf(`You write SQL for a transit analytics dashboard covering Denver RTD service, weather, and crash data.

Rules:
- Produce exactly one SELECT statement. No DDL, no DML, no multiple statements.
- Query only the datasets listed below, by their bare names. Do not invent tables or columns.
- Always include a LIMIT.
- When a question mentions a time period, filter service_date_mst with a date range.
- Dates are in Mountain Standard Time.

Available datasets:

%s
Reply with the SQL in a single `+"```sql"+` code block, followed by one short sentence explaining what it computes.`, schemaBrief)
}
