// Package guardrail proves that untrusted candidate SQL is a safe, read-only,
// allow-listed query before anything is executed or billed. It parses the
// query with the PostgreSQL parser (pg_query_go) rather than pattern-matching
// text, so statements smuggled through comments or string literals are caught
// by construction.
package guardrail

import (
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/medsidd/whyline-denver/internal/models"
	"github.com/medsidd/whyline-denver/internal/registry"
)

// ValidatedQuery is the proof token the rest of the gateway operates on.
// CanonicalSQL is the deparsed form: stable whitespace and casing, explicit
// row limit. It is the cache key, never the raw input text.
type ValidatedQuery struct {
	CanonicalSQL string
	Relations    []string
}

// Validator checks candidate SQL against a registry snapshot.
type Validator struct {
	SafeRowLimit int
}

// Validate runs the full check sequence: parse, single statement, SELECT
// root, relation allow-list. On success the query is re-serialized into its
// canonical form with the row limit applied.
func (v *Validator) Validate(rawSQL string, snap *registry.Snapshot) (*ValidatedQuery, error) {
	trimmed := strings.TrimSpace(rawSQL)
	if trimmed == "" {
		return nil, models.NewQueryError(models.KindParse, "no SQL provided")
	}

	result, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, models.WrapQueryError(models.KindParse, err, "SQL could not be parsed")
	}
	if len(result.Stmts) == 0 {
		return nil, models.NewQueryError(models.KindParse, "no SQL statement found")
	}
	if len(result.Stmts) > 1 {
		return nil, models.NewQueryError(models.KindMultipleStatements,
			"multiple SQL statements detected; only a single SELECT is allowed")
	}

	stmt := result.Stmts[0].Stmt
	sel, ok := stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return nil, models.NewQueryError(models.KindNonSelect,
			"only SELECT statements are allowed, got %s", statementKind(stmt))
	}
	// SELECT INTO parses as a SelectStmt but creates a table.
	if sel.SelectStmt.IntoClause != nil {
		return nil, models.NewQueryError(models.KindNonSelect,
			"SELECT INTO creates a table and is not allowed")
	}
	if len(sel.SelectStmt.LockingClause) > 0 {
		return nil, models.NewQueryError(models.KindNonSelect,
			"row locking clauses are not allowed on a read-only surface")
	}

	relations, err := checkRelations(stmt, snap)
	if err != nil {
		return nil, err
	}

	if v.SafeRowLimit > 0 {
		applyRowLimit(sel.SelectStmt, int32(v.SafeRowLimit))
	}

	canonical, err := pg_query.Deparse(result)
	if err != nil {
		return nil, models.WrapQueryError(models.KindParse, err, "SQL could not be canonicalized")
	}

	return &ValidatedQuery{CanonicalSQL: canonical, Relations: relations}, nil
}

// checkRelations collects every relation referenced anywhere in the statement
// (CTE bodies and subqueries included) and verifies each against the
// registry. CTE names are in scope for the query, not the allow-list.
func checkRelations(stmt *pg_query.Node, snap *registry.Snapshot) ([]string, error) {
	cteNames := make(map[string]bool)
	collectCTENames(stmt, cteNames)

	seen := make(map[string]bool)
	var all []string
	collectRelations(stmt, seen, &all)

	var relations []string
	for _, rel := range all {
		if cteNames[rel] {
			continue
		}
		ds, ok := snap.Lookup(rel)
		if !ok || !ds.Exposed {
			return nil, models.NewQueryError(models.KindUnauthorizedRelation,
				"query references unauthorized relation %q; only app-approved marts may be queried", rel)
		}
		relations = append(relations, ds.Name)
	}
	sort.Strings(relations)
	return relations, nil
}

// applyRowLimit caps the outermost SELECT. A missing LIMIT gets the safe
// default appended; an oversized constant LIMIT is clamped down.
func applyRowLimit(sel *pg_query.SelectStmt, maxRows int32) {
	if sel == nil {
		return
	}
	if sel.LimitCount == nil {
		sel.LimitCount = makeIntegerConst(maxRows)
		sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
		return
	}
	if c, ok := sel.LimitCount.Node.(*pg_query.Node_AConst); ok {
		if ival, ok := c.AConst.Val.(*pg_query.A_Const_Ival); ok && ival.Ival.Ival > maxRows {
			ival.Ival.Ival = maxRows
		}
	}
}

// CheckPartitionFilter rejects remote queries that reference a dataset's
// primary date column without any WHERE clause, so unbounded scans over
// partitioned marts never reach the metered backend. Any WHERE clause
// satisfies the guard; whether its predicates actually prune partitions is
// the planner's concern, not the gateway's.
func CheckPartitionFilter(vq *ValidatedQuery, snap *registry.Snapshot) error {
	result, err := pg_query.Parse(vq.CanonicalSQL)
	if err != nil || len(result.Stmts) != 1 {
		return models.WrapQueryError(models.KindParse, err, "SQL could not be re-parsed")
	}
	sel, ok := result.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return nil
	}
	if sel.SelectStmt.WhereClause != nil {
		return nil
	}
	cols := make(map[string]bool)
	collectColumnRefs(result.Stmts[0].Stmt.ProtoReflect(), cols)
	for _, rel := range vq.Relations {
		ds, ok := snap.Lookup(rel)
		if !ok || ds.PrimaryDateColumn == "" {
			continue
		}
		if cols[strings.ToLower(ds.PrimaryDateColumn)] {
			return models.NewQueryError(models.KindMissingPartitionFilter,
				"the query touches %q but has no WHERE clause; filter to a date range to bound the scan",
				ds.PrimaryDateColumn)
		}
	}
	return nil
}

func statementKind(stmt *pg_query.Node) string {
	switch stmt.Node.(type) {
	case *pg_query.Node_InsertStmt:
		return "INSERT"
	case *pg_query.Node_UpdateStmt:
		return "UPDATE"
	case *pg_query.Node_DeleteStmt:
		return "DELETE"
	case *pg_query.Node_MergeStmt:
		return "MERGE"
	case *pg_query.Node_CreateStmt, *pg_query.Node_CreateTableAsStmt:
		return "CREATE"
	case *pg_query.Node_DropStmt:
		return "DROP"
	case *pg_query.Node_TruncateStmt:
		return "TRUNCATE"
	case *pg_query.Node_AlterTableStmt:
		return "ALTER"
	case *pg_query.Node_GrantStmt:
		return "GRANT"
	case *pg_query.Node_CopyStmt:
		return "COPY"
	case *pg_query.Node_VariableSetStmt:
		return "SET"
	case *pg_query.Node_ExplainStmt:
		return "EXPLAIN"
	default:
		return "a non-SELECT statement"
	}
}
