package guardrail_test

import (
	"strings"
	"testing"

	"github.com/medsidd/whyline-denver/internal/guardrail"
	"github.com/medsidd/whyline-denver/internal/models"
)

func validate(t *testing.T, sql string) *guardrail.ValidatedQuery {
	t.Helper()
	vq, err := newValidator().Validate(sql, testSnapshot())
	if err != nil {
		t.Fatalf("validate %q: %v", sql, err)
	}
	return vq
}

// ─── Widget state translation ─────────────────────────────────────────────────

func TestFiltersFromState(t *testing.T) {
	specs := guardrail.FiltersFromState(models.FilterState{
		StartDate: "2025-01-01",
		EndDate:   "2025-01-31",
		Routes:    []string{"15", "0L"},
		StopID:    "  union-stn ",
		Weather:   []string{"mod", "heavy"},
	})
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}
	byCol := map[string]guardrail.FilterSpec{}
	for _, s := range specs {
		byCol[s.Column] = s
	}
	if s := byCol["service_date_mst"]; s.Op != guardrail.OpBetween || len(s.Values) != 2 {
		t.Errorf("date spec = %+v", s)
	}
	if s := byCol["route_id"]; s.Op != guardrail.OpIn || len(s.Values) != 2 {
		t.Errorf("route spec = %+v", s)
	}
	if s := byCol["stop_id"]; s.Op != guardrail.OpEq || s.Values[0] != "UNION-STN" {
		t.Errorf("stop spec should trim and uppercase, got %+v", s)
	}
	if s := byCol["precip_bin"]; s.Op != guardrail.OpIn {
		t.Errorf("weather spec = %+v", s)
	}
}

func TestFiltersFromStateEmpty(t *testing.T) {
	if specs := guardrail.FiltersFromState(models.FilterState{}); len(specs) != 0 {
		t.Errorf("empty state should produce no specs, got %v", specs)
	}
}

// ─── Injection ────────────────────────────────────────────────────────────────

func TestInjectFiltersAddsWhere(t *testing.T) {
	snap := testSnapshot()
	vq := validate(t, "SELECT route_id, pct_on_time FROM mart_reliability_by_route_day")

	out, err := guardrail.InjectFilters(vq, []guardrail.FilterSpec{
		{Column: "service_date_mst", Op: guardrail.OpBetween, Values: []string{"2025-01-01", "2025-01-31"}},
		{Column: "route_id", Op: guardrail.OpIn, Values: []string{"15", "0L"}},
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sql := out.CanonicalSQL
	for _, want := range []string{"WHERE", "service_date_mst", "BETWEEN", "route_id", "'15'", "'0L'"} {
		if !strings.Contains(sql, want) {
			t.Errorf("injected SQL %q should contain %q", sql, want)
		}
	}
}

func TestInjectFiltersMergesWithExistingWhere(t *testing.T) {
	snap := testSnapshot()
	vq := validate(t, "SELECT route_id FROM mart_reliability_by_route_day WHERE pct_on_time < 0.8")

	out, err := guardrail.InjectFilters(vq, []guardrail.FilterSpec{
		{Column: "route_id", Op: guardrail.OpEq, Values: []string{"15"}},
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql := out.CanonicalSQL
	if !strings.Contains(sql, "pct_on_time") || !strings.Contains(sql, "route_id") {
		t.Errorf("both predicates should survive: %q", sql)
	}
	if !strings.Contains(strings.ToUpper(sql), " AND ") {
		t.Errorf("predicates should be AND-combined: %q", sql)
	}
}

func TestInjectFiltersIdempotent(t *testing.T) {
	snap := testSnapshot()
	vq := validate(t, "SELECT route_id FROM mart_reliability_by_route_day")
	specs := []guardrail.FilterSpec{
		{Column: "service_date_mst", Op: guardrail.OpBetween, Values: []string{"2025-01-01", "2025-01-31"}},
		{Column: "route_id", Op: guardrail.OpIn, Values: []string{"15"}},
	}

	once, err := guardrail.InjectFilters(vq, specs, snap)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := guardrail.InjectFilters(once, specs, snap)
	if err != nil {
		t.Fatal(err)
	}
	if once.CanonicalSQL != twice.CanonicalSQL {
		t.Errorf("re-injection must be a no-op:\n  %q\n  %q", once.CanonicalSQL, twice.CanonicalSQL)
	}
	// Each predicate appears exactly once; re-parsed conjuncts carry location
	// offsets that must not defeat the duplicate check.
	if n := strings.Count(twice.CanonicalSQL, "BETWEEN"); n != 1 {
		t.Errorf("date predicate duplicated %d times: %q", n, twice.CanonicalSQL)
	}
	if n := strings.Count(twice.CanonicalSQL, "route_id IN"); n != 1 {
		t.Errorf("route predicate duplicated %d times: %q", n, twice.CanonicalSQL)
	}
}

func TestInjectFiltersSkipsUnknownColumn(t *testing.T) {
	// mart_crash_proximity_by_stop has no service_date_mst; the filter is
	// skipped, not an error.
	snap := testSnapshot()
	vq := validate(t, "SELECT stop_id FROM mart_crash_proximity_by_stop")

	out, err := guardrail.InjectFilters(vq, []guardrail.FilterSpec{
		{Column: "service_date_mst", Op: guardrail.OpBetween, Values: []string{"2025-01-01", "2025-01-31"}},
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out.CanonicalSQL, "service_date_mst") {
		t.Errorf("filter on missing column should be skipped: %q", out.CanonicalSQL)
	}
}

func TestInjectFiltersNoSpecs(t *testing.T) {
	snap := testSnapshot()
	vq := validate(t, "SELECT route_id FROM mart_reliability_by_route_day")
	out, err := guardrail.InjectFilters(vq, nil, snap)
	if err != nil {
		t.Fatal(err)
	}
	if out.CanonicalSQL != vq.CanonicalSQL {
		t.Errorf("no specs should leave SQL untouched")
	}
}

// ─── Literal type defense ─────────────────────────────────────────────────────

func TestInjectFiltersRejectsBadLiterals(t *testing.T) {
	snap := testSnapshot()

	tests := []struct {
		name string
		spec guardrail.FilterSpec
	}{
		{"sql in date value", guardrail.FilterSpec{
			Column: "service_date_mst", Op: guardrail.OpBetween,
			Values: []string{"2025-01-01' OR '1'='1", "2025-01-31"},
		}},
		{"word in date value", guardrail.FilterSpec{
			Column: "service_date_mst", Op: guardrail.OpBetween,
			Values: []string{"yesterday", "today"},
		}},
		{"text in numeric column", guardrail.FilterSpec{
			Column: "crash_250m_cnt", Op: guardrail.OpEq,
			Values: []string{"lots"},
		}},
		{"between needs two values", guardrail.FilterSpec{
			Column: "service_date_mst", Op: guardrail.OpBetween,
			Values: []string{"2025-01-01"},
		}},
		{"in needs values", guardrail.FilterSpec{
			Column: "route_id", Op: guardrail.OpIn,
			Values: nil,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sql string
			if tt.spec.Column == "crash_250m_cnt" {
				sql = "SELECT stop_id FROM mart_crash_proximity_by_stop"
			} else {
				sql = "SELECT route_id FROM mart_reliability_by_route_day"
			}
			vq := validate(t, sql)
			_, err := guardrail.InjectFilters(vq, []guardrail.FilterSpec{tt.spec}, snap)
			wantKind(t, err, models.KindFilterInjection)
		})
	}
}

func TestInjectFiltersQuotesStringLiterals(t *testing.T) {
	// String values always land as quoted literals, so a value that merely
	// looks like SQL stays inert.
	snap := testSnapshot()
	vq := validate(t, "SELECT stop_id FROM mart_crash_proximity_by_stop")

	out, err := guardrail.InjectFilters(vq, []guardrail.FilterSpec{
		{Column: "stop_id", Op: guardrail.OpEq, Values: []string{"1 OR 1=1"}},
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.CanonicalSQL, "'1 OR 1=1'") {
		t.Errorf("string value should be a quoted literal: %q", out.CanonicalSQL)
	}
}

// ─── Set operations ───────────────────────────────────────────────────────────

func TestInjectFiltersSkipsSetOperations(t *testing.T) {
	snap := testSnapshot()
	vq := validate(t, "SELECT route_id FROM mart_reliability_by_route_day "+
		"UNION ALL SELECT stop_id FROM mart_crash_proximity_by_stop")

	out, err := guardrail.InjectFilters(vq, []guardrail.FilterSpec{
		{Column: "route_id", Op: guardrail.OpEq, Values: []string{"15"}},
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.CanonicalSQL != vq.CanonicalSQL {
		t.Errorf("set-operation query should be left unchanged")
	}
}
