package gateway_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/medsidd/whyline-denver/internal/admission"
	"github.com/medsidd/whyline-denver/internal/audit"
	"github.com/medsidd/whyline-denver/internal/cache"
	"github.com/medsidd/whyline-denver/internal/engine"
	"github.com/medsidd/whyline-denver/internal/gateway"
	"github.com/medsidd/whyline-denver/internal/guardrail"
	"github.com/medsidd/whyline-denver/internal/models"
	"github.com/medsidd/whyline-denver/internal/registry"
)

const manifestJSON = `{
  "nodes": {
    "model.whylinedenver.mart_reliability_by_route_day": {
      "name": "mart_reliability_by_route_day",
      "relation_name": "proj.marts.mart_reliability_by_route_day",
      "config": {"meta": {"allow_in_app": true}},
      "columns": {
        "route_id": {"name": "route_id", "data_type": "string"},
        "service_date_mst": {"name": "service_date_mst", "data_type": "date"},
        "pct_on_time": {"name": "pct_on_time", "data_type": "float64"}
      }
    }
  }
}`

type fakeEngine struct {
	name  string
	calls int
	err   error
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Execute(ctx context.Context, req engine.Request) (*engine.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Result{
		Columns:  []string{"route_id"},
		Rows:     []map[string]any{{"route_id": "15"}},
		RowCount: 1,
	}, nil
}

type fakeMetered struct {
	fakeEngine
	bytes int64
}

func (f *fakeMetered) EstimateBytes(context.Context, string) (int64, error) {
	return f.bytes, nil
}

type testEnv struct {
	gw        *gateway.Gateway
	auditLog  *audit.Logger
	auditPath string
}

func newEnv(t *testing.T, engines ...engine.Engine) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(`{"nodes":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := registry.New(dir, nil)
	if err := reg.Refresh(); err != nil {
		t.Fatal(err)
	}

	auditPath := filepath.Join(dir, "audit.jsonl")
	auditLog := audit.New(auditPath, 10, 3, 64)

	gw := gateway.New(reg,
		&guardrail.Validator{SafeRowLimit: 5000},
		admission.NewController(2_000_000_000),
		cache.New(time.Minute, 16),
		auditLog,
		2_000_000_000)
	for _, e := range engines {
		gw.RegisterEngine(e)
	}
	return &testEnv{gw: gw, auditLog: auditLog, auditPath: auditPath}
}

func (env *testEnv) records(t *testing.T) []map[string]any {
	t.Helper()
	if err := env.auditLog.Close(); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(env.auditPath)
	if os.IsNotExist(err) {
		// Nothing was ever submitted, so the file was never created.
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		out = append(out, rec)
	}
	return out
}

// ─── Happy path ───────────────────────────────────────────────────────────────

func TestExecuteSuccess(t *testing.T) {
	eng := &fakeEngine{name: "duckdb"}
	env := newEnv(t, eng)

	resp, err := env.gw.Execute(context.Background(), &models.RunQueryRequest{
		SQL:    "SELECT route_id FROM mart_reliability_by_route_day LIMIT 10",
		Engine: "duckdb",
		Origin: models.OriginManual,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RowCount != 1 || resp.Stats.Engine != "duckdb" || resp.Stats.CacheHit {
		t.Errorf("response = %+v", resp)
	}

	recs := env.records(t)
	if len(recs) != 1 {
		t.Fatalf("got %d audit records, want 1", len(recs))
	}
	rec := recs[0]
	if rec["outcome"] != "success" || rec["engine"] != "duckdb" || rec["origin"] != "manual" {
		t.Errorf("record = %v", rec)
	}
	if rec["sql_hash"] == nil || rec["sql_hash"] == "" {
		t.Error("record must carry a SQL hash")
	}
	if names, ok := rec["model_names"].([]any); !ok || len(names) != 1 {
		t.Errorf("model_names = %v", rec["model_names"])
	}
}

func TestExecuteCacheHitSharesResult(t *testing.T) {
	eng := &fakeEngine{name: "duckdb"}
	env := newEnv(t, eng)
	req := func() *models.RunQueryRequest {
		return &models.RunQueryRequest{
			SQL:    "SELECT route_id FROM mart_reliability_by_route_day LIMIT 10",
			Engine: "duckdb",
		}
	}

	if _, err := env.gw.Execute(context.Background(), req()); err != nil {
		t.Fatal(err)
	}
	resp, err := env.gw.Execute(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Stats.CacheHit {
		t.Error("second run should be a cache hit")
	}
	if eng.calls != 1 {
		t.Errorf("engine called %d times, want 1", eng.calls)
	}

	recs := env.records(t)
	if len(recs) != 2 {
		t.Fatalf("every decision must be audited, got %d records", len(recs))
	}
	if recs[1]["cache_hit"] != true {
		t.Errorf("second record should mark the hit: %v", recs[1])
	}
}

// ─── Denials ──────────────────────────────────────────────────────────────────

func TestExecuteDenialsAreAudited(t *testing.T) {
	tests := []struct {
		name string
		req  *models.RunQueryRequest
		kind models.ErrorKind
	}{
		{
			"non-select",
			&models.RunQueryRequest{SQL: "DROP TABLE mart_reliability_by_route_day", Engine: "duckdb"},
			models.KindNonSelect,
		},
		{
			"unauthorized relation",
			&models.RunQueryRequest{SQL: "SELECT * FROM secrets", Engine: "duckdb"},
			models.KindUnauthorizedRelation,
		},
		{
			"unknown engine",
			&models.RunQueryRequest{SQL: "SELECT route_id FROM mart_reliability_by_route_day", Engine: "trino"},
			models.KindUnknownEngine,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, &fakeEngine{name: "duckdb"})
			_, err := env.gw.Execute(context.Background(), tt.req)
			if models.KindOf(err) != tt.kind {
				t.Fatalf("kind = %s, want %s (err: %v)", models.KindOf(err), tt.kind, err)
			}

			recs := env.records(t)
			if len(recs) != 1 {
				t.Fatalf("denied request must still be audited, got %d records", len(recs))
			}
			if recs[0]["error_kind"] != string(tt.kind) {
				t.Errorf("record = %v", recs[0])
			}
		})
	}
}

func TestExecuteCostExceeded(t *testing.T) {
	eng := &fakeMetered{fakeEngine: fakeEngine{name: "bigquery"}, bytes: 5_000_000_000}
	env := newEnv(t, eng)

	_, err := env.gw.Execute(context.Background(), &models.RunQueryRequest{
		SQL:    "SELECT route_id FROM mart_reliability_by_route_day WHERE service_date_mst = '2025-06-01'",
		Engine: "bigquery",
	})
	if models.KindOf(err) != models.KindCostExceeded {
		t.Fatalf("expected cost_exceeded, got %v", err)
	}
	if eng.calls != 0 {
		t.Error("rejected query must never execute")
	}

	var ce *admission.CostExceededError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CostExceededError, got %T", err)
	}
	if ce.EstimateBytes != 5_000_000_000 {
		t.Errorf("estimate bytes = %d", ce.EstimateBytes)
	}

	recs := env.records(t)
	if len(recs) != 1 || recs[0]["error_kind"] != "cost_exceeded" {
		t.Errorf("records = %v", recs)
	}
}

func TestExecutePartitionFilterRequiredOnMetered(t *testing.T) {
	eng := &fakeMetered{fakeEngine: fakeEngine{name: "bigquery"}, bytes: 1000}
	env := newEnv(t, eng)

	_, err := env.gw.Execute(context.Background(), &models.RunQueryRequest{
		SQL:    "SELECT service_date_mst FROM mart_reliability_by_route_day",
		Engine: "bigquery",
	})
	if models.KindOf(err) != models.KindMissingPartitionFilter {
		t.Fatalf("expected missing_partition_filter, got %v", err)
	}
	if eng.calls != 0 {
		t.Error("unbounded scan must not reach the metered engine")
	}
	if recs := env.records(t); len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestExecuteInjectsDashboardFilters(t *testing.T) {
	eng := &fakeEngine{name: "duckdb"}
	env := newEnv(t, eng)

	_, err := env.gw.Execute(context.Background(), &models.RunQueryRequest{
		SQL:    "SELECT route_id FROM mart_reliability_by_route_day",
		Engine: "duckdb",
		Filters: models.FilterState{
			StartDate: "2025-01-01",
			EndDate:   "2025-01-31",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The filtered and unfiltered forms must cache under different keys.
	if _, err := env.gw.Execute(context.Background(), &models.RunQueryRequest{
		SQL:    "SELECT route_id FROM mart_reliability_by_route_day",
		Engine: "duckdb",
	}); err != nil {
		t.Fatal(err)
	}
	if eng.calls != 2 {
		t.Errorf("engine called %d times, want 2 (different canonical SQL)", eng.calls)
	}
}

// ─── Estimate and validate surfaces ───────────────────────────────────────────

func TestEstimateCost(t *testing.T) {
	eng := &fakeMetered{fakeEngine: fakeEngine{name: "bigquery"}, bytes: 1_500_000_000}
	env := newEnv(t, eng)

	est, err := env.gw.EstimateCost(context.Background(),
		"SELECT route_id FROM mart_reliability_by_route_day LIMIT 10", "bigquery")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Bytes != 1_500_000_000 || !est.Metered {
		t.Errorf("estimate = %+v", est)
	}
	if eng.calls != 0 {
		t.Error("estimation must not execute the query")
	}
}

func TestAdvisoryDenialsAreAudited(t *testing.T) {
	env := newEnv(t, &fakeEngine{name: "duckdb"})

	if _, err := env.gw.Validate("DROP TABLE mart_reliability_by_route_day"); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := env.gw.EstimateCost(context.Background(),
		"SELECT route_id FROM mart_reliability_by_route_day", "trino"); err == nil {
		t.Fatal("expected estimate error")
	}

	recs := env.records(t)
	if len(recs) != 2 {
		t.Fatalf("got %d audit records, want 2", len(recs))
	}
	if recs[0]["origin"] != "validate" || recs[0]["error_kind"] != string(models.KindNonSelect) {
		t.Errorf("validate record = %v", recs[0])
	}
	if recs[1]["origin"] != "estimate" || recs[1]["error_kind"] != string(models.KindUnknownEngine) {
		t.Errorf("estimate record = %v", recs[1])
	}
	if recs[0]["sql_hash"] == nil || recs[0]["sql_hash"] == "" {
		t.Error("denied advisory record must still carry a SQL hash")
	}
}

func TestValidateSurfaceSuccessNotAudited(t *testing.T) {
	env := newEnv(t, &fakeEngine{name: "duckdb"})
	if _, err := env.gw.Validate("SELECT route_id FROM mart_reliability_by_route_day"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recs := env.records(t); len(recs) != 0 {
		t.Errorf("successful preview should not be audited, got %v", recs)
	}
}

func TestValidateSurface(t *testing.T) {
	env := newEnv(t, &fakeEngine{name: "duckdb"})
	vq, err := env.gw.Validate("SELECT route_id FROM mart_reliability_by_route_day")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vq.Relations) != 1 || vq.Relations[0] != "mart_reliability_by_route_day" {
		t.Errorf("relations = %v", vq.Relations)
	}
}
