package audit_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/medsidd/whyline-denver/internal/audit"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(out)+1, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := audit.New(path, 10, 3, 16)

	rows := 42
	hit := true
	l.Submit(audit.Record{
		Engine:     "duckdb",
		Origin:     "manual",
		Outcome:    "success",
		LatencyMs:  120,
		Rows:       &rows,
		CacheHit:   &hit,
		ModelNames: []string{"mart_reliability_by_route_day"},
		SQLHash:    audit.HashSQL("SELECT 1"),
	})
	l.Submit(audit.Record{
		Engine:    "bigquery",
		Outcome:   "cost_exceeded",
		ErrorKind: "cost_exceeded",
		SQLHash:   audit.HashSQL("SELECT 2"),
	})

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recs := readRecords(t, path)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	first := recs[0]
	if first["engine"] != "duckdb" || first["outcome"] != "success" {
		t.Errorf("first record = %v", first)
	}
	if first["ts_utc"] == "" || first["ts_utc"] == nil {
		t.Error("timestamp should be stamped automatically")
	}
	if first["rows"] != float64(42) {
		t.Errorf("rows = %v", first["rows"])
	}

	second := recs[1]
	if second["error_kind"] != "cost_exceeded" {
		t.Errorf("second record = %v", second)
	}
	if _, ok := second["rows"]; ok {
		t.Error("denied record should omit rows")
	}
}

func TestHashesAreStableAndOpaque(t *testing.T) {
	sql := "SELECT route_id FROM mart_reliability_by_route_day LIMIT 10"
	h1, h2 := audit.HashSQL(sql), audit.HashSQL(sql)
	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
	if h1 == sql {
		t.Error("raw SQL must never appear in the record")
	}
	if audit.HashQuestion("") != "" {
		t.Error("empty question should produce no hash")
	}
}

func TestSortedModels(t *testing.T) {
	in := []string{"b", "a", "c"}
	got := audit.SortedModels(in)
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("sorted = %v", got)
	}
	if in[0] != "b" {
		t.Error("input slice must not be mutated")
	}
}
