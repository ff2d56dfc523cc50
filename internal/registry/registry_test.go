package registry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/medsidd/whyline-denver/internal/registry"
)

const manifestJSON = `{
  "nodes": {
    "model.whylinedenver.mart_reliability_by_route_day": {
      "name": "mart_reliability_by_route_day",
      "relation_name": "` + "`proj.marts.mart_reliability_by_route_day`" + `",
      "description": "Daily on-time performance by route",
      "config": {"meta": {"allow_in_app": true}},
      "columns": {
        "route_id": {"name": "route_id", "data_type": "string", "description": "GTFS route"},
        "service_date_mst": {"name": "service_date_mst", "data_type": "date"},
        "pct_on_time": {"name": "pct_on_time", "data_type": "float64"}
      }
    },
    "model.whylinedenver.mart_weather_impacts": {
      "name": "mart_weather_impacts",
      "relation_name": "proj.marts.mart_weather_impacts",
      "config": {"meta": {"allow_in_app": true}},
      "columns": {
        "route_id": {"name": "route_id", "data_type": "string"},
        "precip_bin": {"name": "precip_bin", "data_type": "string"}
      }
    },
    "model.whylinedenver.stg_gtfs_trips": {
      "name": "stg_gtfs_trips",
      "relation_name": "proj.staging.stg_gtfs_trips",
      "config": {"meta": {}},
      "columns": {}
    },
    "source.whylinedenver.raw_gtfs": {
      "name": "raw_gtfs",
      "config": {"meta": {"allow_in_app": true}},
      "columns": {}
    }
  }
}`

const catalogJSON = `{
  "nodes": {
    "model.whylinedenver.mart_reliability_by_route_day": {
      "name": "mart_reliability_by_route_day",
      "columns": {
        "route_id": {"name": "route_id", "type": "VARCHAR"},
        "service_date_mst": {"name": "service_date_mst", "type": "DATE"},
        "pct_on_time": {"name": "pct_on_time", "type": "DOUBLE"}
      }
    }
  }
}`

func writeArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(catalogJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRefreshExposesAllowedModels(t *testing.T) {
	reg := registry.New(writeArtifacts(t), nil)
	if err := reg.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap := reg.Snapshot()
	got := snap.ExposedNames()
	want := []string{"mart_reliability_by_route_day", "mart_weather_impacts"}
	if len(got) != len(want) {
		t.Fatalf("exposed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("exposed[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Models without allow_in_app are present but not exposed.
	ds, ok := snap.Lookup("stg_gtfs_trips")
	if !ok {
		t.Fatal("staging model should be loadable")
	}
	if ds.Exposed {
		t.Error("staging model must not be exposed")
	}

	// Non-model nodes are skipped entirely.
	if _, ok := snap.Lookup("raw_gtfs"); ok {
		t.Error("source nodes must be ignored")
	}
}

func TestRefreshMergesCatalogTypes(t *testing.T) {
	reg := registry.New(writeArtifacts(t), nil)
	if err := reg.Refresh(); err != nil {
		t.Fatal(err)
	}

	ds, _ := reg.Snapshot().Lookup("mart_reliability_by_route_day")
	col := ds.Column("ROUTE_ID")
	if col == nil {
		t.Fatal("column lookup should be case-insensitive")
	}
	if col.Type != "VARCHAR" {
		t.Errorf("catalog type should win, got %q", col.Type)
	}
	if ds.PrimaryDateColumn != "service_date_mst" {
		t.Errorf("primary date column = %q", ds.PrimaryDateColumn)
	}
	if strings.Contains(ds.FQName, "`") {
		t.Errorf("FQName should be unquoted: %q", ds.FQName)
	}
}

func TestAllowedMartsRestrictsExposure(t *testing.T) {
	reg := registry.New(writeArtifacts(t), []string{"mart_weather_impacts"})
	if err := reg.Refresh(); err != nil {
		t.Fatal(err)
	}
	got := reg.Snapshot().ExposedNames()
	if len(got) != 1 || got[0] != "mart_weather_impacts" {
		t.Errorf("exposed = %v, want only mart_weather_impacts", got)
	}
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	dir := writeArtifacts(t)
	reg := registry.New(dir, nil)
	if err := reg.Refresh(); err != nil {
		t.Fatal(err)
	}
	before := reg.Snapshot()

	os.Remove(filepath.Join(dir, "manifest.json"))
	if err := reg.Refresh(); err == nil {
		t.Fatal("refresh without manifest should fail")
	}
	if reg.Snapshot() != before {
		t.Error("failed refresh must leave the previous snapshot in place")
	}
}

func TestEmptyRegistryRejectsLookups(t *testing.T) {
	reg := registry.New(t.TempDir(), nil)
	if _, ok := reg.Snapshot().Lookup("mart_reliability_by_route_day"); ok {
		t.Error("empty registry should resolve nothing")
	}
	if names := reg.Snapshot().ExposedNames(); len(names) != 0 {
		t.Errorf("exposed = %v, want none", names)
	}
}

func TestSchemaBrief(t *testing.T) {
	reg := registry.New(writeArtifacts(t), nil)
	if err := reg.Refresh(); err != nil {
		t.Fatal(err)
	}
	brief := reg.Snapshot().SchemaBrief()
	for _, want := range []string{"mart_reliability_by_route_day", "route_id", "precip_bin"} {
		if !strings.Contains(brief, want) {
			t.Errorf("brief should mention %q:\n%s", want, brief)
		}
	}
	if strings.Contains(brief, "stg_gtfs_trips") {
		t.Error("brief must not leak unexposed models")
	}
}
