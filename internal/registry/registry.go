// Package registry loads the catalog of datasets the gateway is allowed to
// expose. The catalog is produced by the external dbt transformation build
// (manifest.json + catalog.json); only models tagged allow_in_app in their
// dbt meta become queryable.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Column describes one column of an exposed dataset.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	Description string `json:"description,omitempty"`
}

// Dataset is an immutable entry of the allow-list snapshot.
type Dataset struct {
	Name              string   `json:"name"`
	FQName            string   `json:"fq_name"`
	Description       string   `json:"description,omitempty"`
	Exposed           bool     `json:"exposed"`
	PrimaryDateColumn string   `json:"primary_date_column,omitempty"`
	Columns           []Column `json:"columns"`

	columnsByName map[string]*Column
}

// Column returns the named column, or nil if the dataset does not have it.
// Lookup is case-insensitive, matching how the marts are queried.
func (d *Dataset) Column(name string) *Column {
	return d.columnsByName[strings.ToLower(name)]
}

// Snapshot is a read-only view of the allow-list. A refresh builds a new
// Snapshot and swaps it in atomically; in-flight validations keep the one
// they started with.
type Snapshot struct {
	datasets map[string]*Dataset
	LoadedAt time.Time
}

// NewSnapshot builds a snapshot directly from datasets, for callers that
// assemble the allow-list themselves rather than reading dbt artifacts.
func NewSnapshot(datasets ...*Dataset) *Snapshot {
	m := make(map[string]*Dataset, len(datasets))
	for _, d := range datasets {
		if d.columnsByName == nil {
			d.columnsByName = make(map[string]*Column, len(d.Columns))
			for i := range d.Columns {
				d.columnsByName[strings.ToLower(d.Columns[i].Name)] = &d.Columns[i]
			}
		}
		m[strings.ToLower(d.Name)] = d
	}
	return &Snapshot{datasets: m, LoadedAt: time.Now().UTC()}
}

// Lookup returns the dataset for the given name.
func (s *Snapshot) Lookup(name string) (*Dataset, bool) {
	d, ok := s.datasets[strings.ToLower(name)]
	return d, ok
}

// ExposedNames returns the sorted names of all exposed datasets.
func (s *Snapshot) ExposedNames() []string {
	names := make([]string, 0, len(s.datasets))
	for _, d := range s.datasets {
		if d.Exposed {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Datasets returns all datasets in the snapshot, sorted by name.
func (s *Snapshot) Datasets() []*Dataset {
	out := make([]*Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SchemaBrief renders a compact schema description of the exposed datasets,
// used as context for the SQL generator prompt.
func (s *Snapshot) SchemaBrief() string {
	var b strings.Builder
	for _, d := range s.Datasets() {
		if !d.Exposed {
			continue
		}
		fmt.Fprintf(&b, "%s", d.Name)
		if d.Description != "" {
			fmt.Fprintf(&b, " -- %s", d.Description)
		}
		b.WriteString("\n")
		for _, c := range d.Columns {
			fmt.Fprintf(&b, "  %s %s\n", c.Name, c.Type)
		}
	}
	return b.String()
}

// Registry holds the current snapshot and knows how to rebuild it from the
// dbt artifacts on disk.
type Registry struct {
	targetPath   string
	allowedMarts map[string]bool // optional extra filter on top of allow_in_app
	snapshot     atomic.Pointer[Snapshot]
}

// New creates a Registry reading artifacts from targetPath. allowedMarts, when
// non-empty, restricts the exposed set further.
func New(targetPath string, allowedMarts []string) *Registry {
	allowed := make(map[string]bool, len(allowedMarts))
	for _, m := range allowedMarts {
		if m = strings.TrimSpace(m); m != "" {
			allowed[strings.ToLower(m)] = true
		}
	}
	r := &Registry{targetPath: targetPath, allowedMarts: allowed}
	r.snapshot.Store(&Snapshot{datasets: map[string]*Dataset{}})
	return r
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Refresh rebuilds the snapshot from manifest.json and catalog.json and swaps
// it in wholesale. A failed refresh leaves the previous snapshot in place.
func (r *Registry) Refresh() error {
	manifest, err := readArtifact(filepath.Join(r.targetPath, "manifest.json"))
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	catalog, err := readArtifact(filepath.Join(r.targetPath, "catalog.json"))
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	snap := r.build(manifest, catalog)
	r.snapshot.Store(snap)
	log.Info().
		Int("datasets", len(snap.datasets)).
		Strs("exposed", snap.ExposedNames()).
		Msg("schema registry refreshed")
	return nil
}

type artifact struct {
	Nodes map[string]artifactNode `json:"nodes"`
}

type artifactNode struct {
	Name         string                    `json:"name"`
	RelationName string                    `json:"relation_name"`
	Description  string                    `json:"description"`
	Config       struct {
		Meta map[string]any `json:"meta"`
	} `json:"config"`
	Columns map[string]artifactColumn `json:"columns"`
}

type artifactColumn struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func readArtifact(path string) (*artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &a, nil
}

func (r *Registry) build(manifest, catalog *artifact) *Snapshot {
	datasets := make(map[string]*Dataset)
	for uid, node := range manifest.Nodes {
		if !strings.HasPrefix(uid, "model.") {
			continue
		}
		allowInApp, _ := node.Config.Meta["allow_in_app"].(bool)
		name := node.Name
		exposed := allowInApp
		if exposed && len(r.allowedMarts) > 0 && !r.allowedMarts[strings.ToLower(name)] {
			exposed = false
		}

		catNode, hasCatalog := catalog.Nodes[uid]
		ds := &Dataset{
			Name:          name,
			FQName:        strings.Trim(node.RelationName, "`"),
			Description:   node.Description,
			Exposed:       exposed,
			columnsByName: make(map[string]*Column),
		}
		if ds.FQName == "" {
			ds.FQName = name
		}

		for _, colName := range mergeColumnNames(node.Columns, catNode.Columns) {
			mCol := node.Columns[colName]
			colType := mCol.DataType
			if hasCatalog {
				if cCol, ok := catNode.Columns[colName]; ok && cCol.Type != "" {
					colType = cCol.Type
				}
			}
			col := Column{
				Name:        colName,
				Type:        strings.ToUpper(colType),
				Nullable:    true,
				Description: mCol.Description,
			}
			ds.Columns = append(ds.Columns, col)
			ds.columnsByName[strings.ToLower(colName)] = &ds.Columns[len(ds.Columns)-1]
		}

		if v, ok := node.Config.Meta["primary_date_column"].(string); ok {
			ds.PrimaryDateColumn = v
		} else {
			ds.PrimaryDateColumn = detectPrimaryDateColumn(ds.Columns)
		}

		datasets[strings.ToLower(name)] = ds
	}
	return &Snapshot{datasets: datasets, LoadedAt: time.Now().UTC()}
}

// mergeColumnNames combines manifest and catalog column names, preserving
// first-seen order so the brief reads like the dbt docs.
func mergeColumnNames(dicts ...map[string]artifactColumn) []string {
	var names []string
	seen := make(map[string]bool)
	for _, cols := range dicts {
		ordered := make([]string, 0, len(cols))
		for name := range cols {
			ordered = append(ordered, name)
		}
		sort.Strings(ordered)
		for _, name := range ordered {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func detectPrimaryDateColumn(cols []Column) string {
	// The marts share a service-date partition column; fall back to the first
	// DATE column when the convention does not hold.
	for _, c := range cols {
		if strings.EqualFold(c.Name, "service_date_mst") {
			return c.Name
		}
	}
	for _, c := range cols {
		if c.Type == "DATE" {
			return c.Name
		}
	}
	return ""
}
