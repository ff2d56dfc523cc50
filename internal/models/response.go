package models

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// QueryStats describes one execution for the dashboard's stats footer.
type QueryStats struct {
	Engine       string `json:"engine"`
	LatencyMs    int64  `json:"latency_ms"`
	BytesScanned *int64 `json:"bytes_scanned,omitempty"`
	CacheHit     bool   `json:"cache_hit"`
}

// RunQueryResponse is returned by POST /api/v1/query/run
type RunQueryResponse struct {
	Status   string           `json:"status"`
	Columns  []string         `json:"columns"`
	Data     []map[string]any `json:"data"`
	RowCount int              `json:"row_count"`
	Stats    QueryStats       `json:"stats"`
}

// ValidateResponse is returned by POST /api/v1/sql/validate
type ValidateResponse struct {
	Status       string   `json:"status"`
	CanonicalSQL string   `json:"canonical_sql"`
	Relations    []string `json:"relations"`
}

// EstimateResponse is returned by POST /api/v1/sql/estimate
type EstimateResponse struct {
	Status        string `json:"status"`
	Engine        string `json:"engine"`
	EstimateBytes int64  `json:"estimate_bytes"`
	CeilingBytes  int64  `json:"ceiling_bytes"`
	Display       string `json:"display"`
}

// GenerateSQLResponse is returned by POST /api/v1/sql/generate
type GenerateSQLResponse struct {
	Status      string `json:"status"`
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
}

// DatasetResponse describes one exposed dataset for the sidebar.
type DatasetResponse struct {
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	PrimaryDateColumn string           `json:"primary_date_column,omitempty"`
	Columns           []DatasetColumn  `json:"columns"`
}

type DatasetColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PrebuiltQuery is one canned dashboard question.
type PrebuiltQuery struct {
	Title string `json:"title"`
	SQL   string `json:"sql"`
}
