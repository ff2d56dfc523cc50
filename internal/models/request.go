package models

// QueryOrigin records where a candidate SQL string came from.
type QueryOrigin string

const (
	OriginGenerated QueryOrigin = "generated"
	OriginManual    QueryOrigin = "manual"
	OriginPrebuilt  QueryOrigin = "prebuilt"
)

// FilterState carries the structured dashboard filter widgets. The widget
// layer shapes the values, the filter injector re-validates them.
type FilterState struct {
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Routes    []string `json:"routes,omitempty"`
	StopID    string   `json:"stop_id,omitempty"`
	Weather   []string `json:"weather,omitempty"`
}

// ValidateRequest for POST /api/v1/sql/validate
type ValidateRequest struct {
	SQL    string `json:"sql"`
	Engine string `json:"engine"`
}

// EstimateRequest for POST /api/v1/sql/estimate
type EstimateRequest struct {
	SQL    string `json:"sql"`
	Engine string `json:"engine"`
}

// RunQueryRequest for POST /api/v1/query/run
type RunQueryRequest struct {
	SQL       string      `json:"sql"`
	Engine    string      `json:"engine"`
	Question  string      `json:"question,omitempty"`
	Origin    QueryOrigin `json:"origin,omitempty"`
	Filters   FilterState `json:"filters"`
	TimeoutMs int         `json:"timeout_ms,omitempty"`
}

func (r *RunQueryRequest) SetDefaults() {
	if r.Engine == "" {
		r.Engine = "duckdb"
	}
	if r.Origin == "" {
		r.Origin = OriginManual
	}
	if r.TimeoutMs == 0 {
		r.TimeoutMs = 60_000
	}
	if r.TimeoutMs < 1000 {
		r.TimeoutMs = 1000
	}
	if r.TimeoutMs > 300_000 {
		r.TimeoutMs = 300_000
	}
}

// GenerateSQLRequest for POST /api/v1/sql/generate
type GenerateSQLRequest struct {
	Question string      `json:"question"`
	Engine   string      `json:"engine"`
	Filters  FilterState `json:"filters"`
}
