package nlsql

import (
	"context"
	"strings"
)

// Stub is a deterministic offline provider for demos and local development.
// It keys on a few question phrases and otherwise falls back to a broad
// access-score query. Its output still goes through the guardrail like any
// other candidate.
type Stub struct{}

func (Stub) GenerateSQL(_ context.Context, question, _ string) (*Generated, error) {
	q := strings.ToLower(question)
	if strings.Contains(q, "worst") && strings.Contains(q, "route") {
		return &Generated{
			SQL: "SELECT route_id,\n" +
				"       AVG(1 - pct_on_time) AS avg_delay_ratio,\n" +
				"       AVG(mean_delay_sec) AS avg_delay_seconds\n" +
				"FROM mart_reliability_by_route_day\n" +
				"WHERE service_date_mst >= CURRENT_DATE - INTERVAL '30 days'\n" +
				"GROUP BY route_id\n" +
				"ORDER BY avg_delay_ratio DESC\n" +
				"LIMIT 10",
			Explanation: "Finds the ten routes with the most severe delays over the past month, " +
				"highlighting where riders feel the biggest pain today.",
		}, nil
	}
	return &Generated{
		SQL:         "SELECT *\nFROM mart_access_score_by_stop\nLIMIT 100",
		Explanation: "Default stub query returning access scores.",
	}, nil
}
