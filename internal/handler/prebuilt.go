package handler

import (
	"net/http"

	"github.com/medsidd/whyline-denver/internal/models"
)

// prebuiltQueries are the dashboard's canned starting points. They run through
// the same guardrail pipeline as any other SQL.
var prebuiltQueries = []models.PrebuiltQuery{
	{
		Title: "Worst 10 routes (last 30 days)",
		SQL: "SELECT route_id, AVG(pct_on_time) AS avg_pct_on_time " +
			"FROM mart_reliability_by_route_day " +
			"WHERE service_date_mst >= CURRENT_DATE - INTERVAL '30 days' " +
			"GROUP BY route_id " +
			"ORDER BY avg_pct_on_time ASC " +
			"LIMIT 10",
	},
	{
		Title: "Stops with highest crash exposure",
		SQL: "SELECT stop_id, crash_250m_cnt " +
			"FROM mart_crash_proximity_by_stop " +
			"ORDER BY crash_250m_cnt DESC " +
			"LIMIT 20",
	},
	{
		Title: "Where snow hurts reliability most",
		SQL: "SELECT route_id, delta_pct_on_time " +
			"FROM mart_weather_impacts " +
			"WHERE precip_bin IN ('mod', 'heavy') " +
			"ORDER BY delta_pct_on_time ASC " +
			"LIMIT 10",
	},
	{
		Title: "Equity gaps (high vulnerability, low reliability)",
		SQL: "SELECT p.stop_id, v.vuln_score_0_100, p.priority_score " +
			"FROM mart_priority_hotspots p " +
			"JOIN mart_vulnerability_by_stop v ON p.stop_id = v.stop_id " +
			"ORDER BY p.priority_score DESC " +
			"LIMIT 20",
	},
}

// PrebuiltHandler serves the canned questions list.
type PrebuiltHandler struct{}

func NewPrebuiltHandler() *PrebuiltHandler {
	return &PrebuiltHandler{}
}

// List handles GET /api/v1/queries/prebuilt
func (h *PrebuiltHandler) List(w http.ResponseWriter, r *http.Request) {
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"queries": prebuiltQueries,
	})
}
