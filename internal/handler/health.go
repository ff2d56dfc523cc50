package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/medsidd/whyline-denver/internal/models"
)

const version = "1.0.0"

// Pinger is implemented by engines that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles GET /health with dependency checks.
type HealthHandler struct {
	local         Pinger
	remoteEnabled bool
	llmEnabled    bool
}

func NewHealthHandler(local Pinger, remoteEnabled, llmEnabled bool) *HealthHandler {
	return &HealthHandler{local: local, remoteEnabled: remoteEnabled, llmEnabled: llmEnabled}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"server": "ok"}
	status := "healthy"

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.local != nil {
		if err := h.local.Ping(ctx); err != nil {
			checks["duckdb"] = "unavailable: " + err.Error()
			status = "degraded"
		} else {
			checks["duckdb"] = "ok"
		}
	} else {
		checks["duckdb"] = "disabled"
	}

	if h.remoteEnabled {
		checks["bigquery"] = "ok"
	} else {
		checks["bigquery"] = "disabled"
	}
	if h.llmEnabled {
		checks["sql_generation"] = "ok"
	} else {
		checks["sql_generation"] = "disabled"
	}

	models.WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:  status,
		Version: version,
		Checks:  checks,
	})
}
