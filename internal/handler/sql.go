package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medsidd/whyline-denver/internal/engine"
	"github.com/medsidd/whyline-denver/internal/gateway"
	"github.com/medsidd/whyline-denver/internal/models"
	"github.com/medsidd/whyline-denver/internal/nlsql"
	"github.com/medsidd/whyline-denver/internal/registry"
)

// SQLHandler covers the pre-execution surface: validate, estimate, generate.
type SQLHandler struct {
	gw       *gateway.Gateway
	provider nlsql.Provider
	reg      *registry.Registry
}

func NewSQLHandler(gw *gateway.Gateway, provider nlsql.Provider, reg *registry.Registry) *SQLHandler {
	return &SQLHandler{gw: gw, provider: provider, reg: reg}
}

// Validate handles POST /api/v1/sql/validate
func (h *SQLHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	vq, err := h.gw.Validate(req.SQL)
	if err != nil {
		models.WriteQueryError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, models.ValidateResponse{
		Status:       "ok",
		CanonicalSQL: vq.CanonicalSQL,
		Relations:    vq.Relations,
	})
}

// Estimate handles POST /api/v1/sql/estimate
func (h *SQLHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req models.EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Engine == "" {
		req.Engine = engine.NameBigQuery
	}

	est, err := h.gw.EstimateCost(r.Context(), req.SQL, req.Engine)
	if err != nil {
		models.WriteQueryError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, models.EstimateResponse{
		Status:        "ok",
		Engine:        req.Engine,
		EstimateBytes: est.Bytes,
		CeilingBytes:  est.CeilingBytes,
		Display:       est.Display(),
	})
}

// Generate handles POST /api/v1/sql/generate. The generated SQL is validated
// before it is returned, so the editor always starts from a runnable query.
func (h *SQLHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateSQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		models.WriteError(w, http.StatusBadRequest, "question is required")
		return
	}

	gen, err := h.provider.GenerateSQL(r.Context(), req.Question, h.reg.Snapshot().SchemaBrief())
	if err != nil {
		if errors.Is(err, nlsql.ErrNotConfigured) {
			models.WriteError(w, http.StatusServiceUnavailable, "SQL generation is not configured")
			return
		}
		models.WriteError(w, http.StatusBadGateway, "SQL generation failed: "+err.Error())
		return
	}

	vq, err := h.gw.Validate(gen.SQL)
	if err != nil {
		models.WriteQueryError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, models.GenerateSQLResponse{
		Status:      "ok",
		SQL:         vq.CanonicalSQL,
		Explanation: gen.Explanation,
	})
}
