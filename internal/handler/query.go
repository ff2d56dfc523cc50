package handler

import (
	"encoding/json"
	"net/http"

	"github.com/medsidd/whyline-denver/internal/gateway"
	"github.com/medsidd/whyline-denver/internal/models"
)

// QueryHandler handles query execution through the gateway pipeline.
type QueryHandler struct {
	gw *gateway.Gateway
}

func NewQueryHandler(gw *gateway.Gateway) *QueryHandler {
	return &QueryHandler{gw: gw}
}

// Run handles POST /api/v1/query/run
func (h *QueryHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req models.RunQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.gw.Execute(r.Context(), &req)
	if err != nil {
		models.WriteQueryError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, resp)
}
