package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medsidd/whyline-denver/internal/models"
	"github.com/medsidd/whyline-denver/internal/registry"
)

// DatasetsHandler exposes the schema registry to the dashboard sidebar.
type DatasetsHandler struct {
	reg *registry.Registry
}

func NewDatasetsHandler(reg *registry.Registry) *DatasetsHandler {
	return &DatasetsHandler{reg: reg}
}

// List handles GET /api/v1/datasets
func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.reg.Snapshot()
	out := make([]models.DatasetResponse, 0)
	for _, ds := range snap.Datasets() {
		if !ds.Exposed {
			continue
		}
		out = append(out, datasetResponse(ds))
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"datasets":  out,
		"loaded_at": snap.LoadedAt,
	})
}

// Get handles GET /api/v1/datasets/{name}
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ds, ok := h.reg.Snapshot().Lookup(name)
	if !ok || !ds.Exposed {
		models.WriteError(w, http.StatusNotFound, "dataset not found: "+name)
		return
	}
	models.WriteJSON(w, http.StatusOK, datasetResponse(ds))
}

// Refresh handles POST /api/v1/datasets/refresh. It rereads the dbt artifacts
// and swaps the allow-list snapshot; in-flight queries keep the old one.
func (h *DatasetsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Refresh(); err != nil {
		models.WriteError(w, http.StatusInternalServerError, "registry refresh failed: "+err.Error())
		return
	}
	snap := h.reg.Snapshot()
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"datasets":  snap.ExposedNames(),
		"loaded_at": snap.LoadedAt,
	})
}

func datasetResponse(ds *registry.Dataset) models.DatasetResponse {
	cols := make([]models.DatasetColumn, 0, len(ds.Columns))
	for _, c := range ds.Columns {
		cols = append(cols, models.DatasetColumn{Name: c.Name, Type: c.Type})
	}
	return models.DatasetResponse{
		Name:              ds.Name,
		Description:       ds.Description,
		PrimaryDateColumn: ds.PrimaryDateColumn,
		Columns:           cols,
	}
}
