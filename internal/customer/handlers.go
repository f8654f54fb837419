package customer

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/common"
)

// Handler exposes the customer picker.
type Handler struct {
	Svc *Service
}

// List handles GET /api/v1/customers.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params, err := h.Svc.ParseSearchParams(r.URL.Query())
	if err != nil {
		catalog.WriteError(w, err)
		return
	}
	res, err := h.Svc.Search(r.Context(), params)
	if err != nil {
		catalog.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       res.Items,
		"pagination": common.Pagination{Page: res.Page, PerPage: res.Limit, TotalItems: res.Total},
	})
}

// Get handles GET /api/v1/customers/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		catalog.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}
