package report

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/common"
)

// Handler exposes the sales history.
type Handler struct {
	Svc *Service
}

// Sales handles GET /api/v1/reports/sales.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORT_NOT_CONFIGURED", "report service not configured", nil)
		return
	}
	q, err := h.Svc.ParseQuery(r.URL.Query())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	hist, err := h.Svc.History(r.Context(), q)
	if err != nil {
		catalog.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(hist.Total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       hist.Items,
		"summary":    hist.Summary,
		"pagination": common.Pagination{Page: hist.Page, PerPage: hist.Limit, TotalItems: hist.Total},
	})
}

// SaleDetail handles GET /api/v1/reports/sales/{saleId}.
func (h *Handler) SaleDetail(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORT_NOT_CONFIGURED", "report service not configured", nil)
		return
	}
	d, err := h.Svc.Detail(r.Context(), chi.URLParam(r, "saleId"))
	if err != nil {
		catalog.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}
