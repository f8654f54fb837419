package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/common"
)

// Handler exposes the product picker endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Variants handles GET /api/v1/catalog/variants.
func (h *Handler) Variants(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	params, err := h.service.ParseSearchParams(r.URL.Query())
	if err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.service.Search(r.Context(), params)
	if err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: result.Page, PerPage: result.Limit, TotalItems: result.Total},
	})
}

// Lookup handles GET /api/v1/catalog/lookup/{code}.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	item, err := h.service.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": item})
}

// PaymentMethods handles GET /api/v1/payment-methods.
func (h *Handler) PaymentMethods(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	methods, err := h.service.PaymentMethods(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": methods})
}

// WriteError maps picker and backend errors to responses. It is shared by the
// other picker handlers.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case common.IsAppError(err):
		common.WriteError(w, err)
	case errors.Is(err, ErrNotFound), backend.IsNotFound(err):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case backend.IsTransient(err):
		common.JSONError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "sales backend unavailable", map[string]any{"retryable": true})
	default:
		var be *backend.Error
		if errors.As(err, &be) {
			common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", be.Error(), map[string]any{"status": be.Status, "retryable": false})
			return
		}
		common.WriteError(w, err)
	}
}
