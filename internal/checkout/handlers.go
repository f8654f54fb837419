package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/catalog"
	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/ledger"
	"github.com/noah-isme/pos-terminal/internal/lock"
	"github.com/noah-isme/pos-terminal/internal/search"
	"github.com/noah-isme/pos-terminal/internal/session"
	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// Handler exposes commit and discard.
type Handler struct {
	Svc *Service
}

// Commit handles POST /api/v1/sales/{id}/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Svc.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	sess, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var in Input
	if r.ContentLength != 0 {
		if err := common.DecodeAndValidate(r, &in); err != nil {
			WriteError(w, err)
			return
		}
	}
	receipt, err := h.Svc.Commit(r.Context(), sess, in)
	if err != nil {
		WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"receipt": receipt,
		"session": sess.State(),
	}})
}

// Discard handles DELETE /api/v1/sales/{id}.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	tenantID, _ := tenant.From(r.Context())
	if err := h.Svc.Discard(r.Context(), tenantID, chi.URLParam(r, "id"), r.URL.Query().Get("reason")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(r *http.Request) (*session.Session, error) {
	tenantID, _ := tenant.From(r.Context())
	return h.Svc.Sessions.Get(tenantID, chi.URLParam(r, "id"))
}

// WriteError maps sale errors to HTTP responses. Order matters: commit in
// flight wraps the invalid state sentinel.
func WriteError(w http.ResponseWriter, err error) {
	var commitErr *ledger.CommitError
	var partial *backend.PartialCommitError
	switch {
	case err == nil:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
	case common.IsAppError(err):
		common.WriteError(w, err)
	case errors.As(err, &commitErr):
		first := commitErr.First()
		common.JSONError(w, http.StatusUnprocessableEntity, "NOT_COMMITTABLE", first.Message, map[string]any{
			"violations": commitErr.Violations,
		})
	case errors.Is(err, session.ErrCommitInFlight), errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "COMMIT_IN_PROGRESS", "a commit is already in progress for this sale", nil)
	case errors.Is(err, session.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "sale session not found", nil)
	case errors.Is(err, ledger.ErrInvalidState):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, ledger.ErrInvalidArgument):
		common.JSONError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
	case errors.Is(err, ledger.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ledger.ErrOutOfRange):
		common.JSONError(w, http.StatusUnprocessableEntity, "OUT_OF_RANGE", err.Error(), nil)
	case errors.Is(err, search.ErrSuperseded):
		common.JSONError(w, http.StatusConflict, "SUPERSEDED", "a newer search replaced this one", nil)
	case errors.As(err, &partial):
		common.JSONError(w, http.StatusBadGateway, "COMMIT_INCOMPLETE", describe(err), map[string]any{
			"saleId":    partial.SaleID,
			"step":      partial.Step,
			"voided":    partial.Voided,
			"retryable": partial.Voided,
		})
	default:
		catalog.WriteError(w, err)
	}
}
