package notify

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/pos-terminal/internal/common"
	"github.com/noah-isme/pos-terminal/internal/events"
)

// Journal lists recorded events.
type Journal interface {
	Recent(ctx context.Context, n int64) ([]events.Event, error)
}

// AdminHandler exposes the event journal and manual redelivery to operators.
type AdminHandler struct {
	Journal Journal
	Disp    *Dispatcher
}

// ListEvents returns recent events, optionally filtered by topic.
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Journal == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "event journal unavailable", nil)
		return
	}
	limit := int64(50)
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 1 || v > 500 {
			common.WriteError(w, common.BadRequest("limit", "limit must be between 1 and 500", err))
			return
		}
		limit = v
	}
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	list, err := h.Journal.Recent(r.Context(), limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	out := make([]events.Event, 0, len(list))
	for _, ev := range list {
		if topic != "" && ev.Topic != topic {
			continue
		}
		out = append(out, ev)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// ListEndpoints returns configured webhook endpoints without secrets.
func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Disp == nil {
		common.JSON(w, http.StatusOK, map[string]any{"data": []Endpoint{}})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Disp.Endpoints})
}

// Redeliver dispatches a journaled event again, bypassing replay guards.
func (h *AdminHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Journal == nil || h.Disp == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "event delivery unavailable", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.WriteError(w, common.BadRequest("id", "event id is required", nil))
		return
	}
	list, err := h.Journal.Recent(r.Context(), 1000)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	var found *events.Event
	for i := range list {
		if list[i].ID == id {
			found = &list[i]
			break
		}
	}
	if found == nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "event not in journal", nil)
		return
	}
	forced := *h.Disp
	forced.Replay = nil
	if err := forced.Dispatch(r.Context(), *found); err != nil {
		common.JSONError(w, http.StatusBadGateway, "DELIVERY_FAILED", err.Error(), map[string]any{"retryable": true})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"redelivered": id})
}
