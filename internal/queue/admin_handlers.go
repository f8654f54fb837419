package queue

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-terminal/internal/common"
)

// AdminHandler exposes DLQ inspection and replay for operators.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

// ListDLQ returns DLQ entries filtered by kind with pagination.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store unavailable", nil)
		return
	}
	ctx := r.Context()
	kind := normalizeKind(r.URL.Query().Get("kind"))
	page, err := common.ParsePageParams(r.URL.Query(), h.pageSize(), 200)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	entries, err := h.Store.ListQueueDlq(ctx, kind, page.Limit, page.Skip())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		msg, err := decodeMessage(string(entry.Payload))
		if err != nil {
			continue
		}
		items = append(items, dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
			Message:        msg,
		})
	}

	resp := map[string]any{
		"data":       items,
		"pagination": page.Meta(int(total)),
	}
	if kind != "" {
		resp["kind"] = kind
	}
	common.JSON(w, http.StatusOK, resp)
}

// ReplayDLQ re-enqueues DLQ entries either by ID list or batch by kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	ids := uniqueStrings(req.IDs)
	kind := normalizeKind(req.Kind)
	if len(ids) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	replayed := make([]uuid.UUID, 0, len(ids))
	failed := make(map[string]string)

	if len(ids) > 0 {
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				failed[raw] = "invalid uuid"
				continue
			}
			entry, err := h.Store.GetQueueDlq(ctx, id)
			if err != nil {
				failed[raw] = err.Error()
				continue
			}
			if err := h.requeueEntry(ctx, entry); err != nil {
				failed[id.String()] = err.Error()
				continue
			}
			replayed = append(replayed, id)
		}
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		entries, err := h.Store.ListQueueDlq(ctx, kind, limit, 0)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
		for _, entry := range entries {
			if err := h.requeueEntry(ctx, entry); err != nil {
				failed[entry.ID.String()] = err.Error()
				continue
			}
			replayed = append(replayed, entry.ID)
		}
	}

	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Str("kind", kind).Msg("queue_dlq_replay")
	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// Stats returns queue depth, processing and DLQ size for a given kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	kind := normalizeKind(r.URL.Query().Get("kind"))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	ready, inflight, err := h.Queue.Depth(ctx, kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	dlq, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(dlq))

	var lagMillis int64
	oldest, err := h.Queue.R.ZRangeWithScores(ctx, keys{h.Queue.Prefix}.queue(kind), 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		ts := time.Unix(0, int64(oldest[0].Score))
		if ts.Before(time.Now()) {
			lagMillis = time.Since(ts).Milliseconds()
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		h.Logger.Warn().Err(err).Str("kind", kind).Msg("queue_lag_probe_failed")
	}

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 60 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              ready,
		"processing":         inflight,
		"dlq":                dlq,
		"oldest_lag_ms":      lagMillis,
		"visibility_timeout": visibility.Seconds(),
	})
}

func (h *AdminHandler) requeueEntry(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	task := Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}
	if err := h.Queue.Enqueue(ctx, task); err != nil {
		return err
	}
	return h.Store.DeleteQueueDlq(ctx, entry.ID)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func normalizeKind(raw string) string {
	kind := strings.TrimSpace(raw)
	if sanitized := sanitizeKind(kind); sanitized != "" {
		return sanitized
	}
	return kind
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

type dlqItem struct {
	ID             uuid.UUID   `json:"id"`
	Kind           string      `json:"kind"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Attempts       int         `json:"attempts"`
	LastError      *string     `json:"lastError,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Message        taskMessage `json:"message"`
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}
