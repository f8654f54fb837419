package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/queue"
)

func TestDLQReplay(t *testing.T) {
	client := newRedis(t)
	store := queue.NewStore(client, "adm")
	handler := queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		PageSize:          10,
		VisibilityTimeout: 60 * time.Second,
	}

	raw, err := json.Marshal(struct {
		Kind        string `json:"kind"`
		Key         string `json:"key"`
		Payload     []byte `json:"payload"`
		Attempt     int    `json:"attempt"`
		MaxAttempts int    `json:"max_attempts"`
		AvailableAt int64  `json:"available_at"`
	}{
		Kind:        "sale-event",
		Key:         "dlq1",
		Payload:     []byte("payload"),
		Attempt:     3,
		MaxAttempts: 3,
		AvailableAt: time.Now().UnixNano(),
	})
	require.NoError(t, err)

	id, err := store.InsertQueueDlq(context.Background(), queue.DLQEntry{
		Kind:           "sale-event",
		IdempotencyKey: "dlq1",
		Payload:        raw,
		Attempts:       3,
	})
	require.NoError(t, err)

	listRR := httptest.NewRecorder()
	handler.ListDLQ(listRR, httptest.NewRequest(http.MethodGet, "/admin/queue/dlq?kind=sale-event", nil))
	require.Equal(t, http.StatusOK, listRR.Code)
	var listed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Pagination struct {
			TotalItems int `json:"total_items"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(listRR.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)
	require.Equal(t, id.String(), listed.Data[0].ID)
	require.Equal(t, 1, listed.Pagination.TotalItems)

	body := bytes.NewBufferString(`{"ids":["` + id.String() + `"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ReplayDLQ(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp.Replayed, id.String())
	require.Empty(t, resp.Failed)

	depth, err := client.ZCard(context.Background(), "adm:queue:sale-event").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	_, err = store.GetQueueDlq(context.Background(), id)
	require.ErrorIs(t, err, queue.ErrDLQEntryNotFound)

	statsRR := httptest.NewRecorder()
	handler.Stats(statsRR, httptest.NewRequest(http.MethodGet, "/admin/queue/stats?kind=sale-event", nil))
	require.Equal(t, http.StatusOK, statsRR.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(statsRR.Body.Bytes(), &stats))
	require.EqualValues(t, 1, stats["ready"])
	require.EqualValues(t, 0, stats["dlq"])
}

func TestDLQReplayRequiresSelector(t *testing.T) {
	client := newRedis(t)
	handler := queue.AdminHandler{Store: queue.NewStore(client, "adm"), Queue: queue.Enqueuer{R: client, Prefix: "adm"}}
	rr := httptest.NewRecorder()
	handler.ReplayDLQ(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
