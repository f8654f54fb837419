package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultJournalKey is the Redis list holding recent events.
const DefaultJournalKey = "events:journal"

// RedisJournal is an EventStore that keeps the latest MaxLen events in a
// Redis list, newest first.
type RedisJournal struct {
	R      *redis.Client
	Key    string
	MaxLen int64
}

func (j RedisJournal) key() string {
	if j.Key == "" {
		return DefaultJournalKey
	}
	return j.Key
}

// Append implements EventStore.
func (j RedisJournal) Append(ctx context.Context, ev Event) error {
	if j.R == nil {
		return errors.New("events: redis client not configured")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	max := j.MaxLen
	if max <= 0 {
		max = 10000
	}
	pipe := j.R.TxPipeline()
	pipe.LPush(ctx, j.key(), raw)
	pipe.LTrim(ctx, j.key(), 0, max-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n events, newest first.
func (j RedisJournal) Recent(ctx context.Context, n int64) ([]Event, error) {
	if j.R == nil {
		return nil, errors.New("events: redis client not configured")
	}
	if n <= 0 {
		n = 50
	}
	raws, err := j.R.LRange(ctx, j.key(), 0, n-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
