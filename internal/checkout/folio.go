package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/pos-terminal/internal/tenant"
)

// FolioAllocator hands out per-terminal, per-day sequential folios of the
// form <terminal>-<yyyymmdd>-<seq:06>.
type FolioAllocator struct {
	R        *redis.Client
	Location *time.Location
	Now      func() time.Time
}

// Next allocates the next folio for terminalID.
func (f FolioAllocator) Next(ctx context.Context, terminalID string) (string, error) {
	if f.R == nil {
		return "", errors.New("folio: redis client not configured")
	}
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return "", errors.New("folio: terminal id is required")
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	day := now().In(loc).Format("20060102")
	key := tenant.Key(ctx, "folio", terminalID, day)
	seq, err := f.R.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("folio: %w", err)
	}
	if seq == 1 {
		_ = f.R.Expire(ctx, key, 48*time.Hour).Err()
	}
	return fmt.Sprintf("%s-%s-%06d", terminalID, day, seq), nil
}
