package tenant

import (
	"context"
	"strings"
)

// PrefixKey creates a namespaced cache/queue key per tenant id.
func PrefixKey(tenantID, key string) string {
	if tenantID == "" {
		return key
	}
	return tenantID + ":" + key
}

// Key joins parts with ':' under the tenant found in ctx.
func Key(ctx context.Context, parts ...string) string {
	base := strings.Join(parts, ":")
	id, ok := FromContext(ctx)
	if !ok {
		return base
	}
	return PrefixKey(id, base)
}

// From exposes the tenant identifier retrieval helper.
func From(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}
