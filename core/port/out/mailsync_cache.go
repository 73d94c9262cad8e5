package out

import (
	"context"
	"time"
)

// CachePort is the read-through cache used for sync status, email lists and
// counters. DeleteByPrefix backs coarse per-user invalidation.
type CachePort interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}
