package out

import (
	"context"
	"time"

	"mailsync_server/core/domain"
)

// SyncStateRepository persists per-user sync state. The sync_in_progress
// flag is the per-user mutex; TryBeginSync is the only way to take it.
type SyncStateRepository interface {
	// GetOrCreate returns the user's state, creating an idle row on first use.
	GetOrCreate(ctx context.Context, userID string) (*domain.SyncState, error)

	Get(ctx context.Context, userID string) (*domain.SyncState, error)

	// TryBeginSync atomically sets sync_in_progress when it is not already
	// set. Returns false if another sync holds the flag. isInitial marks the
	// run as a full mailbox crawl that should page to the end.
	TryBeginSync(ctx context.Context, userID string, isInitial bool) (bool, error)

	// SaveProgress records a completed page: counts, last_sync_at, and — when
	// non-empty — the crawl checkpoint. An empty token leaves the stored
	// checkpoint alone; ClearContinuation is the only way to drop it.
	SaveProgress(ctx context.Context, userID, continuationToken string, syncedCount int) error

	// FinishSync clears the in-progress and initial flags, records the final
	// error message if any. The continuation token is left as-is: a surviving
	// token marks an unfinished mailbox crawl.
	FinishSync(ctx context.Context, userID, lastError string) error

	// ClearContinuation drops the continuation token after a mailbox has been
	// fully paged through.
	ClearContinuation(ctx context.Context, userID string) error

	// Reset returns the row to idle defaults.
	Reset(ctx context.Context, userID string) error

	// GetStuck lists states whose in-progress flag has not been touched since
	// before the cutoff.
	GetStuck(ctx context.Context, before time.Time) ([]*domain.SyncState, error)
}
