package out

import (
	"context"
	"time"

	"mailsync_server/core/domain"
)

// =============================================================================
// Queue jobs
// =============================================================================

// SyncPageJob asks the worker to sync one page of a user's mailbox.
type SyncPageJob struct {
	UserID        string              `json:"user_id"`
	Strategy      domain.SyncStrategy `json:"strategy"`
	PageToken     string              `json:"page_token,omitempty"`
	PageSize      int                 `json:"page_size"`
	Query         string              `json:"query,omitempty"`
	IsInitialSync bool                `json:"is_initial_sync"`
	Priority      domain.Priority     `json:"priority"`
	RetryCount    int                 `json:"retry_count,omitempty"`
	NotBefore     time.Time           `json:"not_before,omitempty"`
}

// CategorizeJob asks the worker to categorize one stored email.
type CategorizeJob struct {
	UserID     string      `json:"user_id"`
	EmailID    int64       `json:"email_id"`
	MessageID  string      `json:"message_id"`
	Lane       domain.Lane `json:"lane"`
	RetryCount int         `json:"retry_count"`
}

// MessageProducer publishes jobs to the queue.
type MessageProducer interface {
	PublishSyncPage(ctx context.Context, job *SyncPageJob) error
	PublishCategorize(ctx context.Context, job *CategorizeJob) error
}

// QueueStats summarizes one stream's backlog.
type QueueStats struct {
	Stream  string `json:"stream"`
	Length  int64  `json:"length"`
	Pending int64  `json:"pending"`
}

// QueueAdmin exposes maintenance operations on the queue backend.
type QueueAdmin interface {
	Stats(ctx context.Context) ([]QueueStats, error)
	// TrimCompleted drops old delivered entries, keeping at most maxLen per
	// stream.
	TrimCompleted(ctx context.Context, maxLen int64) (int64, error)
}
