package domain

import "time"

// =============================================================================
// Categorization
// =============================================================================

// Lane is the strict-priority lane a categorization task waits in. Lower
// lanes are drained only when every higher lane is empty.
type Lane int

const (
	LaneHigh Lane = iota
	LaneNormal
	LaneLow
)

func (l Lane) String() string {
	switch l {
	case LaneHigh:
		return "high"
	case LaneNormal:
		return "normal"
	case LaneLow:
		return "low"
	default:
		return "unknown"
	}
}

// LaneForStrategy maps a sync strategy to the lane its emails are
// categorized in: user-initiated quick syncs jump the queue, full backfills
// yield to everything else.
func LaneForStrategy(s SyncStrategy) Lane {
	switch s {
	case StrategyQuick:
		return LaneHigh
	case StrategyFull:
		return LaneLow
	default:
		return LaneNormal
	}
}

// CategorizeTask is one email waiting for categorization.
type CategorizeTask struct {
	UserID     string    `json:"user_id"`
	EmailID    int64     `json:"email_id"`
	MessageID  string    `json:"message_id"`
	Lane       Lane      `json:"lane"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// MaxCategorizeRetries is the ceiling before a task falls back to the
// default category instead of being re-queued.
const MaxCategorizeRetries = 3

// CanRetry reports whether the task may be re-queued after a failure.
func (t *CategorizeTask) CanRetry() bool {
	return t.RetryCount < MaxCategorizeRetries
}

// CategoryResult is the categorizer's verdict for one email.
type CategoryResult struct {
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence"`
	IsNewCategory bool    `json:"is_new_category,omitempty"`
	Description   string  `json:"description,omitempty"`
}

// FallbackCategoryResult is persisted when categorization keeps failing past
// the retry ceiling, so the email is never left uncategorized forever.
func FallbackCategoryResult() *CategoryResult {
	return &CategoryResult{
		Category:    "General",
		Confidence:  0.5,
		Description: "Default category",
	}
}
