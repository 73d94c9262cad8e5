package domain

import "time"

// =============================================================================
// Sync Strategy
// =============================================================================

type SyncStrategy string

const (
	StrategyQuick       SyncStrategy = "quick"       // recent mail, user-initiated
	StrategyFull        SyncStrategy = "full"        // entire mailbox, paged
	StrategyIncremental SyncStrategy = "incremental" // periodic catch-up
)

// IsValid reports whether the strategy is one of the known values.
func (s SyncStrategy) IsValid() bool {
	switch s {
	case StrategyQuick, StrategyFull, StrategyIncremental:
		return true
	}
	return false
}

// StrategyParams are the fetch parameters a strategy dictates.
type StrategyParams struct {
	Priority Priority
	Delay    time.Duration // enqueue delay before the first page job runs
	PageSize int
	Query    string // provider search filter, empty for everything
}

type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Params returns the fetch parameters for a strategy. Full syncs start with a
// smaller first page and grow once the sync is already running, so the first
// response comes back fast.
func (s SyncStrategy) Params(syncInProgress bool) StrategyParams {
	switch s {
	case StrategyQuick:
		return StrategyParams{Priority: PriorityHigh, PageSize: 20, Query: "newer_than:1d"}
	case StrategyIncremental:
		return StrategyParams{Priority: PriorityNormal, PageSize: 20, Query: "newer_than:7d"}
	case StrategyFull:
		pageSize := 50
		if syncInProgress {
			pageSize = 100
		}
		return StrategyParams{Priority: PriorityLow, Delay: 2 * time.Second, PageSize: pageSize}
	default:
		return StrategyParams{Priority: PriorityNormal, PageSize: 20}
	}
}

// =============================================================================
// SyncState - per-user mailbox sync state
// =============================================================================

// StuckSyncTimeout is how long a sync may hold the in-progress flag without a
// state update before it is considered crashed and force-reset.
const StuckSyncTimeout = 30 * time.Minute

type SyncState struct {
	UserID string `json:"user_id"`

	SyncInProgress   bool `json:"sync_in_progress"`
	IsInitialSyncing bool `json:"is_initial_syncing"`

	// ContinuationToken is the checkpoint of a whole-mailbox crawl. Page
	// tokens are bound to the query that produced them, so it is never
	// replayed; a surviving token marks the crawl as unfinished, which makes
	// the next full sync page the whole mailbox again.
	ContinuationToken string `json:"continuation_token,omitempty"`

	TotalSynced   int64     `json:"total_synced"`
	LastSyncCount int       `json:"last_sync_count"`
	LastSyncAt    time.Time `json:"last_sync_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFirstSync reports whether this user has never completed a sync.
func (s *SyncState) IsFirstSync() bool {
	return s.LastSyncAt.IsZero()
}

// IsStuck reports whether an in-progress sync has gone silent past the
// stuck-sync timeout.
func (s *SyncState) IsStuck(now time.Time) bool {
	return s.SyncInProgress && now.Sub(s.UpdatedAt) > StuckSyncTimeout
}

// HasContinuation reports whether a mailbox crawl was left unfinished.
func (s *SyncState) HasContinuation() bool {
	return s.ContinuationToken != ""
}

// =============================================================================
// Retry strategy
// =============================================================================

// RetryDelays - backoff schedule for failed sync pages.
var RetryDelays = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// GetRetryDelay returns the backoff delay for a retry attempt.
func GetRetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(RetryDelays) {
		return RetryDelays[len(RetryDelays)-1]
	}
	return RetryDelays[retryCount]
}
