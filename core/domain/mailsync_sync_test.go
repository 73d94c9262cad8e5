package domain

import (
	"testing"
	"time"
)

func TestSyncStrategyIsValid(t *testing.T) {
	tests := []struct {
		strategy SyncStrategy
		want     bool
	}{
		{StrategyQuick, true},
		{StrategyFull, true},
		{StrategyIncremental, true},
		{SyncStrategy("bogus"), false},
		{SyncStrategy(""), false},
	}

	for _, tt := range tests {
		if got := tt.strategy.IsValid(); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.strategy, got, tt.want)
		}
	}
}

func TestStrategyParams(t *testing.T) {
	tests := []struct {
		name           string
		strategy       SyncStrategy
		syncInProgress bool
		wantPriority   Priority
		wantPageSize   int
		wantQuery      string
		wantDelay      time.Duration
	}{
		{
			name:         "quick is high priority with a one day window",
			strategy:     StrategyQuick,
			wantPriority: PriorityHigh,
			wantPageSize: 20,
			wantQuery:    "newer_than:1d",
		},
		{
			name:         "incremental is normal priority with a week window",
			strategy:     StrategyIncremental,
			wantPriority: PriorityNormal,
			wantPageSize: 20,
			wantQuery:    "newer_than:7d",
		},
		{
			name:         "full starts with a small first page and a delay",
			strategy:     StrategyFull,
			wantPriority: PriorityLow,
			wantPageSize: 50,
			wantDelay:    2 * time.Second,
		},
		{
			name:           "full grows the page size once running",
			strategy:       StrategyFull,
			syncInProgress: true,
			wantPriority:   PriorityLow,
			wantPageSize:   100,
			wantDelay:      2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.strategy.Params(tt.syncInProgress)
			if params.Priority != tt.wantPriority {
				t.Errorf("Priority = %v, want %v", params.Priority, tt.wantPriority)
			}
			if params.PageSize != tt.wantPageSize {
				t.Errorf("PageSize = %d, want %d", params.PageSize, tt.wantPageSize)
			}
			if params.Query != tt.wantQuery {
				t.Errorf("Query = %q, want %q", params.Query, tt.wantQuery)
			}
			if params.Delay != tt.wantDelay {
				t.Errorf("Delay = %v, want %v", params.Delay, tt.wantDelay)
			}
		})
	}
}

func TestSyncStateIsStuck(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		state SyncState
		want  bool
	}{
		{
			name:  "idle state is never stuck",
			state: SyncState{SyncInProgress: false, UpdatedAt: now.Add(-2 * time.Hour)},
			want:  false,
		},
		{
			name:  "recently updated in-progress sync is not stuck",
			state: SyncState{SyncInProgress: true, UpdatedAt: now.Add(-5 * time.Minute)},
			want:  false,
		},
		{
			name:  "in-progress sync silent past the timeout is stuck",
			state: SyncState{SyncInProgress: true, UpdatedAt: now.Add(-StuckSyncTimeout - time.Minute)},
			want:  true,
		},
		{
			name:  "exactly at the timeout boundary is not stuck",
			state: SyncState{SyncInProgress: true, UpdatedAt: now.Add(-StuckSyncTimeout)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStuck(now); got != tt.want {
				t.Errorf("IsStuck() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSyncStateFirstSyncAndContinuation(t *testing.T) {
	fresh := SyncState{}
	if !fresh.IsFirstSync() {
		t.Error("state without last_sync_at should be a first sync")
	}
	if fresh.HasContinuation() {
		t.Error("state without token should have no continuation")
	}

	unfinished := SyncState{LastSyncAt: time.Now(), ContinuationToken: "page-42"}
	if unfinished.IsFirstSync() {
		t.Error("state with last_sync_at should not be a first sync")
	}
	if !unfinished.HasContinuation() {
		t.Error("state with token should have a continuation")
	}
}

func TestGetRetryDelay(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 30 * time.Second},
		{0, 30 * time.Second},
		{1, 1 * time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{4, 30 * time.Minute},
		{99, 30 * time.Minute},
	}

	for _, tt := range tests {
		if got := GetRetryDelay(tt.retryCount); got != tt.want {
			t.Errorf("GetRetryDelay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}
