package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

func newTestOrchestrator(repo *fakeSyncRepo, provider *fakeProvider, emails *fakeEmailRepo, producer *fakeProducer) *Orchestrator {
	pipeline := NewPipeline(provider, emails, newFakeBodyRepo(), producer, nil)
	return NewOrchestrator(repo, &fakeCredentials{}, provider, pipeline, producer, nil)
}

func TestInitiateSyncTakesSlot(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{}
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), producer)

	state, err := o.InitiateSync(context.Background(), "u1", domain.StrategyQuick)
	if err != nil {
		t.Fatalf("InitiateSync() error = %v", err)
	}
	if !state.SyncInProgress {
		t.Error("returned state should show sync in progress")
	}

	if len(producer.syncJobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(producer.syncJobs))
	}
	job := producer.syncJobs[0]
	if job.Strategy != domain.StrategyQuick {
		t.Errorf("job strategy = %q, want quick", job.Strategy)
	}
	if job.Query != "newer_than:1d" {
		t.Errorf("job query = %q, want newer_than:1d", job.Query)
	}
	if job.Priority != domain.PriorityHigh {
		t.Errorf("job priority = %v, want high", job.Priority)
	}
}

func TestInitiateSyncRejectsConcurrent(t *testing.T) {
	repo := newFakeSyncRepo()
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), &fakeProducer{})

	if _, err := o.InitiateSync(context.Background(), "u1", domain.StrategyQuick); err != nil {
		t.Fatalf("first InitiateSync() error = %v", err)
	}

	_, err := o.InitiateSync(context.Background(), "u1", domain.StrategyQuick)
	if !apperr.IsCode(err, apperr.CodeSyncInProgress) {
		t.Fatalf("second InitiateSync() error = %v, want SYNC_IN_PROGRESS", err)
	}
}

func TestInitiateSyncRejectsUnknownStrategy(t *testing.T) {
	o := newTestOrchestrator(newFakeSyncRepo(), &fakeProvider{}, newFakeEmailRepo(), &fakeProducer{})

	_, err := o.InitiateSync(context.Background(), "u1", domain.SyncStrategy("bogus"))
	if !apperr.IsCode(err, apperr.CodeBadRequest) {
		t.Fatalf("InitiateSync() error = %v, want BAD_REQUEST", err)
	}
}

func TestInitiateSyncResetsStuckSync(t *testing.T) {
	repo := newFakeSyncRepo()
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), &fakeProducer{})

	// Simulate a crashed sync: flag set, state silent for an hour.
	repo.states["u1"] = &domain.SyncState{
		UserID:            "u1",
		SyncInProgress:    true,
		ContinuationToken: "crawl-marker",
		LastSyncAt:        time.Now().Add(-2 * time.Hour),
		UpdatedAt:         time.Now().Add(-time.Hour),
	}

	state, err := o.InitiateSync(context.Background(), "u1", domain.StrategyQuick)
	if err != nil {
		t.Fatalf("InitiateSync() over stuck state error = %v", err)
	}
	if !state.SyncInProgress {
		t.Error("new sync should hold the slot")
	}

	// The crawl marker survives the stuck reset.
	stored, _ := repo.Get(context.Background(), "u1")
	if stored.ContinuationToken != "crawl-marker" {
		t.Errorf("continuation token = %q, want crawl-marker", stored.ContinuationToken)
	}
}

func TestInitiateSyncRollsBackOnPublishFailure(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{syncErr: errors.New("redis down")}
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), producer)

	if _, err := o.InitiateSync(context.Background(), "u1", domain.StrategyQuick); err == nil {
		t.Fatal("InitiateSync() should fail when enqueue fails")
	}

	stored, _ := repo.Get(context.Background(), "u1")
	if stored.SyncInProgress {
		t.Error("sync slot should be released after enqueue failure")
	}
}

func TestInitiateSyncFullRestartsPagination(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{}
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), producer)

	// Leftover checkpoint from a crawl that never finished.
	repo.states["u1"] = &domain.SyncState{
		UserID:            "u1",
		ContinuationToken: "page-7",
		LastSyncAt:        time.Now().Add(-time.Hour),
		UpdatedAt:         time.Now(),
	}

	if _, err := o.InitiateSync(context.Background(), "u1", domain.StrategyFull); err != nil {
		t.Fatalf("InitiateSync() error = %v", err)
	}

	// Page tokens are query-bound; the stored one is never replayed. The
	// unfinished crawl still forces a whole-mailbox pass.
	job := producer.syncJobs[0]
	if job.PageToken != "" {
		t.Errorf("job page token = %q, want empty (pagination restarts)", job.PageToken)
	}
	if !job.IsInitialSync {
		t.Error("unfinished crawl should trigger a whole-mailbox pass")
	}
	if job.NotBefore.IsZero() {
		t.Error("full sync job should carry the strategy delay")
	}

	stored, _ := repo.Get(context.Background(), "u1")
	if stored.ContinuationToken != "" {
		t.Errorf("stored continuation = %q, want cleared on full initiation", stored.ContinuationToken)
	}
}

func TestInitiateSyncRequiresCredential(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{}
	provider := &fakeProvider{}
	emails := newFakeEmailRepo()
	pipeline := NewPipeline(provider, emails, newFakeBodyRepo(), producer, nil)
	creds := &fakeCredentials{err: apperr.CredentialUnavailable("u1", nil)}
	o := NewOrchestrator(repo, creds, provider, pipeline, producer, nil)

	_, err := o.InitiateSync(context.Background(), "u1", domain.StrategyQuick)
	if !apperr.IsCode(err, apperr.CodeCredentialUnavailable) {
		t.Fatalf("InitiateSync() error = %v, want CREDENTIAL_UNAVAILABLE", err)
	}

	if len(producer.syncJobs) != 0 {
		t.Errorf("published %d jobs without a credential, want 0", len(producer.syncJobs))
	}
	stored, _ := repo.Get(context.Background(), "u1")
	if stored != nil && stored.SyncInProgress {
		t.Error("sync slot must not be taken without a credential")
	}
}

func TestInitiateSyncLaterFullIsSinglePage(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{}
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), producer)

	// Completed mailbox crawl: synced before, no token left.
	repo.states["u1"] = &domain.SyncState{
		UserID:     "u1",
		LastSyncAt: time.Now().Add(-time.Hour),
		UpdatedAt:  time.Now(),
	}

	if _, err := o.InitiateSync(context.Background(), "u1", domain.StrategyFull); err != nil {
		t.Fatalf("InitiateSync() error = %v", err)
	}
	if producer.syncJobs[0].IsInitialSync {
		t.Error("a later manual full sync should not crawl the whole mailbox")
	}
}

func TestShouldContinue(t *testing.T) {
	tests := []struct {
		name          string
		strategy      domain.SyncStrategy
		hasMore       bool
		isInitialSync bool
		want          bool
	}{
		{"no more pages never continues", domain.StrategyQuick, false, false, false},
		{"quick follows the token", domain.StrategyQuick, true, false, true},
		{"incremental follows the token", domain.StrategyIncremental, true, false, true},
		{"initial full crawl continues", domain.StrategyFull, true, true, true},
		{"later full sync stops after one page", domain.StrategyFull, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldContinue(tt.strategy, tt.hasMore, tt.isInitialSync); got != tt.want {
				t.Errorf("ShouldContinue(%q, %v, %v) = %v, want %v",
					tt.strategy, tt.hasMore, tt.isInitialSync, got, tt.want)
			}
		})
	}
}

func TestRunSyncJobPublishesNextPage(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{}
	provider := &fakeProvider{
		pages: map[string]*out.MessageRefPage{
			"": {
				Refs:          []out.MessageRef{{ID: "m1"}},
				NextPageToken: "page-2",
			},
		},
		messages: map[string]*out.RawMessage{
			"m1": rawTextMessage("m1", time.Now().UnixMilli()),
		},
	}
	o := newTestOrchestrator(repo, provider, newFakeEmailRepo(), producer)

	repo.states["u1"] = &domain.SyncState{UserID: "u1", SyncInProgress: true, IsInitialSyncing: true, UpdatedAt: time.Now()}

	job := &out.SyncPageJob{
		UserID:        "u1",
		Strategy:      domain.StrategyFull,
		PageSize:      50,
		IsInitialSync: true,
		Priority:      domain.PriorityLow,
	}
	if err := o.RunSyncJob(context.Background(), job); err != nil {
		t.Fatalf("RunSyncJob() error = %v", err)
	}

	if len(producer.syncJobs) != 1 {
		t.Fatalf("published %d follow-up jobs, want 1", len(producer.syncJobs))
	}
	next := producer.syncJobs[0]
	if next.PageToken != "page-2" {
		t.Errorf("next page token = %q, want page-2", next.PageToken)
	}
	if next.PageSize != 100 {
		t.Errorf("next page size = %d, want 100 (running full sync)", next.PageSize)
	}

	// Progress is durable: the token is in the state, the flag still held.
	stored, _ := repo.Get(context.Background(), "u1")
	if stored.ContinuationToken != "page-2" {
		t.Errorf("stored continuation = %q, want page-2", stored.ContinuationToken)
	}
	if !stored.SyncInProgress {
		t.Error("sync slot should still be held mid-crawl")
	}
}

func TestRunSyncJobCompletesOnLastPage(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{}
	provider := &fakeProvider{
		pages: map[string]*out.MessageRefPage{
			"": {Refs: []out.MessageRef{{ID: "m1"}}},
		},
		messages: map[string]*out.RawMessage{
			"m1": rawTextMessage("m1", time.Now().UnixMilli()),
		},
	}
	o := newTestOrchestrator(repo, provider, newFakeEmailRepo(), producer)

	repo.states["u1"] = &domain.SyncState{
		UserID:            "u1",
		SyncInProgress:    true,
		ContinuationToken: "crawl-marker",
		UpdatedAt:         time.Now(),
	}

	job := &out.SyncPageJob{UserID: "u1", Strategy: domain.StrategyQuick, PageSize: 20}
	if err := o.RunSyncJob(context.Background(), job); err != nil {
		t.Fatalf("RunSyncJob() error = %v", err)
	}

	if len(producer.syncJobs) != 0 {
		t.Errorf("published %d follow-up jobs, want 0", len(producer.syncJobs))
	}

	stored, _ := repo.Get(context.Background(), "u1")
	if stored.SyncInProgress {
		t.Error("sync slot should be released after the last page")
	}
	// A quick sync neither records nor erases the crawl checkpoint.
	if stored.ContinuationToken != "crawl-marker" {
		t.Errorf("continuation = %q, want the crawl marker untouched", stored.ContinuationToken)
	}
}

func TestRunSyncJobFullCrawlClearsCheckpoint(t *testing.T) {
	repo := newFakeSyncRepo()
	producer := &fakeProducer{}
	provider := &fakeProvider{
		pages: map[string]*out.MessageRefPage{
			"page-9": {Refs: []out.MessageRef{{ID: "m1"}}},
		},
		messages: map[string]*out.RawMessage{
			"m1": rawTextMessage("m1", time.Now().UnixMilli()),
		},
	}
	o := newTestOrchestrator(repo, provider, newFakeEmailRepo(), producer)

	repo.states["u1"] = &domain.SyncState{
		UserID:            "u1",
		SyncInProgress:    true,
		IsInitialSyncing:  true,
		ContinuationToken: "page-9",
		UpdatedAt:         time.Now(),
	}

	job := &out.SyncPageJob{
		UserID:        "u1",
		Strategy:      domain.StrategyFull,
		PageToken:     "page-9",
		PageSize:      100,
		IsInitialSync: true,
	}
	if err := o.RunSyncJob(context.Background(), job); err != nil {
		t.Fatalf("RunSyncJob() error = %v", err)
	}

	stored, _ := repo.Get(context.Background(), "u1")
	if stored.SyncInProgress {
		t.Error("sync slot should be released after the crawl finishes")
	}
	if stored.ContinuationToken != "" {
		t.Errorf("continuation = %q, want cleared after a finished crawl", stored.ContinuationToken)
	}
}

func TestFailSyncReleasesSlot(t *testing.T) {
	repo := newFakeSyncRepo()
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), &fakeProducer{})

	repo.states["u1"] = &domain.SyncState{UserID: "u1", SyncInProgress: true, UpdatedAt: time.Now()}

	if err := o.FailSync(context.Background(), "u1", "token revoked"); err != nil {
		t.Fatalf("FailSync() error = %v", err)
	}

	stored, _ := repo.Get(context.Background(), "u1")
	if stored.SyncInProgress {
		t.Error("sync slot should be released")
	}
	if stored.LastError != "token revoked" {
		t.Errorf("last error = %q, want token revoked", stored.LastError)
	}
}

func TestCleanupStuckSyncs(t *testing.T) {
	repo := newFakeSyncRepo()
	o := newTestOrchestrator(repo, &fakeProvider{}, newFakeEmailRepo(), &fakeProducer{})

	repo.states["stuck"] = &domain.SyncState{
		UserID:           "stuck",
		SyncInProgress:   true,
		IsInitialSyncing: true,
		UpdatedAt:        time.Now().Add(-time.Hour),
	}
	repo.states["healthy"] = &domain.SyncState{
		UserID:         "healthy",
		SyncInProgress: true,
		UpdatedAt:      time.Now(),
	}

	reset, err := o.CleanupStuckSyncs(context.Background())
	if err != nil {
		t.Fatalf("CleanupStuckSyncs() error = %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset %d states, want 1", reset)
	}

	stuck, _ := repo.Get(context.Background(), "stuck")
	if stuck.SyncInProgress {
		t.Error("stuck sync should be released")
	}
	if stuck.IsInitialSyncing {
		t.Error("initial flag should be reset alongside the slot")
	}
	if stuck.LastError != "sync timed out" {
		t.Errorf("last error = %q, want sync timed out", stuck.LastError)
	}
	healthy, _ := repo.Get(context.Background(), "healthy")
	if !healthy.SyncInProgress {
		t.Error("healthy sync should keep its slot")
	}
}
