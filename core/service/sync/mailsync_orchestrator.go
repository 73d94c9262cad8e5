// Package sync owns the mailbox sync lifecycle: one active sync per user,
// strategy-driven pagination, and the fetch-parse-persist pipeline behind it.
package sync

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/notify"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// Orchestrator - sync state machine
// =============================================================================

type Orchestrator struct {
	syncRepo    out.SyncStateRepository
	credentials out.CredentialSource
	provider    out.MailProvider
	pipeline    *Pipeline
	producer    out.MessageProducer
	notifier    *notify.Notifier
	log         *logger.Logger

	// now is swapped out by tests.
	now func() time.Time
}

func NewOrchestrator(
	syncRepo out.SyncStateRepository,
	credentials out.CredentialSource,
	provider out.MailProvider,
	pipeline *Pipeline,
	producer out.MessageProducer,
	notifier *notify.Notifier,
) *Orchestrator {
	return &Orchestrator{
		syncRepo:    syncRepo,
		credentials: credentials,
		provider:    provider,
		pipeline:    pipeline,
		producer:    producer,
		notifier:    notifier,
		log:         logger.WithField("component", "sync_orchestrator"),
		now:         time.Now,
	}
}

// InitiateSync takes the per-user sync slot and enqueues the first page job.
// Returns SyncInProgress when another sync already holds the slot, unless
// that sync has been silent past the stuck timeout, in which case it is
// force-reset and the new sync proceeds.
func (o *Orchestrator) InitiateSync(ctx context.Context, userID string, strategy domain.SyncStrategy) (*domain.SyncState, error) {
	if !strategy.IsValid() {
		return nil, apperr.BadRequest("unknown sync strategy: " + string(strategy))
	}

	// A sync with no refreshable credential would only fail asynchronously;
	// surface that to the caller before taking the slot.
	if _, err := o.credentials.EnsureFreshToken(ctx, userID); err != nil {
		return nil, err
	}

	state, err := o.syncRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if state.SyncInProgress {
		if !state.IsStuck(o.now()) {
			return nil, apperr.SyncInProgress(userID)
		}
		// A crashed sync left the flags set. Reset both; the continuation
		// token is kept as the interrupted-crawl marker.
		o.log.WithField("user_id", userID).
			Warn("resetting stuck sync, silent since %s", state.UpdatedAt.Format(time.RFC3339))
		if err := o.syncRepo.FinishSync(ctx, userID, "sync timed out"); err != nil {
			return nil, err
		}
		state.SyncInProgress = false
	}

	// A full sync pages to the end of the mailbox when it is the user's first
	// sync or when an earlier crawl never finished. A later manual full sync
	// covers a single page, same as the other strategies.
	isInitial := strategy == domain.StrategyFull &&
		(state.IsFirstSync() || state.IsInitialSyncing || state.HasContinuation())

	ok, err := o.syncRepo.TryBeginSync(ctx, userID, isInitial)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to a concurrent request.
		return nil, apperr.SyncInProgress(userID)
	}

	// Page tokens are bound to the query that produced them, so a full sync
	// never replays a stored token: pagination restarts from the beginning.
	if strategy == domain.StrategyFull {
		if err := o.syncRepo.ClearContinuation(ctx, userID); err != nil {
			o.rollbackSlot(ctx, userID, "failed to clear crawl checkpoint")
			return nil, err
		}
		state.ContinuationToken = ""
	}

	params := strategy.Params(false)
	job := &out.SyncPageJob{
		UserID:        userID,
		Strategy:      strategy,
		PageSize:      params.PageSize,
		Query:         params.Query,
		IsInitialSync: isInitial,
		Priority:      params.Priority,
	}
	if params.Delay > 0 {
		job.NotBefore = o.now().Add(params.Delay)
	}

	if err := o.producer.PublishSyncPage(ctx, job); err != nil {
		// Roll back the slot; a flag with no job behind it would block the
		// user until the stuck sweeper catches it.
		o.rollbackSlot(ctx, userID, "failed to enqueue sync job")
		return nil, err
	}

	if o.notifier != nil {
		o.notifier.SyncStatus(ctx, userID, &domain.SyncStatusEventData{
			Status:   "started",
			Strategy: string(strategy),
		})
	}

	state.SyncInProgress = true
	state.IsInitialSyncing = isInitial
	return state, nil
}

// rollbackSlot releases a just-taken slot, clearing both flags and recording
// why the sync never started.
func (o *Orchestrator) rollbackSlot(ctx context.Context, userID, reason string) {
	if err := o.syncRepo.FinishSync(ctx, userID, reason); err != nil {
		o.log.WithError(err).WithField("user_id", userID).
			Error("failed to roll back sync slot: %s", reason)
	}
}

// RunSyncJob executes one page job: fresh token, list, pipeline, progress,
// then either the next page job or completion. The caller owns retry; an
// error return leaves the in-progress flag set.
func (o *Orchestrator) RunSyncJob(ctx context.Context, job *out.SyncPageJob) error {
	log := o.log.WithField("user_id", job.UserID)

	token, err := o.credentials.EnsureFreshToken(ctx, job.UserID)
	if err != nil {
		return err
	}

	page, err := o.provider.ListMessageRefs(ctx, token, &out.ListQuery{
		Query:     job.Query,
		PageToken: job.PageToken,
		PageSize:  job.PageSize,
	})
	if err != nil {
		return err
	}

	result, err := o.pipeline.ProcessPage(ctx, job.UserID, token, page.Refs, job.Strategy)
	if err != nil {
		return err
	}

	// Only a full mailbox crawl records its page token; the checkpoint marks
	// an interrupted crawl, and tokens from windowed queries are useless to
	// any other sync.
	checkpoint := ""
	if job.IsInitialSync {
		checkpoint = page.NextPageToken
	}
	if err := o.syncRepo.SaveProgress(ctx, job.UserID, checkpoint, result.Persisted); err != nil {
		return err
	}

	log.Info("synced page: listed=%d new=%d persisted=%d failed=%d strategy=%s",
		result.Listed, result.New, result.Persisted, result.Failed, job.Strategy)

	hasMore := page.NextPageToken != ""
	if ShouldContinue(job.Strategy, hasMore, job.IsInitialSync) {
		next := &out.SyncPageJob{
			UserID:        job.UserID,
			Strategy:      job.Strategy,
			PageToken:     page.NextPageToken,
			PageSize:      job.Strategy.Params(true).PageSize,
			Query:         job.Query,
			IsInitialSync: job.IsInitialSync,
			Priority:      job.Priority,
		}
		if err := o.producer.PublishSyncPage(ctx, next); err != nil {
			return err
		}
		if o.notifier != nil {
			o.notifier.SyncStatus(ctx, job.UserID, &domain.SyncStatusEventData{
				Status:      "progress",
				Strategy:    string(job.Strategy),
				SyncedCount: result.Persisted,
			})
		}
		return nil
	}

	if !hasMore && job.IsInitialSync {
		// The crawl reached the end of the mailbox; drop the checkpoint.
		if err := o.syncRepo.ClearContinuation(ctx, job.UserID); err != nil {
			log.WithError(err).Warn("failed to clear continuation token")
		}
	}
	if err := o.syncRepo.FinishSync(ctx, job.UserID, ""); err != nil {
		return err
	}
	if o.notifier != nil {
		o.notifier.SyncStatus(ctx, job.UserID, &domain.SyncStatusEventData{
			Status:      "completed",
			Strategy:    string(job.Strategy),
			SyncedCount: result.Persisted,
		})
	}
	return nil
}

// FailSync releases the sync slot after the retry budget is exhausted.
func (o *Orchestrator) FailSync(ctx context.Context, userID, errMsg string) error {
	if err := o.syncRepo.FinishSync(ctx, userID, errMsg); err != nil {
		return err
	}
	if o.notifier != nil {
		o.notifier.SyncStatus(ctx, userID, &domain.SyncStatusEventData{
			Status:       "error",
			ErrorMessage: errMsg,
		})
	}
	return nil
}

// ShouldContinue decides whether pagination proceeds after a page. Full syncs
// only keep paging while crawling the whole mailbox; quick and incremental
// follow the page token until the filter window is exhausted.
func ShouldContinue(strategy domain.SyncStrategy, hasMore, isInitialSync bool) bool {
	if !hasMore {
		return false
	}
	if strategy == domain.StrategyFull {
		return isInitialSync
	}
	return true
}

// GetSyncStatus returns the user's current sync state.
func (o *Orchestrator) GetSyncStatus(ctx context.Context, userID string) (*domain.SyncState, error) {
	return o.syncRepo.GetOrCreate(ctx, userID)
}

// ResetSyncState force-returns the user's state to idle. Admin escape hatch.
func (o *Orchestrator) ResetSyncState(ctx context.Context, userID string) error {
	if err := o.syncRepo.Reset(ctx, userID); err != nil {
		return err
	}
	if o.notifier != nil {
		o.notifier.InvalidateSyncStatus(ctx, userID)
	}
	return nil
}

// CleanupStuckSyncs releases sync slots whose owners went silent past the
// stuck timeout. Returns how many were reset.
func (o *Orchestrator) CleanupStuckSyncs(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-domain.StuckSyncTimeout)
	stuck, err := o.syncRepo.GetStuck(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, state := range stuck {
		if err := o.syncRepo.FinishSync(ctx, state.UserID, "sync timed out"); err != nil {
			o.log.WithError(err).WithField("user_id", state.UserID).
				Error("failed to reset stuck sync")
			continue
		}
		o.log.WithField("user_id", state.UserID).
			Warn("reset stuck sync, silent since %s", state.UpdatedAt.Format(time.RFC3339))
		if o.notifier != nil {
			o.notifier.SyncStatus(ctx, state.UserID, &domain.SyncStatusEventData{
				Status:       "error",
				ErrorMessage: "sync timed out",
			})
		}
		reset++
	}
	return reset, nil
}
