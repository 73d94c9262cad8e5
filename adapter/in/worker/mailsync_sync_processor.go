package worker

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	syncsvc "mailsync_server/core/service/sync"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
)

// maxSyncPageRetries is how many times a failed page is re-published before
// the sync is marked failed and the slot released.
const maxSyncPageRetries = 3

// maxInlineDelay caps how long a worker sleeps waiting for a job's NotBefore
// so a mis-set timestamp cannot pin a worker.
const maxInlineDelay = 10 * time.Second

// SyncProcessor executes sync page jobs against the orchestrator and owns
// their retry schedule.
type SyncProcessor struct {
	orchestrator *syncsvc.Orchestrator
	producer     out.MessageProducer
}

func NewSyncProcessor(orchestrator *syncsvc.Orchestrator, producer out.MessageProducer) *SyncProcessor {
	return &SyncProcessor{orchestrator: orchestrator, producer: producer}
}

// ProcessSyncPage runs one page job. Transient failures are re-published on
// the backoff schedule; credential failures and exhausted retries release the
// user's sync slot with an error.
func (p *SyncProcessor) ProcessSyncPage(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.SyncPageJob](msg)
	if err != nil {
		logger.WithError(err).Error("malformed sync page payload, dropping job %s", msg.ID)
		return err
	}

	if !job.NotBefore.IsZero() {
		if wait := time.Until(job.NotBefore); wait > 0 {
			if wait > maxInlineDelay {
				wait = maxInlineDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	err = p.orchestrator.RunSyncJob(ctx, job)
	if err == nil {
		return nil
	}

	log := logger.WithError(err).WithField("user_id", job.UserID)

	// A missing or revoked credential will not heal on retry.
	if apperr.IsCode(err, apperr.CodeCredentialUnavailable) {
		log.Warn("sync failed, credential unavailable")
		return p.fail(ctx, job, err)
	}

	if job.RetryCount >= maxSyncPageRetries {
		log.Error("sync page failed after %d retries", job.RetryCount)
		return p.fail(ctx, job, err)
	}

	retry := *job
	retry.RetryCount++
	retry.NotBefore = time.Time{}
	delay := domain.GetRetryDelay(job.RetryCount)

	log.Warn("sync page failed, retry %d in %s", retry.RetryCount, delay)
	time.AfterFunc(delay, func() {
		if pubErr := p.producer.PublishSyncPage(context.Background(), &retry); pubErr != nil {
			logger.WithError(pubErr).WithField("user_id", job.UserID).
				Error("failed to re-publish sync page job")
		}
	})
	return nil
}

func (p *SyncProcessor) fail(ctx context.Context, job *out.SyncPageJob, cause error) error {
	if err := p.orchestrator.FailSync(ctx, job.UserID, cause.Error()); err != nil {
		logger.WithError(err).WithField("user_id", job.UserID).
			Error("failed to mark sync as failed")
		return err
	}
	return nil
}
