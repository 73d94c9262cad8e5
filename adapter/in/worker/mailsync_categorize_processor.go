package worker

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/categorize"
	"mailsync_server/pkg/logger"
)

// CategorizeProcessor feeds categorization jobs from the queue into the
// lane-based batch processor. Batching and retries live there; this side
// only validates and hands off.
type CategorizeProcessor struct {
	processor *categorize.Processor
}

func NewCategorizeProcessor(processor *categorize.Processor) *CategorizeProcessor {
	return &CategorizeProcessor{processor: processor}
}

func (p *CategorizeProcessor) ProcessCategorize(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.CategorizeJob](msg)
	if err != nil {
		logger.WithError(err).Error("malformed categorize payload, dropping job %s", msg.ID)
		return err
	}
	if job.EmailID == 0 || job.UserID == "" {
		logger.Warn("categorize job %s missing email or user, dropping", msg.ID)
		return nil
	}

	p.processor.Enqueue(&domain.CategorizeTask{
		UserID:     job.UserID,
		EmailID:    job.EmailID,
		MessageID:  job.MessageID,
		Lane:       job.Lane,
		RetryCount: job.RetryCount,
		EnqueuedAt: time.Now(),
	})
	return nil
}
