// Package categorize assigns categories to stored emails by batching calls
// to the external categorization service across three strict-priority lanes.
package categorize

import (
	"context"
	stdsync "sync"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/notify"
	"mailsync_server/pkg/logger"
)

const (
	// batchSize is the most emails sent to the categorizer in one call.
	batchSize = 10
	// defaultDrainInterval is how often the lanes are drained.
	defaultDrainInterval = 2 * time.Second
)

// Processor drains categorization tasks from three lanes in strict priority
// order: a lower lane is touched only when every lane above it is empty.
// Tasks that keep failing past the retry ceiling get the fallback category
// so no email stays uncategorized forever.
type Processor struct {
	emails      out.EmailRepository
	categorizer out.CategorizerPort
	notifier    *notify.Notifier
	log         *logger.Logger

	mu    stdsync.Mutex
	lanes [3][]*domain.CategorizeTask

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewProcessor(
	emails out.EmailRepository,
	categorizer out.CategorizerPort,
	notifier *notify.Notifier,
) *Processor {
	return &Processor{
		emails:      emails,
		categorizer: categorizer,
		notifier:    notifier,
		log:         logger.WithField("component", "categorize_processor"),
		interval:    defaultDrainInterval,
	}
}

// SetDrainInterval overrides the drain cadence. Test hook.
func (p *Processor) SetDrainInterval(d time.Duration) {
	p.interval = d
}

// Enqueue adds a task to its lane.
func (p *Processor) Enqueue(task *domain.CategorizeTask) {
	if task == nil {
		return
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	lane := task.Lane
	if lane < domain.LaneHigh || lane > domain.LaneLow {
		lane = domain.LaneNormal
	}

	p.mu.Lock()
	p.lanes[lane] = append(p.lanes[lane], task)
	p.mu.Unlock()
}

// Depths reports how many tasks wait in each lane.
func (p *Processor) Depths() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		domain.LaneHigh.String():   len(p.lanes[domain.LaneHigh]),
		domain.LaneNormal.String(): len(p.lanes[domain.LaneNormal]),
		domain.LaneLow.String():    len(p.lanes[domain.LaneLow]),
	}
}

// Start launches the drain loop.
func (p *Processor) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.log.Info("categorize processor started, drain interval %s", p.interval)
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.Drain(p.ctx)
			}
		}
	}()
}

// Stop halts the drain loop and waits for the current batch to finish.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.log.Info("categorize processor stopped")
}

// Drain processes batches until every lane is empty or the context ends.
func (p *Processor) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		batch := p.nextBatch()
		if len(batch) == 0 {
			return
		}
		p.processBatch(ctx, batch)
	}
}

// nextBatch takes up to batchSize tasks from the highest non-empty lane.
// Lanes never mix within a batch, which is what keeps priority strict.
func (p *Processor) nextBatch() []*domain.CategorizeTask {
	p.mu.Lock()
	defer p.mu.Unlock()

	for lane := domain.LaneHigh; lane <= domain.LaneLow; lane++ {
		queue := p.lanes[lane]
		if len(queue) == 0 {
			continue
		}
		n := batchSize
		if n > len(queue) {
			n = len(queue)
		}
		batch := queue[:n]
		p.lanes[lane] = queue[n:]
		return batch
	}
	return nil
}

// processBatch groups the batch by user, categorizes each group in one call,
// and persists the results. Affected users get a refresh event afterwards.
func (p *Processor) processBatch(ctx context.Context, batch []*domain.CategorizeTask) {
	byUser := make(map[string][]*domain.CategorizeTask)
	for _, task := range batch {
		byUser[task.UserID] = append(byUser[task.UserID], task)
	}

	for userID, tasks := range byUser {
		if p.processUserGroup(ctx, userID, tasks) && p.notifier != nil {
			p.notifier.InvalidateEmailData(ctx, userID)
			p.notifier.RefreshEmails(ctx, userID)
		}
	}
}

// processUserGroup categorizes one user's tasks. Returns true when at least
// one category was persisted.
func (p *Processor) processUserGroup(ctx context.Context, userID string, tasks []*domain.CategorizeTask) bool {
	// Resolve tasks to stored emails; drop tasks whose email vanished or was
	// already categorized by a previous attempt.
	live := make([]*domain.CategorizeTask, 0, len(tasks))
	inputs := make([]*out.CategorizeInput, 0, len(tasks))
	for _, task := range tasks {
		email, err := p.emails.GetByID(ctx, task.EmailID)
		if err != nil || email == nil {
			p.log.WithField("user_id", userID).
				Debug("dropping categorize task for missing email %d", task.EmailID)
			continue
		}
		if email.IsCategorized() {
			continue
		}
		live = append(live, task)
		inputs = append(inputs, &out.CategorizeInput{
			EmailID:   email.ID,
			MessageID: email.MessageID,
			Subject:   email.Subject,
			FromEmail: email.FromEmail,
			Snippet:   email.Snippet,
		})
	}
	if len(live) == 0 {
		return false
	}

	// No categorizer configured: persist the fallback right away so tasks do
	// not pile up in the lanes waiting for a service that will never answer.
	if p.categorizer == nil {
		persisted := false
		for _, task := range live {
			if p.persistResult(ctx, task, domain.FallbackCategoryResult()) {
				persisted = true
			}
		}
		return persisted
	}

	results, err := p.categorizer.CategorizeBatch(ctx, userID, inputs)
	if err != nil || len(results) != len(inputs) {
		if err != nil {
			p.log.WithError(err).WithField("user_id", userID).
				Warn("batch categorization failed, falling back to per-item calls")
		}
		return p.categorizeOneByOne(ctx, userID, live, inputs)
	}

	persisted := false
	for i, task := range live {
		if p.persistResult(ctx, task, results[i]) {
			persisted = true
		}
	}
	return persisted
}

// categorizeOneByOne is the fallback path when a batch call fails wholesale.
// Items that fail individually are retried or, past the ceiling, given the
// fallback category.
func (p *Processor) categorizeOneByOne(ctx context.Context, userID string, tasks []*domain.CategorizeTask, inputs []*out.CategorizeInput) bool {
	persisted := false
	for i, task := range tasks {
		result, err := p.categorizer.Categorize(ctx, userID, inputs[i])
		if err != nil {
			p.handleFailure(ctx, task, err)
			if !task.CanRetry() {
				persisted = true // fallback category was written
			}
			continue
		}
		if p.persistResult(ctx, task, result) {
			persisted = true
		}
	}
	return persisted
}

// handleFailure re-queues a failed task or, once retries are spent, persists
// the fallback category.
func (p *Processor) handleFailure(ctx context.Context, task *domain.CategorizeTask, cause error) {
	if task.CanRetry() {
		task.RetryCount++
		p.log.WithError(cause).WithField("user_id", task.UserID).
			Debug("re-queueing categorize task for email %d, attempt %d", task.EmailID, task.RetryCount)
		p.Enqueue(task)
		return
	}

	p.log.WithError(cause).WithField("user_id", task.UserID).
		Warn("categorization retries exhausted for email %d, applying fallback", task.EmailID)
	p.persistResult(ctx, task, domain.FallbackCategoryResult())
}

func (p *Processor) persistResult(ctx context.Context, task *domain.CategorizeTask, result *domain.CategoryResult) bool {
	if result == nil {
		return false
	}
	if err := p.emails.UpdateCategory(ctx, task.EmailID, result); err != nil {
		p.log.WithError(err).WithField("user_id", task.UserID).
			Error("failed to persist category for email %d", task.EmailID)
		return false
	}
	return true
}
