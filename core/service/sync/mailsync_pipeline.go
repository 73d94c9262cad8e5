package sync

import (
	"context"
	"sort"
	stdsync "sync"
	"time"

	"golang.org/x/oauth2"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/notify"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// Page pipeline - fetch, parse, dedup, persist, fan out
// =============================================================================

const (
	// fetchChunkSize is how many messages are fetched per burst.
	fetchChunkSize = 25
	// fetchConcurrency bounds parallel provider calls inside a chunk.
	fetchConcurrency = 10
	// interChunkDelay spaces bursts out to stay under provider rate limits.
	interChunkDelay = 100 * time.Millisecond
)

// PipelineResult summarizes one processed page.
type PipelineResult struct {
	Listed    int // refs on the page
	New       int // refs that passed the dedup gate
	Persisted int // emails actually stored
	Failed    int // fetch or parse failures, skipped
}

// Pipeline turns a page of message references into stored, categorizable
// emails. Every stage tolerates per-message failure; one bad message never
// sinks a page.
type Pipeline struct {
	provider out.MailProvider
	emails   out.EmailRepository
	bodies   out.EmailBodyRepository
	producer out.MessageProducer
	notifier *notify.Notifier
	log      *logger.Logger
}

func NewPipeline(
	provider out.MailProvider,
	emails out.EmailRepository,
	bodies out.EmailBodyRepository,
	producer out.MessageProducer,
	notifier *notify.Notifier,
) *Pipeline {
	return &Pipeline{
		provider: provider,
		emails:   emails,
		bodies:   bodies,
		producer: producer,
		notifier: notifier,
		log:      logger.WithField("component", "sync_pipeline"),
	}
}

// ProcessPage runs the full pipeline for one listing page. Only genuinely new
// messages are fetched; messages already stored for the user are skipped
// before any provider round trip.
func (p *Pipeline) ProcessPage(
	ctx context.Context,
	userID string,
	token *oauth2.Token,
	refs []out.MessageRef,
	strategy domain.SyncStrategy,
) (*PipelineResult, error) {
	result := &PipelineResult{Listed: len(refs)}
	if len(refs) == 0 {
		return result, nil
	}

	newRefs, err := p.filterNew(ctx, userID, refs)
	if err != nil {
		return result, err
	}
	result.New = len(newRefs)
	if len(newRefs) == 0 {
		p.log.WithField("user_id", userID).Debug("page contained no new messages")
		return result, nil
	}

	emails, bodies, failed := p.fetchAndParse(ctx, userID, token, newRefs)
	result.Failed = failed

	if len(emails) == 0 {
		return result, nil
	}

	// Newest first, so clients see the most recent mail as soon as the page
	// lands.
	sort.Slice(emails, func(i, j int) bool {
		return emails[i].ReceivedAt.After(emails[j].ReceivedAt)
	})

	persisted := p.persist(ctx, userID, emails)
	result.Persisted = len(persisted)
	result.Failed += len(emails) - len(persisted)

	p.saveBodies(ctx, bodies, persisted)
	p.fanOut(ctx, userID, persisted, strategy)

	return result, nil
}

// filterNew drops refs whose message ID is already stored for the user.
func (p *Pipeline) filterNew(ctx context.Context, userID string, refs []out.MessageRef) ([]out.MessageRef, error) {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	existing, err := p.emails.ExistingMessageIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	newRefs := refs[:0:0]
	for _, ref := range refs {
		if _, ok := existing[ref.ID]; !ok {
			newRefs = append(newRefs, ref)
		}
	}
	return newRefs, nil
}

// fetchAndParse pulls full messages in bounded-concurrency chunks and parses
// them. Failures are logged and counted, not propagated.
func (p *Pipeline) fetchAndParse(
	ctx context.Context,
	userID string,
	token *oauth2.Token,
	refs []out.MessageRef,
) (emails []*domain.Email, bodies map[string]*domain.EmailBody, failed int) {
	bodies = make(map[string]*domain.EmailBody, len(refs))

	var mu stdsync.Mutex
	var failedCount int

	for start := 0; start < len(refs); start += fetchChunkSize {
		if ctx.Err() != nil {
			break
		}
		if start > 0 {
			time.Sleep(interChunkDelay)
		}

		end := start + fetchChunkSize
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]

		var wg stdsync.WaitGroup
		sem := make(chan struct{}, fetchConcurrency)

		for _, ref := range chunk {
			wg.Add(1)
			sem <- struct{}{}
			go func(ref out.MessageRef) {
				defer wg.Done()
				defer func() { <-sem }()

				raw, err := p.provider.GetFullMessage(ctx, token, ref.ID)
				if err != nil {
					p.log.WithError(err).WithField("user_id", userID).
						Warn("failed to fetch message %s", ref.ID)
					mu.Lock()
					failedCount++
					mu.Unlock()
					return
				}

				email, body, err := ParseMessage(userID, raw)
				if err != nil {
					p.log.WithError(err).WithField("user_id", userID).
						Warn("failed to parse message %s", ref.ID)
					mu.Lock()
					failedCount++
					mu.Unlock()
					return
				}

				mu.Lock()
				emails = append(emails, email)
				bodies[email.MessageID] = body
				mu.Unlock()
			}(ref)
		}
		wg.Wait()
	}

	return emails, bodies, failedCount
}

// persist stores the batch in one statement, falling back to per-item writes
// when the bulk write fails so one poison row cannot reject the whole page.
func (p *Pipeline) persist(ctx context.Context, userID string, emails []*domain.Email) []*domain.Email {
	err := p.emails.BulkUpsert(ctx, userID, emails)
	if err == nil {
		return emails
	}
	p.log.WithError(err).WithField("user_id", userID).
		Warn("bulk upsert failed, falling back to per-item writes")

	persisted := make([]*domain.Email, 0, len(emails))
	for _, email := range emails {
		if err := p.emails.Upsert(ctx, userID, email); err != nil {
			p.log.WithError(err).WithField("user_id", userID).
				Error("failed to persist message %s", email.MessageID)
			continue
		}
		persisted = append(persisted, email)
	}
	return persisted
}

// saveBodies writes full bodies for persisted emails. Body storage is best
// effort; metadata already made it.
func (p *Pipeline) saveBodies(ctx context.Context, bodies map[string]*domain.EmailBody, persisted []*domain.Email) {
	if p.bodies == nil {
		return
	}
	for _, email := range persisted {
		body, ok := bodies[email.MessageID]
		if !ok {
			continue
		}
		if err := p.bodies.Save(ctx, body); err != nil {
			p.log.WithError(err).WithField("user_id", email.UserID).
				Warn("failed to save body for message %s", email.MessageID)
		}
	}
}

// fanOut enqueues categorization, pushes new-mail events and invalidates
// caches for the persisted batch.
func (p *Pipeline) fanOut(ctx context.Context, userID string, persisted []*domain.Email, strategy domain.SyncStrategy) {
	lane := domain.LaneForStrategy(strategy)

	for _, email := range persisted {
		if p.producer != nil {
			job := &out.CategorizeJob{
				UserID:    userID,
				EmailID:   email.ID,
				MessageID: email.MessageID,
				Lane:      lane,
			}
			if err := p.producer.PublishCategorize(ctx, job); err != nil {
				p.log.WithError(err).WithField("user_id", userID).
					Warn("failed to enqueue categorization for message %s", email.MessageID)
			}
		}
		if p.notifier != nil {
			p.notifier.NewEmail(ctx, userID, email)
		}
	}

	if p.notifier != nil && len(persisted) > 0 {
		p.notifier.InvalidateEmailData(ctx, userID)
	}
}
