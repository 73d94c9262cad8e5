package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/oauth2"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
)

// In-memory fakes shared by the orchestrator and pipeline tests.

type fakeSyncRepo struct {
	mu     stdsync.Mutex
	states map[string]*domain.SyncState

	tryBeginErr error
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{states: make(map[string]*domain.SyncState)}
}

func (r *fakeSyncRepo) state(userID string) *domain.SyncState {
	if s, ok := r.states[userID]; ok {
		return s
	}
	s := &domain.SyncState{UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.states[userID] = s
	return s
}

func (r *fakeSyncRepo) GetOrCreate(ctx context.Context, userID string) (*domain.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *r.state(userID)
	return &s, nil
}

func (r *fakeSyncRepo) Get(ctx context.Context, userID string) (*domain.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[userID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *fakeSyncRepo) TryBeginSync(ctx context.Context, userID string, isInitial bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tryBeginErr != nil {
		return false, r.tryBeginErr
	}
	s := r.state(userID)
	if s.SyncInProgress {
		return false, nil
	}
	s.SyncInProgress = true
	s.IsInitialSyncing = isInitial
	s.LastError = ""
	s.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeSyncRepo) SaveProgress(ctx context.Context, userID, continuationToken string, syncedCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state(userID)
	if continuationToken != "" {
		s.ContinuationToken = continuationToken
	}
	s.TotalSynced += int64(syncedCount)
	s.LastSyncCount = syncedCount
	s.LastSyncAt = time.Now()
	s.UpdatedAt = time.Now()
	return nil
}

func (r *fakeSyncRepo) FinishSync(ctx context.Context, userID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state(userID)
	s.SyncInProgress = false
	s.IsInitialSyncing = false
	s.LastError = lastError
	s.UpdatedAt = time.Now()
	return nil
}

func (r *fakeSyncRepo) ClearContinuation(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(userID).ContinuationToken = ""
	return nil
}

func (r *fakeSyncRepo) Reset(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[userID] = &domain.SyncState{UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	return nil
}

func (r *fakeSyncRepo) GetStuck(ctx context.Context, before time.Time) ([]*domain.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stuck []*domain.SyncState
	for _, s := range r.states {
		if s.SyncInProgress && s.UpdatedAt.Before(before) {
			copied := *s
			stuck = append(stuck, &copied)
		}
	}
	return stuck, nil
}

var _ out.SyncStateRepository = (*fakeSyncRepo)(nil)

type fakeProducer struct {
	mu       stdsync.Mutex
	syncJobs []*out.SyncPageJob
	catJobs  []*out.CategorizeJob

	syncErr error
}

func (p *fakeProducer) PublishSyncPage(ctx context.Context, job *out.SyncPageJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syncErr != nil {
		return p.syncErr
	}
	copied := *job
	p.syncJobs = append(p.syncJobs, &copied)
	return nil
}

func (p *fakeProducer) PublishCategorize(ctx context.Context, job *out.CategorizeJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *job
	p.catJobs = append(p.catJobs, &copied)
	return nil
}

var _ out.MessageProducer = (*fakeProducer)(nil)

type fakeCredentials struct {
	err error
}

func (c *fakeCredentials) EnsureFreshToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &oauth2.Token{AccessToken: "test-token"}, nil
}

type fakeProvider struct {
	pages    map[string]*out.MessageRefPage // keyed by page token, "" for first
	messages map[string]*out.RawMessage
	fetchErr map[string]error
}

func (p *fakeProvider) ListMessageRefs(ctx context.Context, token *oauth2.Token, query *out.ListQuery) (*out.MessageRefPage, error) {
	page, ok := p.pages[query.PageToken]
	if !ok {
		return &out.MessageRefPage{}, nil
	}
	return page, nil
}

func (p *fakeProvider) GetFullMessage(ctx context.Context, token *oauth2.Token, messageID string) (*out.RawMessage, error) {
	if err, ok := p.fetchErr[messageID]; ok {
		return nil, err
	}
	raw, ok := p.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message not found: %s", messageID)
	}
	return raw, nil
}

var _ out.MailProvider = (*fakeProvider)(nil)

type fakeEmailRepo struct {
	mu       stdsync.Mutex
	existing map[string]struct{}
	stored   []*domain.Email
	nextID   int64

	bulkErr    error
	upsertErrs map[string]error
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{existing: make(map[string]struct{})}
}

func (r *fakeEmailRepo) ExistingMessageIDs(ctx context.Context, userID string, messageIDs []string) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := make(map[string]struct{})
	for _, id := range messageIDs {
		if _, ok := r.existing[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (r *fakeEmailRepo) BulkUpsert(ctx context.Context, userID string, emails []*domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bulkErr != nil {
		return r.bulkErr
	}
	for _, email := range emails {
		r.nextID++
		email.ID = r.nextID
		r.stored = append(r.stored, email)
		r.existing[email.MessageID] = struct{}{}
	}
	return nil
}

func (r *fakeEmailRepo) Upsert(ctx context.Context, userID string, email *domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.upsertErrs[email.MessageID]; ok {
		return err
	}
	r.nextID++
	email.ID = r.nextID
	r.stored = append(r.stored, email)
	r.existing[email.MessageID] = struct{}{}
	return nil
}

func (r *fakeEmailRepo) GetByID(ctx context.Context, emailID int64) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, email := range r.stored {
		if email.ID == emailID {
			return email, nil
		}
	}
	return nil, nil
}

func (r *fakeEmailRepo) GetByMessageID(ctx context.Context, userID, messageID string) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, email := range r.stored {
		if email.MessageID == messageID {
			return email, nil
		}
	}
	return nil, nil
}

func (r *fakeEmailRepo) UpdateCategory(ctx context.Context, emailID int64, result *domain.CategoryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, email := range r.stored {
		if email.ID == emailID {
			email.Category = result.Category
			email.CategoryConfidence = result.Confidence
			email.CategoryDescription = result.Description
			email.CategorizedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("email not found: %d", emailID)
}

func (r *fakeEmailRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.stored)), nil
}

var _ out.EmailRepository = (*fakeEmailRepo)(nil)

type fakeBodyRepo struct {
	mu     stdsync.Mutex
	bodies map[string]*domain.EmailBody
}

func newFakeBodyRepo() *fakeBodyRepo {
	return &fakeBodyRepo{bodies: make(map[string]*domain.EmailBody)}
}

func (r *fakeBodyRepo) Save(ctx context.Context, body *domain.EmailBody) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies[body.MessageID] = body
	return nil
}

func (r *fakeBodyRepo) Get(ctx context.Context, userID, messageID string) (*domain.EmailBody, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[messageID], nil
}

func (r *fakeBodyRepo) Delete(ctx context.Context, userID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bodies, messageID)
	return nil
}

var _ out.EmailBodyRepository = (*fakeBodyRepo)(nil)

// rawTextMessage builds a minimal single-part text message.
func rawTextMessage(id string, internalDate int64) *out.RawMessage {
	return &out.RawMessage{
		ID:           id,
		ThreadID:     "t-" + id,
		Snippet:      "snippet " + id,
		InternalDate: internalDate,
		LabelIDs:     []string{"INBOX", "UNREAD"},
		Payload: &out.RawMessagePart{
			MimeType: "text/plain",
			Data:     "aGVsbG8gd29ybGQ", // "hello world"
			Headers: []out.RawHeader{
				{Name: "Subject", Value: "subject " + id},
				{Name: "From", Value: "Sender <sender@example.com>"},
				{Name: "To", Value: "rcpt@example.com"},
			},
		},
	}
}
