package categorize

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
)

type fakeEmailStore struct {
	mu         stdsync.Mutex
	emails     map[int64]*domain.Email
	categories map[int64]*domain.CategoryResult
	updateErr  error
}

func newFakeEmailStore(emails ...*domain.Email) *fakeEmailStore {
	s := &fakeEmailStore{
		emails:     make(map[int64]*domain.Email),
		categories: make(map[int64]*domain.CategoryResult),
	}
	for _, e := range emails {
		s.emails[e.ID] = e
	}
	return s
}

func (s *fakeEmailStore) GetByID(ctx context.Context, emailID int64) (*domain.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emails[emailID], nil
}

func (s *fakeEmailStore) UpdateCategory(ctx context.Context, emailID int64, result *domain.CategoryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	email, ok := s.emails[emailID]
	if !ok {
		return errors.New("email not found")
	}
	email.Category = result.Category
	email.CategoryConfidence = result.Confidence
	s.categories[emailID] = result
	return nil
}

func (s *fakeEmailStore) ExistingMessageIDs(ctx context.Context, userID string, messageIDs []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *fakeEmailStore) BulkUpsert(ctx context.Context, userID string, emails []*domain.Email) error {
	return nil
}

func (s *fakeEmailStore) Upsert(ctx context.Context, userID string, email *domain.Email) error {
	return nil
}

func (s *fakeEmailStore) GetByMessageID(ctx context.Context, userID, messageID string) (*domain.Email, error) {
	return nil, nil
}

func (s *fakeEmailStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

var _ out.EmailRepository = (*fakeEmailStore)(nil)

type fakeCategorizer struct {
	mu         stdsync.Mutex
	batchCalls [][]*out.CategorizeInput
	itemCalls  []*out.CategorizeInput

	batchErr   error
	batchShort bool // return one result fewer than inputs
	itemErr    map[int64]error
	result     *domain.CategoryResult
}

func (c *fakeCategorizer) CategorizeBatch(ctx context.Context, userID string, inputs []*out.CategorizeInput) ([]*domain.CategoryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls = append(c.batchCalls, inputs)
	if c.batchErr != nil {
		return nil, c.batchErr
	}
	n := len(inputs)
	if c.batchShort && n > 0 {
		n--
	}
	results := make([]*domain.CategoryResult, n)
	for i := range results {
		results[i] = c.verdict()
	}
	return results, nil
}

func (c *fakeCategorizer) Categorize(ctx context.Context, userID string, input *out.CategorizeInput) (*domain.CategoryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemCalls = append(c.itemCalls, input)
	if err, ok := c.itemErr[input.EmailID]; ok {
		return nil, err
	}
	return c.verdict(), nil
}

func (c *fakeCategorizer) verdict() *domain.CategoryResult {
	if c.result != nil {
		return c.result
	}
	return &domain.CategoryResult{Category: "Work", Confidence: 0.9}
}

var _ out.CategorizerPort = (*fakeCategorizer)(nil)

func testEmail(id int64) *domain.Email {
	return &domain.Email{
		ID:        id,
		UserID:    "u1",
		MessageID: "m",
		Subject:   "subject",
		FromEmail: "sender@example.com",
	}
}

func task(emailID int64, lane domain.Lane) *domain.CategorizeTask {
	return &domain.CategorizeTask{UserID: "u1", EmailID: emailID, Lane: lane}
}

func TestNextBatchStrictPriority(t *testing.T) {
	p := NewProcessor(newFakeEmailStore(), &fakeCategorizer{}, nil)
	p.Enqueue(task(1, domain.LaneLow))
	p.Enqueue(task(2, domain.LaneHigh))
	p.Enqueue(task(3, domain.LaneNormal))
	p.Enqueue(task(4, domain.LaneHigh))

	batch := p.nextBatch()
	if len(batch) != 2 {
		t.Fatalf("first batch has %d tasks, want the 2 high-lane tasks", len(batch))
	}
	for _, tk := range batch {
		if tk.Lane != domain.LaneHigh {
			t.Errorf("first batch mixed in lane %v", tk.Lane)
		}
	}

	batch = p.nextBatch()
	if len(batch) != 1 || batch[0].Lane != domain.LaneNormal {
		t.Fatalf("second batch = %v, want the normal-lane task", batch)
	}

	batch = p.nextBatch()
	if len(batch) != 1 || batch[0].Lane != domain.LaneLow {
		t.Fatalf("third batch = %v, want the low-lane task", batch)
	}

	if p.nextBatch() != nil {
		t.Error("lanes should be empty")
	}
}

func TestNextBatchCapsAtBatchSize(t *testing.T) {
	p := NewProcessor(newFakeEmailStore(), &fakeCategorizer{}, nil)
	for i := 0; i < batchSize+5; i++ {
		p.Enqueue(task(int64(i), domain.LaneNormal))
	}

	if got := len(p.nextBatch()); got != batchSize {
		t.Errorf("batch size = %d, want %d", got, batchSize)
	}
	if got := len(p.nextBatch()); got != 5 {
		t.Errorf("remainder batch size = %d, want 5", got)
	}
}

func TestEnqueueClampsUnknownLane(t *testing.T) {
	p := NewProcessor(newFakeEmailStore(), &fakeCategorizer{}, nil)
	p.Enqueue(&domain.CategorizeTask{UserID: "u1", EmailID: 1, Lane: domain.Lane(9)})

	depths := p.Depths()
	if depths[domain.LaneNormal.String()] != 1 {
		t.Errorf("depths = %v, want the task in the normal lane", depths)
	}
}

func TestDrainCategorizesBatch(t *testing.T) {
	store := newFakeEmailStore(testEmail(1), testEmail(2))
	cat := &fakeCategorizer{}
	p := NewProcessor(store, cat, nil)
	p.Enqueue(task(1, domain.LaneHigh))
	p.Enqueue(task(2, domain.LaneHigh))

	p.Drain(context.Background())

	if len(cat.batchCalls) != 1 {
		t.Fatalf("batch calls = %d, want 1", len(cat.batchCalls))
	}
	if len(store.categories) != 2 {
		t.Errorf("persisted %d categories, want 2", len(store.categories))
	}
	if store.emails[1].Category != "Work" {
		t.Errorf("Category = %q, want Work", store.emails[1].Category)
	}
}

func TestDrainSkipsMissingAndCategorized(t *testing.T) {
	done := testEmail(2)
	done.Category = "Personal"
	store := newFakeEmailStore(testEmail(1), done)
	cat := &fakeCategorizer{}
	p := NewProcessor(store, cat, nil)
	p.Enqueue(task(1, domain.LaneHigh))
	p.Enqueue(task(2, domain.LaneHigh)) // already categorized
	p.Enqueue(task(3, domain.LaneHigh)) // no such email

	p.Drain(context.Background())

	if len(cat.batchCalls) != 1 || len(cat.batchCalls[0]) != 1 {
		t.Fatalf("batch calls = %v, want one call with one input", cat.batchCalls)
	}
	if cat.batchCalls[0][0].EmailID != 1 {
		t.Errorf("categorized email %d, want 1", cat.batchCalls[0][0].EmailID)
	}
	if done.Category != "Personal" {
		t.Error("already categorized email must not be overwritten")
	}
}

func TestDrainFallsBackToPerItemOnBatchError(t *testing.T) {
	store := newFakeEmailStore(testEmail(1), testEmail(2))
	cat := &fakeCategorizer{batchErr: errors.New("service unavailable")}
	p := NewProcessor(store, cat, nil)
	p.Enqueue(task(1, domain.LaneHigh))
	p.Enqueue(task(2, domain.LaneHigh))

	p.Drain(context.Background())

	if len(cat.itemCalls) != 2 {
		t.Fatalf("per-item calls = %d, want 2", len(cat.itemCalls))
	}
	if len(store.categories) != 2 {
		t.Errorf("persisted %d categories, want 2", len(store.categories))
	}
}

func TestDrainFallsBackOnLengthMismatch(t *testing.T) {
	store := newFakeEmailStore(testEmail(1), testEmail(2))
	cat := &fakeCategorizer{batchShort: true}
	p := NewProcessor(store, cat, nil)
	p.Enqueue(task(1, domain.LaneHigh))
	p.Enqueue(task(2, domain.LaneHigh))

	p.Drain(context.Background())

	if len(cat.itemCalls) != 2 {
		t.Fatalf("per-item calls = %d, want 2 after a short batch response", len(cat.itemCalls))
	}
	if len(store.categories) != 2 {
		t.Errorf("persisted %d categories, want 2", len(store.categories))
	}
}

func TestDrainWithoutCategorizerAppliesFallback(t *testing.T) {
	store := newFakeEmailStore(testEmail(1), testEmail(2))
	p := NewProcessor(store, nil, nil)
	p.Enqueue(task(1, domain.LaneHigh))
	p.Enqueue(task(2, domain.LaneNormal))

	p.Drain(context.Background())

	for _, id := range []int64{1, 2} {
		result := store.categories[id]
		if result == nil {
			t.Fatalf("email %d was not categorized", id)
		}
		if result.Category != "General" {
			t.Errorf("email %d category = %q, want the General fallback", id, result.Category)
		}
	}
	if p.nextBatch() != nil {
		t.Error("lanes should be empty after the drain")
	}
}

func TestFailedTaskIsRequeuedThenGetsFallback(t *testing.T) {
	store := newFakeEmailStore(testEmail(1))
	cat := &fakeCategorizer{
		batchErr: errors.New("service unavailable"),
		itemErr:  map[int64]error{1: errors.New("still failing")},
	}
	p := NewProcessor(store, cat, nil)
	p.Enqueue(task(1, domain.LaneHigh))

	// Drain keeps going until the lanes are empty, so the re-queued task is
	// retried within the same call until its retries run out.
	p.Drain(context.Background())

	result := store.categories[1]
	if result == nil {
		t.Fatal("fallback category was not persisted")
	}
	if result.Category != "General" {
		t.Errorf("Category = %q, want the General fallback", result.Category)
	}
	if got := len(cat.itemCalls); got != domain.MaxCategorizeRetries+1 {
		t.Errorf("per-item attempts = %d, want %d", got, domain.MaxCategorizeRetries+1)
	}
	if p.nextBatch() != nil {
		t.Error("exhausted task must not be re-queued again")
	}
}
