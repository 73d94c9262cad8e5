package out

import (
	"context"

	"mailsync_server/core/domain"
)

// EmailRepository persists synced email metadata.
type EmailRepository interface {
	// ExistingMessageIDs returns the subset of messageIDs already stored for
	// the user, as a set. The pipeline's dedup gate.
	ExistingMessageIDs(ctx context.Context, userID string, messageIDs []string) (map[string]struct{}, error)

	// BulkUpsert inserts or updates a batch of emails in one statement and
	// fills in each email's ID from the database.
	BulkUpsert(ctx context.Context, userID string, emails []*domain.Email) error

	// Upsert inserts or updates a single email, filling in its ID. Per-item
	// fallback path when a bulk write fails wholesale.
	Upsert(ctx context.Context, userID string, email *domain.Email) error

	GetByID(ctx context.Context, emailID int64) (*domain.Email, error)
	GetByMessageID(ctx context.Context, userID, messageID string) (*domain.Email, error)

	// UpdateCategory persists a categorization result for an email.
	UpdateCategory(ctx context.Context, emailID int64, result *domain.CategoryResult) error

	// CountByUser returns how many emails are stored for the user.
	CountByUser(ctx context.Context, userID string) (int64, error)
}

// EmailBodyRepository stores full message bodies, separate from metadata.
type EmailBodyRepository interface {
	Save(ctx context.Context, body *domain.EmailBody) error
	Get(ctx context.Context, userID, messageID string) (*domain.EmailBody, error)
	Delete(ctx context.Context, userID, messageID string) error
}
