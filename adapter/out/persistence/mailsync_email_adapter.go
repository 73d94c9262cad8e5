package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// EmailAdapter - synced email metadata rows
// =============================================================================

// bulkUpsertBatchSize keeps a single statement under Postgres' parameter
// limit with headroom.
const bulkUpsertBatchSize = 100

type EmailAdapter struct {
	db *sqlx.DB
}

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type emailEntity struct {
	ID        int64          `db:"id"`
	UserID    string         `db:"user_id"`
	MessageID string         `db:"message_id"`
	ThreadID  sql.NullString `db:"thread_id"`

	Subject   string         `db:"subject"`
	FromEmail string         `db:"from_email"`
	FromName  sql.NullString `db:"from_name"`
	ToEmails  pq.StringArray `db:"to_emails"`
	CcEmails  pq.StringArray `db:"cc_emails"`
	Snippet   sql.NullString `db:"snippet"`
	Labels    pq.StringArray `db:"labels"`

	IsRead          bool `db:"is_read"`
	HasAttachment   bool `db:"has_attachment"`
	AttachmentCount int  `db:"attachment_count"`

	Category            sql.NullString  `db:"category"`
	CategoryConfidence  sql.NullFloat64 `db:"category_confidence"`
	CategoryDescription sql.NullString  `db:"category_description"`
	CategorizedAt       sql.NullTime    `db:"categorized_at"`

	ReceivedAt time.Time `db:"received_at"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (e *emailEntity) toDomain() *domain.Email {
	email := &domain.Email{
		ID:              e.ID,
		UserID:          e.UserID,
		MessageID:       e.MessageID,
		Subject:         e.Subject,
		FromEmail:       e.FromEmail,
		ToEmails:        e.ToEmails,
		CcEmails:        e.CcEmails,
		Labels:          e.Labels,
		IsRead:          e.IsRead,
		HasAttachment:   e.HasAttachment,
		AttachmentCount: e.AttachmentCount,
		ReceivedAt:      e.ReceivedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}

	if e.ThreadID.Valid {
		email.ThreadID = e.ThreadID.String
	}
	if e.FromName.Valid {
		email.FromName = e.FromName.String
	}
	if e.Snippet.Valid {
		email.Snippet = e.Snippet.String
	}
	if e.Category.Valid {
		email.Category = e.Category.String
	}
	if e.CategoryConfidence.Valid {
		email.CategoryConfidence = e.CategoryConfidence.Float64
	}
	if e.CategoryDescription.Valid {
		email.CategoryDescription = e.CategoryDescription.String
	}
	if e.CategorizedAt.Valid {
		email.CategorizedAt = e.CategorizedAt.Time
	}

	return email
}

// =============================================================================
// Dedup gate
// =============================================================================

func (a *EmailAdapter) ExistingMessageIDs(ctx context.Context, userID string, messageIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(messageIDs))
	if len(messageIDs) == 0 {
		return existing, nil
	}

	var ids []string
	query := `
		SELECT message_id FROM emails
		WHERE user_id = $1
		  AND message_id = ANY($2)
	`
	if err := a.db.SelectContext(ctx, &ids, query, userID, pq.Array(messageIDs)); err != nil {
		return nil, err
	}

	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// =============================================================================
// Writes
// =============================================================================

// upsert column list, matched by buildEmailArgs and the VALUES placeholders.
const bulkUpsertColumns = `
	user_id, message_id, thread_id, subject, from_email, from_name,
	to_emails, cc_emails, snippet, labels,
	is_read, has_attachment, attachment_count, received_at
`

const emailFieldCount = 14

// BulkUpsert writes the batch in chunks of bulkUpsertBatchSize. Conflicting
// rows update mutable fields but never the categorization columns; those are
// owned by UpdateCategory. Each email's ID is filled in from RETURNING.
func (a *EmailAdapter) BulkUpsert(ctx context.Context, userID string, emails []*domain.Email) error {
	for start := 0; start < len(emails); start += bulkUpsertBatchSize {
		end := start + bulkUpsertBatchSize
		if end > len(emails) {
			end = len(emails)
		}
		if err := a.bulkUpsertBatch(ctx, userID, emails[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (a *EmailAdapter) bulkUpsertBatch(ctx context.Context, userID string, emails []*domain.Email) error {
	if len(emails) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(emails)*emailFieldCount)
	for _, email := range emails {
		args = append(args, buildEmailArgs(userID, email)...)
	}

	query := fmt.Sprintf(`
		INSERT INTO emails (%s)
		VALUES %s
		ON CONFLICT (user_id, message_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			from_email = EXCLUDED.from_email,
			from_name = EXCLUDED.from_name,
			to_emails = EXCLUDED.to_emails,
			cc_emails = EXCLUDED.cc_emails,
			snippet = EXCLUDED.snippet,
			labels = EXCLUDED.labels,
			is_read = EXCLUDED.is_read,
			has_attachment = EXCLUDED.has_attachment,
			attachment_count = EXCLUDED.attachment_count,
			received_at = EXCLUDED.received_at,
			updated_at = NOW()
		RETURNING id, message_id
	`, bulkUpsertColumns, buildPlaceholders(len(emails), emailFieldCount))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	idByMessage := make(map[string]int64, len(emails))
	for rows.Next() {
		var id int64
		var messageID string
		if err := rows.Scan(&id, &messageID); err != nil {
			return err
		}
		idByMessage[messageID] = id
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, email := range emails {
		if id, ok := idByMessage[email.MessageID]; ok {
			email.ID = id
		}
	}
	return nil
}

func (a *EmailAdapter) Upsert(ctx context.Context, userID string, email *domain.Email) error {
	query := fmt.Sprintf(`
		INSERT INTO emails (%s)
		VALUES %s
		ON CONFLICT (user_id, message_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			from_email = EXCLUDED.from_email,
			from_name = EXCLUDED.from_name,
			to_emails = EXCLUDED.to_emails,
			cc_emails = EXCLUDED.cc_emails,
			snippet = EXCLUDED.snippet,
			labels = EXCLUDED.labels,
			is_read = EXCLUDED.is_read,
			has_attachment = EXCLUDED.has_attachment,
			attachment_count = EXCLUDED.attachment_count,
			received_at = EXCLUDED.received_at,
			updated_at = NOW()
		RETURNING id
	`, bulkUpsertColumns, buildPlaceholders(1, emailFieldCount))

	return a.db.QueryRowContext(ctx, query, buildEmailArgs(userID, email)...).Scan(&email.ID)
}

func (a *EmailAdapter) UpdateCategory(ctx context.Context, emailID int64, result *domain.CategoryResult) error {
	query := `
		UPDATE emails SET
			category = $2,
			category_confidence = $3,
			category_description = $4,
			categorized_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := a.db.ExecContext(ctx, query,
		emailID,
		result.Category,
		result.Confidence,
		toNullableString(result.Description),
	)
	return err
}

// =============================================================================
// Reads
// =============================================================================

func (a *EmailAdapter) GetByID(ctx context.Context, emailID int64) (*domain.Email, error) {
	var entity emailEntity
	query := `SELECT * FROM emails WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, emailID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *EmailAdapter) GetByMessageID(ctx context.Context, userID, messageID string) (*domain.Email, error) {
	var entity emailEntity
	query := `SELECT * FROM emails WHERE user_id = $1 AND message_id = $2`
	if err := a.db.GetContext(ctx, &entity, query, userID, messageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *EmailAdapter) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM emails WHERE user_id = $1`
	if err := a.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, err
	}
	return count, nil
}

var _ out.EmailRepository = (*EmailAdapter)(nil)

// =============================================================================
// Helper functions
// =============================================================================

func buildEmailArgs(userID string, email *domain.Email) []interface{} {
	return []interface{}{
		userID,
		email.MessageID,
		toNullableString(email.ThreadID),
		email.Subject,
		email.FromEmail,
		toNullableString(email.FromName),
		pq.Array(email.ToEmails),
		pq.Array(email.CcEmails),
		toNullableString(email.Snippet),
		pq.Array(email.Labels),
		email.IsRead,
		email.HasAttachment,
		email.AttachmentCount,
		email.ReceivedAt,
	}
}

// buildPlaceholders returns "($1, ..., $n), ($n+1, ...), ..." for itemCount
// rows of fieldCount columns.
func buildPlaceholders(itemCount, fieldCount int) string {
	var sb strings.Builder
	for i := 0; i < itemCount; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < fieldCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*fieldCount+j+1)
		}
		sb.WriteString(")")
	}
	return sb.String()
}
