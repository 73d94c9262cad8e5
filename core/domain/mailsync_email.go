package domain

import "time"

// =============================================================================
// Email - synced mailbox message metadata
// =============================================================================

type Email struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"` // provider message ID, unique per user
	ThreadID  string `json:"thread_id,omitempty"`

	Subject   string   `json:"subject"`
	FromEmail string   `json:"from_email"`
	FromName  string   `json:"from_name,omitempty"`
	ToEmails  []string `json:"to_emails,omitempty"`
	CcEmails  []string `json:"cc_emails,omitempty"`
	Snippet   string   `json:"snippet,omitempty"`
	Labels    []string `json:"labels,omitempty"`

	IsRead          bool `json:"is_read"`
	HasAttachment   bool `json:"has_attachment"`
	AttachmentCount int  `json:"attachment_count"`

	// Categorization
	Category            string    `json:"category,omitempty"`
	CategoryConfidence  float64   `json:"category_confidence,omitempty"`
	CategoryDescription string    `json:"category_description,omitempty"`
	CategorizedAt       time.Time `json:"categorized_at,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsCategorized reports whether a category has been assigned.
func (e *Email) IsCategorized() bool {
	return e.Category != ""
}

// EmailBody holds the full message content, stored separately from metadata.
type EmailBody struct {
	MessageID   string        `json:"message_id"`
	UserID      string        `json:"user_id"`
	Text        string        `json:"text,omitempty"`
	HTML        string        `json:"html,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Attachment is attachment metadata only; content stays with the provider.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	IsInline bool   `json:"is_inline,omitempty"`
}
