package out

import (
	"context"

	"golang.org/x/oauth2"
)

// =============================================================================
// Mail provider port
// =============================================================================

// MessageRef is a lightweight message reference returned by listing.
type MessageRef struct {
	ID       string
	ThreadID string
}

// ListQuery describes a single listing page request.
type ListQuery struct {
	Query     string // provider search filter, empty for everything
	PageToken string
	PageSize  int
}

// MessageRefPage is one page of message references.
type MessageRefPage struct {
	Refs          []MessageRef
	NextPageToken string
}

// RawHeader is a single MIME header.
type RawHeader struct {
	Name  string
	Value string
}

// RawMessagePart is a node in the MIME part tree. Data is base64url encoded
// as delivered by the provider.
type RawMessagePart struct {
	MimeType     string
	Filename     string
	Data         string
	AttachmentID string
	Size         int64
	Headers      []RawHeader
	Parts        []*RawMessagePart
}

// RawMessage is a full message as fetched from the provider, unparsed.
type RawMessage struct {
	ID           string
	ThreadID     string
	Snippet      string
	InternalDate int64 // epoch millis
	LabelIDs     []string
	Payload      *RawMessagePart
}

// MailProvider lists and fetches mailbox messages from the external provider.
type MailProvider interface {
	ListMessageRefs(ctx context.Context, token *oauth2.Token, query *ListQuery) (*MessageRefPage, error)
	GetFullMessage(ctx context.Context, token *oauth2.Token, messageID string) (*RawMessage, error)
}

// =============================================================================
// Credential port
// =============================================================================

// CredentialSource yields a valid access token for a user, refreshing it
// when it is expired or about to expire.
type CredentialSource interface {
	EnsureFreshToken(ctx context.Context, userID string) (*oauth2.Token, error)
}

// TokenRecord is a stored OAuth credential.
type TokenRecord struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Expiry       int64 // epoch seconds
}

// TokenRepository persists OAuth credentials.
type TokenRepository interface {
	Get(ctx context.Context, userID string) (*TokenRecord, error)
	Save(ctx context.Context, record *TokenRecord) error
}
