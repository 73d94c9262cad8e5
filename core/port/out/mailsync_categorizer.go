package out

import (
	"context"

	"mailsync_server/core/domain"
)

// CategorizeInput is what the categorization service sees per email.
type CategorizeInput struct {
	EmailID   int64  `json:"email_id"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	FromEmail string `json:"from_email"`
	Snippet   string `json:"snippet,omitempty"`
}

// CategorizerPort calls the remote categorization service.
type CategorizerPort interface {
	// Categorize classifies a single email.
	Categorize(ctx context.Context, userID string, input *CategorizeInput) (*domain.CategoryResult, error)

	// CategorizeBatch classifies several emails of one user in a single call.
	// Results are positional: results[i] belongs to inputs[i].
	CategorizeBatch(ctx context.Context, userID string, inputs []*CategorizeInput) ([]*domain.CategoryResult, error)
}
