// Package gmail provides the Gmail API adapter.
package gmail

import (
	"context"
	"fmt"
	"net/http"

	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/httputil"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Adapter implements out.MailProvider against the Gmail API. Tokens come in
// per call, so one adapter serves every user.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

// service builds a Gmail client bound to the caller's token on the shared
// HTTP transport.
func (a *Adapter) service(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	source := oauth2.StaticTokenSource(token)
	// Wrap the pooled Gmail transport with the caller's token.
	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient()),
		source,
	)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

// ListMessageRefs lists one page of message references.
func (a *Adapter) ListMessageRefs(ctx context.Context, token *oauth2.Token, query *out.ListQuery) (*out.MessageRefPage, error) {
	svc, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}

	req := svc.Users.Messages.List("me")
	if query.Query != "" {
		req = req.Q(query.Query)
	}
	if query.PageToken != "" {
		req = req.PageToken(query.PageToken)
	}
	if query.PageSize > 0 {
		req = req.MaxResults(int64(query.PageSize))
	}

	resp, err := req.Context(ctx).Do()
	if err != nil {
		return nil, wrapGmailError("list messages", err)
	}

	refs := make([]out.MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, out.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}

	return &out.MessageRefPage{
		Refs:          refs,
		NextPageToken: resp.NextPageToken,
	}, nil
}

// GetFullMessage fetches one message with its complete MIME payload.
func (a *Adapter) GetFullMessage(ctx context.Context, token *oauth2.Token, messageID string) (*out.RawMessage, error) {
	svc, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get("me", messageID).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapGmailError("get message", err)
	}

	raw := &out.RawMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
		LabelIDs:     msg.LabelIds,
		Payload:      convertPart(msg.Payload),
	}
	return raw, nil
}

// convertPart maps the Gmail part tree onto the provider-neutral one.
func convertPart(part *gmail.MessagePart) *out.RawMessagePart {
	if part == nil {
		return nil
	}

	converted := &out.RawMessagePart{
		MimeType: part.MimeType,
		Filename: part.Filename,
	}
	if part.Body != nil {
		converted.Data = part.Body.Data
		converted.AttachmentID = part.Body.AttachmentId
		converted.Size = part.Body.Size
	}
	for _, h := range part.Headers {
		converted.Headers = append(converted.Headers, out.RawHeader{Name: h.Name, Value: h.Value})
	}
	for _, child := range part.Parts {
		converted.Parts = append(converted.Parts, convertPart(child))
	}
	return converted
}

// wrapGmailError keeps rate-limit responses distinguishable so the sync
// retry schedule can back off instead of failing the sync.
func wrapGmailError(operation string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return apperr.ProviderRateLimited(err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.Wrap(err, apperr.CodeUnauthorized, "gmail rejected credentials", apiErr.Code)
		}
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

var _ out.MailProvider = (*Adapter)(nil)
