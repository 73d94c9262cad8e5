package sync

import (
	"encoding/base64"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

// =============================================================================
// Message parsing - raw provider payload to domain Email + EmailBody
// =============================================================================

// ParseMessage converts a raw provider message into stored metadata and body.
// It is a pure function so it can be exercised without a provider.
func ParseMessage(userID string, raw *out.RawMessage) (*domain.Email, *domain.EmailBody, error) {
	if raw == nil || raw.ID == "" {
		return nil, nil, apperr.ParseFailure("", nil)
	}

	email := &domain.Email{
		UserID:    userID,
		MessageID: raw.ID,
		ThreadID:  raw.ThreadID,
		Snippet:   raw.Snippet,
		Labels:    raw.LabelIDs,
		IsRead:    !hasLabel(raw.LabelIDs, "UNREAD"),
	}

	if raw.InternalDate > 0 {
		email.ReceivedAt = time.UnixMilli(raw.InternalDate)
	} else {
		email.ReceivedAt = time.Now()
	}

	body := &domain.EmailBody{
		MessageID: raw.ID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	if raw.Payload == nil {
		// Metadata-only message. Rare, but the provider can return it.
		return email, body, nil
	}

	email.Subject = headerValue(raw.Payload.Headers, "Subject")
	email.FromName, email.FromEmail = parseAddress(headerValue(raw.Payload.Headers, "From"))
	email.ToEmails = parseAddressList(headerValue(raw.Payload.Headers, "To"))
	email.CcEmails = parseAddressList(headerValue(raw.Payload.Headers, "Cc"))

	// Date header wins over internal date when it parses, it reflects the
	// sender's clock rather than the provider's ingestion time.
	if dateStr := headerValue(raw.Payload.Headers, "Date"); dateStr != "" {
		if t, err := parseMailDate(dateStr); err == nil {
			email.ReceivedAt = t
		}
	}

	walkParts(raw.Payload, body)

	email.AttachmentCount = countRealAttachments(body.Attachments)
	email.HasAttachment = email.AttachmentCount > 0

	return email, body, nil
}

// walkParts descends the MIME tree collecting text, html and attachments.
// First text/plain and first text/html part win; later duplicates are
// usually quoted-reply fragments.
func walkParts(part *out.RawMessagePart, body *domain.EmailBody) {
	if part == nil {
		return
	}

	if part.Filename != "" {
		body.Attachments = append(body.Attachments, &domain.Attachment{
			ID:       part.AttachmentID,
			Name:     part.Filename,
			MimeType: part.MimeType,
			Size:     part.Size,
			IsInline: headerValue(part.Headers, "Content-ID") != "",
		})
	} else if part.Data != "" {
		switch {
		case strings.HasPrefix(part.MimeType, "text/plain") && body.Text == "":
			body.Text = decodeBase64URL(part.Data)
		case strings.HasPrefix(part.MimeType, "text/html") && body.HTML == "":
			body.HTML = decodeBase64URL(part.Data)
		}
	}

	for _, child := range part.Parts {
		walkParts(child, body)
	}
}

// countRealAttachments excludes inline images embedded in HTML bodies.
func countRealAttachments(attachments []*domain.Attachment) int {
	count := 0
	for _, a := range attachments {
		if !a.IsInline {
			count++
		}
	}
	return count
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// headerValue returns the first matching header, case-insensitive.
func headerValue(headers []out.RawHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// parseAddress splits `Display Name <user@host>` into its parts. A bare
// address comes back with an empty name.
func parseAddress(s string) (name, addr string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}

	lt := strings.LastIndex(s, "<")
	gt := strings.LastIndex(s, ">")
	if lt >= 0 && gt > lt {
		name = strings.Trim(strings.TrimSpace(s[:lt]), `"`)
		addr = strings.TrimSpace(s[lt+1 : gt])
		return name, addr
	}
	return "", s
}

// parseAddressList splits a comma-separated header into bare addresses.
// Commas inside quoted display names are rare in practice and worst case
// yield an extra malformed entry, never a dropped one.
func parseAddressList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var addrs []string
	for _, part := range strings.Split(s, ",") {
		_, addr := parseAddress(part)
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// decodeBase64URL tolerates both padded and unpadded payloads. On failure it
// returns the raw string; a garbled body beats a dropped one.
func decodeBase64URL(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return data
}

// parseMailDate tries the date formats seen in the wild.
var mailDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
}

func parseMailDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, format := range mailDateFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
