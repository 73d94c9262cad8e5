package domain

import "time"

// =============================================================================
// RealtimeEvent - pushed to connected frontends over SSE
// =============================================================================

type RealtimeEvent struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type EventType string

const (
	EventNewEmail      EventType = "new_email"
	EventEmailRead     EventType = "email_read"
	EventSyncStatus    EventType = "sync_status"
	EventRefreshEmails EventType = "refresh_emails"

	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// NewEmailEventData is the payload of a new_email event. It carries enough
// for the client to render a notification without a round trip.
type NewEmailEventData struct {
	EmailID   int64  `json:"email_id"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// SyncStatusEventData is the payload of a sync_status event.
type SyncStatusEventData struct {
	Status       string `json:"status"` // started, progress, completed, error
	Strategy     string `json:"strategy,omitempty"`
	SyncedCount  int    `json:"synced_count,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func NewEmailEvent(userID string, data *NewEmailEventData) *RealtimeEvent {
	return &RealtimeEvent{
		Type:      EventNewEmail,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func NewSyncStatusEvent(userID string, data *SyncStatusEventData) *RealtimeEvent {
	return &RealtimeEvent{
		Type:      EventSyncStatus,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func NewRefreshEmailsEvent(userID string) *RealtimeEvent {
	return &RealtimeEvent{
		Type:      EventRefreshEmails,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func NewEmailReadEvent(userID string, emailID int64) *RealtimeEvent {
	return &RealtimeEvent{
		Type:      EventEmailRead,
		UserID:    userID,
		Data:      map[string]any{"email_id": emailID},
		Timestamp: time.Now(),
	}
}
