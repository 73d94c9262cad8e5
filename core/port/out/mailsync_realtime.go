package out

import (
	"context"

	"mailsync_server/core/domain"
)

// RealtimePort pushes events to connected clients. Implementations must be
// safe to call for users with no active connection.
type RealtimePort interface {
	Subscribe(userID string) <-chan *domain.RealtimeEvent
	Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent)
	Push(ctx context.Context, userID string, event *domain.RealtimeEvent) error
	IsConnected(userID string) bool
}
