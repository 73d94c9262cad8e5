// Package notify couples cache invalidation with realtime push so the two
// never drift apart: anything that changes what a client would see both
// drops the stale cache entries and tells connected clients about it.
package notify

import (
	"context"
	"fmt"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// Cache TTLs tuned to volatility: sync status changes every page, list pages
// survive between syncs, a single email barely changes at all.
const (
	TTLSyncStatus = 15 * time.Second
	TTLStats      = 60 * time.Second
	TTLEmailList  = 5 * time.Minute
	TTLEmail      = 30 * time.Minute
)

// Cache key builders. Prefix deletes rely on these shapes.
func KeySyncStatus(userID string) string    { return "sync:" + userID }
func KeyStats(userID string) string         { return "stats:" + userID }
func KeyEmailListPrefix(userID string) string { return fmt.Sprintf("emails:%s:", userID) }
func KeyEmail(userID, messageID string) string {
	return fmt.Sprintf("email:%s:%s", userID, messageID)
}

// Notifier is safe to construct with nil ports; every method degrades to a
// no-op for the missing collaborator.
type Notifier struct {
	cache    out.CachePort
	realtime out.RealtimePort
}

func NewNotifier(cache out.CachePort, realtime out.RealtimePort) *Notifier {
	return &Notifier{cache: cache, realtime: realtime}
}

// push delivers an event if a realtime port exists and the user is connected.
func (n *Notifier) push(ctx context.Context, userID string, event *domain.RealtimeEvent) {
	if n.realtime == nil {
		return
	}
	if !n.realtime.IsConnected(userID) {
		return
	}
	if err := n.realtime.Push(ctx, userID, event); err != nil {
		logger.WithError(err).Warn("failed to push %s event for user %s", event.Type, userID)
	}
}

// SyncStatus caches the latest status and pushes a sync_status event.
func (n *Notifier) SyncStatus(ctx context.Context, userID string, data *domain.SyncStatusEventData) {
	if n.cache != nil {
		if err := n.cache.SetJSON(ctx, KeySyncStatus(userID), data, TTLSyncStatus); err != nil {
			logger.WithError(err).Warn("failed to cache sync status for user %s", userID)
		}
	}
	n.push(ctx, userID, domain.NewSyncStatusEvent(userID, data))
}

// CachedSyncStatus returns the cached status, if any.
func (n *Notifier) CachedSyncStatus(ctx context.Context, userID string) (*domain.SyncStatusEventData, bool) {
	if n.cache == nil {
		return nil, false
	}
	var data domain.SyncStatusEventData
	found, err := n.cache.GetJSON(ctx, KeySyncStatus(userID), &data)
	if err != nil || !found {
		return nil, false
	}
	return &data, true
}

// NewEmail announces a genuinely new email to connected clients.
func (n *Notifier) NewEmail(ctx context.Context, userID string, email *domain.Email) {
	n.push(ctx, userID, domain.NewEmailEvent(userID, &domain.NewEmailEventData{
		EmailID:   email.ID,
		MessageID: email.MessageID,
		Subject:   email.Subject,
		FromEmail: email.FromEmail,
		FromName:  email.FromName,
		Snippet:   email.Snippet,
	}))
}

// EmailRead announces a read-state change.
func (n *Notifier) EmailRead(ctx context.Context, userID string, emailID int64) {
	n.push(ctx, userID, domain.NewEmailReadEvent(userID, emailID))
}

// RefreshEmails tells clients their email list view is stale.
func (n *Notifier) RefreshEmails(ctx context.Context, userID string) {
	n.push(ctx, userID, domain.NewRefreshEmailsEvent(userID))
}

// InvalidateEmailData drops every cache entry that new or recategorized
// emails could have made stale.
func (n *Notifier) InvalidateEmailData(ctx context.Context, userID string) {
	if n.cache == nil {
		return
	}
	if err := n.cache.DeleteByPrefix(ctx, KeyEmailListPrefix(userID)); err != nil {
		logger.WithError(err).Warn("failed to invalidate email lists for user %s", userID)
	}
	if err := n.cache.Delete(ctx, KeyStats(userID)); err != nil {
		logger.WithError(err).Warn("failed to invalidate stats for user %s", userID)
	}
}

// InvalidateSyncStatus drops the cached sync status.
func (n *Notifier) InvalidateSyncStatus(ctx context.Context, userID string) {
	if n.cache == nil {
		return
	}
	if err := n.cache.Delete(ctx, KeySyncStatus(userID)); err != nil {
		logger.WithError(err).Warn("failed to invalidate sync status for user %s", userID)
	}
}
