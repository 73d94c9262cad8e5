package notify

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"mailsync_server/core/domain"
)

type fakeCache struct {
	mu      stdsync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string][]byte),
		ttls:    make(map[string]time.Duration),
	}
}

func (c *fakeCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *fakeCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
		c.deleted = append(c.deleted, key)
	}
	return nil
}

func (c *fakeCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, prefix+"*")
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	return nil
}

type fakeRealtime struct {
	mu        stdsync.Mutex
	connected bool
	pushed    []*domain.RealtimeEvent
}

func (r *fakeRealtime) Subscribe(userID string) <-chan *domain.RealtimeEvent { return nil }

func (r *fakeRealtime) Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent) {}

func (r *fakeRealtime) Push(ctx context.Context, userID string, event *domain.RealtimeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, event)
	return nil
}

func (r *fakeRealtime) IsConnected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func TestCacheKeys(t *testing.T) {
	if got := KeySyncStatus("u1"); got != "sync:u1" {
		t.Errorf("KeySyncStatus = %q", got)
	}
	if got := KeyStats("u1"); got != "stats:u1" {
		t.Errorf("KeyStats = %q", got)
	}
	if got := KeyEmailListPrefix("u1"); got != "emails:u1:" {
		t.Errorf("KeyEmailListPrefix = %q", got)
	}
	if got := KeyEmail("u1", "m1"); got != "email:u1:m1" {
		t.Errorf("KeyEmail = %q", got)
	}
}

func TestSyncStatusCachesAndPushes(t *testing.T) {
	cache := newFakeCache()
	realtime := &fakeRealtime{connected: true}
	n := NewNotifier(cache, realtime)

	n.SyncStatus(context.Background(), "u1", &domain.SyncStatusEventData{
		Status:      "progress",
		Strategy:    "full",
		SyncedCount: 42,
	})

	if cache.ttls["sync:u1"] != TTLSyncStatus {
		t.Errorf("ttl = %v, want %v", cache.ttls["sync:u1"], TTLSyncStatus)
	}

	cached, ok := n.CachedSyncStatus(context.Background(), "u1")
	if !ok {
		t.Fatal("CachedSyncStatus miss after SyncStatus")
	}
	if cached.Status != "progress" || cached.SyncedCount != 42 {
		t.Errorf("cached = %+v", cached)
	}

	if len(realtime.pushed) != 1 || realtime.pushed[0].Type != domain.EventSyncStatus {
		t.Errorf("pushed = %v, want one sync_status event", realtime.pushed)
	}
}

func TestCachedSyncStatusMiss(t *testing.T) {
	n := NewNotifier(newFakeCache(), nil)
	if _, ok := n.CachedSyncStatus(context.Background(), "u1"); ok {
		t.Error("expected a miss on an empty cache")
	}
}

func TestPushSkipsDisconnectedUser(t *testing.T) {
	realtime := &fakeRealtime{connected: false}
	n := NewNotifier(nil, realtime)

	n.RefreshEmails(context.Background(), "u1")
	n.NewEmail(context.Background(), "u1", &domain.Email{ID: 1, MessageID: "m1"})

	if len(realtime.pushed) != 0 {
		t.Errorf("pushed %d events to a disconnected user", len(realtime.pushed))
	}
}

func TestInvalidateEmailData(t *testing.T) {
	cache := newFakeCache()
	n := NewNotifier(cache, nil)

	cache.SetJSON(context.Background(), "emails:u1:page1", "cached", TTLEmailList)
	cache.SetJSON(context.Background(), "emails:u1:page2", "cached", TTLEmailList)
	cache.SetJSON(context.Background(), "stats:u1", "cached", TTLStats)
	cache.SetJSON(context.Background(), "emails:u2:page1", "cached", TTLEmailList)

	n.InvalidateEmailData(context.Background(), "u1")

	if _, ok := cache.entries["emails:u1:page1"]; ok {
		t.Error("u1 email list page survived invalidation")
	}
	if _, ok := cache.entries["stats:u1"]; ok {
		t.Error("u1 stats survived invalidation")
	}
	if _, ok := cache.entries["emails:u2:page1"]; !ok {
		t.Error("invalidation leaked into another user's entries")
	}
}

func TestNotifierNilPortsAreNoOps(t *testing.T) {
	n := NewNotifier(nil, nil)
	ctx := context.Background()

	// None of these should panic.
	n.SyncStatus(ctx, "u1", &domain.SyncStatusEventData{Status: "started"})
	n.NewEmail(ctx, "u1", &domain.Email{})
	n.EmailRead(ctx, "u1", 1)
	n.RefreshEmails(ctx, "u1")
	n.InvalidateEmailData(ctx, "u1")
	n.InvalidateSyncStatus(ctx, "u1")

	if _, ok := n.CachedSyncStatus(ctx, "u1"); ok {
		t.Error("nil cache should always miss")
	}
}
