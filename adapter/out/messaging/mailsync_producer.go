// Package messaging provides the Redis Streams queue adapters.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"mailsync_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamSyncJobs       = "sync:jobs"
	StreamCategorizeJobs = "categorize:jobs"
)

// Streams lists every job stream a worker consumes.
var Streams = []string{StreamSyncJobs, StreamCategorizeJobs}

// RedisProducer implements out.MessageProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishSyncPage publishes a sync page job.
func (p *RedisProducer) PublishSyncPage(ctx context.Context, job *out.SyncPageJob) error {
	return p.publish(ctx, StreamSyncJobs, job)
}

// PublishCategorize publishes a categorization job.
func (p *RedisProducer) PublishCategorize(ctx context.Context, job *out.CategorizeJob) error {
	return p.publish(ctx, StreamCategorizeJobs, job)
}

// publish serializes the job and appends it to the stream.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

var _ out.MessageProducer = (*RedisProducer)(nil)

// =============================================================================
// Queue administration
// =============================================================================

// RedisQueueAdmin implements out.QueueAdmin over the job streams and their
// dead letter counterparts.
type RedisQueueAdmin struct {
	client *redis.Client
	group  string
}

func NewRedisQueueAdmin(client *redis.Client, group string) *RedisQueueAdmin {
	return &RedisQueueAdmin{client: client, group: group}
}

// Stats reports length and pending count per stream, DLQ streams included.
func (a *RedisQueueAdmin) Stats(ctx context.Context) ([]out.QueueStats, error) {
	var stats []out.QueueStats

	for _, stream := range Streams {
		length, err := a.client.XLen(ctx, stream).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to get length of %s: %w", stream, err)
		}

		var pendingCount int64
		pending, err := a.client.XPending(ctx, stream, a.group).Result()
		if err == nil && pending != nil {
			pendingCount = pending.Count
		}

		stats = append(stats, out.QueueStats{Stream: stream, Length: length, Pending: pendingCount})

		dlqStream := "dlq:" + stream
		dlqLen, err := a.client.XLen(ctx, dlqStream).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to get length of %s: %w", dlqStream, err)
		}
		stats = append(stats, out.QueueStats{Stream: dlqStream, Length: dlqLen})
	}

	return stats, nil
}

// TrimCompleted caps each job stream at maxLen entries, dropping the oldest.
// Returns the total number of entries removed.
func (a *RedisQueueAdmin) TrimCompleted(ctx context.Context, maxLen int64) (int64, error) {
	var trimmed int64
	for _, stream := range Streams {
		before, err := a.client.XLen(ctx, stream).Result()
		if err != nil && err != redis.Nil {
			return trimmed, fmt.Errorf("failed to get length of %s: %w", stream, err)
		}
		if before <= maxLen {
			continue
		}
		if err := a.client.XTrimMaxLen(ctx, stream, maxLen).Err(); err != nil {
			return trimmed, fmt.Errorf("failed to trim %s: %w", stream, err)
		}
		trimmed += before - maxLen
	}
	return trimmed, nil
}

var _ out.QueueAdmin = (*RedisQueueAdmin)(nil)
