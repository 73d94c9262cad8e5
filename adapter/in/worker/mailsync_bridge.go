package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"mailsync_server/adapter/out/messaging"
	"mailsync_server/core/domain"
)

// StreamBridge adapts stream deliveries into pool messages. High-priority
// jobs are routed to the pool's priority queue so a deep full-sync backlog
// cannot delay a user-initiated quick sync.
type StreamBridge struct {
	pool *Pool
}

func NewStreamBridge(pool *Pool) *StreamBridge {
	return &StreamBridge{pool: pool}
}

// Handle implements messaging.JobHandler. A false submit (pool stopped or
// rate limited) returns an error so the message stays pending and is
// re-claimed later.
func (b *StreamBridge) Handle(ctx context.Context, stream string, data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job from %s: %w", stream, err)
	}

	var msg *Message
	switch stream {
	case messaging.StreamSyncJobs:
		msg = NewPriorityMessage(JobSyncPage, payload, syncPriority(payload))
	case messaging.StreamCategorizeJobs:
		msg = NewPriorityMessage(JobCategorizeEmail, payload, categorizePriority(payload))
	default:
		return fmt.Errorf("unknown stream: %s", stream)
	}

	var submitted bool
	if msg.IsPriority() {
		submitted = b.pool.SubmitPriority(msg)
	} else {
		submitted = b.pool.Submit(msg)
	}
	if !submitted {
		return fmt.Errorf("pool rejected job from %s", stream)
	}
	return nil
}

// syncPriority maps the job's strategy priority to a pool priority.
func syncPriority(payload map[string]any) Priority {
	if v, ok := payload["priority"].(float64); ok && domain.Priority(v) >= domain.PriorityHigh {
		return PriorityHigh
	}
	return PriorityNormal
}

// categorizePriority maps the job's lane to a pool priority.
func categorizePriority(payload map[string]any) Priority {
	if v, ok := payload["lane"].(float64); ok && domain.Lane(v) == domain.LaneHigh {
		return PriorityHigh
	}
	return PriorityNormal
}
