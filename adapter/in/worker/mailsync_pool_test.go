package worker

import (
	"testing"
	"time"
)

func TestRateLimiterAllowConsumesTokens(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() call %d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() after bucket drained = true, want false")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Millisecond)

	rl.Allow()
	rl.Allow()
	if rl.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)
	if !rl.Allow() {
		t.Error("Allow() after refill interval = false, want true")
	}
}

func TestRateLimiterRefillCapsAtMax(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Millisecond)

	// Several intervals pass; the bucket must not exceed its capacity.
	time.Sleep(50 * time.Millisecond)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d requests after a long idle, want 2", allowed)
	}
}

func TestRateLimiterSetRate(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	rl.Allow()
	rl.SetRate(5)

	time.Sleep(25 * time.Millisecond)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed %d requests after SetRate(5), want 5", allowed)
	}
}

func TestMessagePriority(t *testing.T) {
	normal := NewMessage(JobSyncPage, map[string]any{"user_id": "u1"})
	if normal.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want normal", normal.Priority)
	}
	if normal.IsPriority() {
		t.Error("normal message must not route to the priority queue")
	}
	if normal.ID == "" {
		t.Error("message should get a generated ID")
	}

	high := NewPriorityMessage(JobSyncPage, nil, PriorityHigh)
	if !high.IsPriority() {
		t.Error("high-priority message should route to the priority queue")
	}

	critical := NewPriorityMessage(JobCategorizeEmail, nil, PriorityCritical)
	if !critical.IsPriority() {
		t.Error("critical message should route to the priority queue")
	}

	low := NewPriorityMessage(JobSyncPage, nil, PriorityLow)
	if low.IsPriority() {
		t.Error("low-priority message must not route to the priority queue")
	}
}
