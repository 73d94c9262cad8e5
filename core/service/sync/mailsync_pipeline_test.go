package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
)

var testToken = &oauth2.Token{AccessToken: "test-token"}

func TestProcessPageSkipsKnownMessages(t *testing.T) {
	emails := newFakeEmailRepo()
	emails.existing["m1"] = struct{}{}

	provider := &fakeProvider{
		messages: map[string]*out.RawMessage{
			"m2": rawTextMessage("m2", time.Now().UnixMilli()),
		},
	}
	p := NewPipeline(provider, emails, newFakeBodyRepo(), &fakeProducer{}, nil)

	refs := []out.MessageRef{{ID: "m1"}, {ID: "m2"}}
	result, err := p.ProcessPage(context.Background(), "u1", testToken, refs, domain.StrategyQuick)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}

	if result.Listed != 2 {
		t.Errorf("Listed = %d, want 2", result.Listed)
	}
	if result.New != 1 {
		t.Errorf("New = %d, want 1 (m1 already stored)", result.New)
	}
	if result.Persisted != 1 {
		t.Errorf("Persisted = %d, want 1", result.Persisted)
	}
	if len(emails.stored) != 1 || emails.stored[0].MessageID != "m2" {
		t.Errorf("stored = %v, want only m2", emails.stored)
	}
}

func TestProcessPageToleratesFetchFailures(t *testing.T) {
	emails := newFakeEmailRepo()
	provider := &fakeProvider{
		messages: map[string]*out.RawMessage{
			"ok": rawTextMessage("ok", time.Now().UnixMilli()),
		},
		fetchErr: map[string]error{
			"bad": errors.New("transient provider error"),
		},
	}
	p := NewPipeline(provider, emails, newFakeBodyRepo(), &fakeProducer{}, nil)

	refs := []out.MessageRef{{ID: "ok"}, {ID: "bad"}}
	result, err := p.ProcessPage(context.Background(), "u1", testToken, refs, domain.StrategyQuick)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}

	if result.Persisted != 1 {
		t.Errorf("Persisted = %d, want 1", result.Persisted)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
}

func TestProcessPagePersistsNewestFirst(t *testing.T) {
	emails := newFakeEmailRepo()
	now := time.Now()
	provider := &fakeProvider{
		messages: map[string]*out.RawMessage{
			"old": rawTextMessage("old", now.Add(-time.Hour).UnixMilli()),
			"new": rawTextMessage("new", now.UnixMilli()),
			"mid": rawTextMessage("mid", now.Add(-30*time.Minute).UnixMilli()),
		},
	}
	p := NewPipeline(provider, emails, newFakeBodyRepo(), &fakeProducer{}, nil)

	refs := []out.MessageRef{{ID: "old"}, {ID: "new"}, {ID: "mid"}}
	if _, err := p.ProcessPage(context.Background(), "u1", testToken, refs, domain.StrategyQuick); err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}

	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if emails.stored[i].MessageID != id {
			t.Errorf("stored[%d] = %q, want %q", i, emails.stored[i].MessageID, id)
		}
	}
}

func TestProcessPageFallsBackToPerItemWrites(t *testing.T) {
	emails := newFakeEmailRepo()
	emails.bulkErr = errors.New("bulk write rejected")
	emails.upsertErrs = map[string]error{"poison": errors.New("bad row")}

	provider := &fakeProvider{
		messages: map[string]*out.RawMessage{
			"good":   rawTextMessage("good", time.Now().UnixMilli()),
			"poison": rawTextMessage("poison", time.Now().UnixMilli()),
		},
	}
	p := NewPipeline(provider, emails, newFakeBodyRepo(), &fakeProducer{}, nil)

	refs := []out.MessageRef{{ID: "good"}, {ID: "poison"}}
	result, err := p.ProcessPage(context.Background(), "u1", testToken, refs, domain.StrategyQuick)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}

	if result.Persisted != 1 {
		t.Errorf("Persisted = %d, want 1 (poison row dropped)", result.Persisted)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
}

func TestProcessPageFansOut(t *testing.T) {
	emails := newFakeEmailRepo()
	bodies := newFakeBodyRepo()
	producer := &fakeProducer{}
	provider := &fakeProvider{
		messages: map[string]*out.RawMessage{
			"m1": rawTextMessage("m1", time.Now().UnixMilli()),
			"m2": rawTextMessage("m2", time.Now().UnixMilli()),
		},
	}
	p := NewPipeline(provider, emails, bodies, producer, nil)

	refs := []out.MessageRef{{ID: "m1"}, {ID: "m2"}}
	if _, err := p.ProcessPage(context.Background(), "u1", testToken, refs, domain.StrategyFull); err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}

	if len(producer.catJobs) != 2 {
		t.Fatalf("enqueued %d categorize jobs, want 2", len(producer.catJobs))
	}
	for _, job := range producer.catJobs {
		if job.Lane != domain.LaneLow {
			t.Errorf("categorize lane = %v, want low for full sync", job.Lane)
		}
		if job.EmailID == 0 {
			t.Error("categorize job should carry the stored email ID")
		}
	}

	if len(bodies.bodies) != 2 {
		t.Errorf("saved %d bodies, want 2", len(bodies.bodies))
	}
}

func TestProcessPageEmptyPage(t *testing.T) {
	p := NewPipeline(&fakeProvider{}, newFakeEmailRepo(), newFakeBodyRepo(), &fakeProducer{}, nil)

	result, err := p.ProcessPage(context.Background(), "u1", testToken, nil, domain.StrategyQuick)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}
	if result.Listed != 0 || result.Persisted != 0 {
		t.Errorf("result = %+v, want all zero", result)
	}
}
