package usage

import (
	"context"
	"testing"

	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/infrastructure/messaging"
)

type fakeUsageRepo struct {
	events []*entity.LLMUsageEvent
	err    error
}

func (r *fakeUsageRepo) Create(ctx context.Context, event *entity.LLMUsageEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func TestHandleMessagePersistsUsage(t *testing.T) {
	repo := &fakeUsageRepo{}
	recorder := NewRecorder(repo)

	msg, err := messaging.NewMessage("corr-1", messaging.TypeUsageRecord, "", &messaging.UsageMessage{
		Provider:         "openai",
		Model:            "gpt-4o-mini",
		Workflow:         "narrative_body",
		CorrelationID:    "corr-1",
		TokensPrompt:     120,
		TokensCompletion: 480,
		TokensTotal:      600,
		Cost:             0.0012,
		DurationMs:       1530,
	})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	if err := recorder.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if len(repo.events) != 1 {
		t.Fatalf("events = %d, want 1", len(repo.events))
	}
	got := repo.events[0]
	if got.Provider != "openai" || got.Workflow != "narrative_body" {
		t.Fatalf("event = %+v", got)
	}
	if got.TokensTotal != 600 || got.Cost != 0.0012 || got.DurationMs != 1530 {
		t.Fatalf("event accounting = %+v", got)
	}
	if got.TokensEstimated {
		t.Fatal("vendor-reported usage must not be flagged estimated")
	}
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	recorder := NewRecorder(&fakeUsageRepo{})

	msg := &messaging.Message{ID: "corr-2", Type: messaging.TypeUsageRecord, Payload: []byte(`{"cost": "not-a-number"}`)}
	if err := recorder.HandleMessage(context.Background(), msg); err == nil {
		t.Fatal("expected decode error")
	}
}
