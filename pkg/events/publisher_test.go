package events

import (
	"context"
	"errors"
	"testing"

	"github.com/morezero/agent-router/pkg/agenterr"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.PublishReport(context.Background(), &ReportEvent{
		Agent: "agent1q",
		Code:  "UNROUTABLE_ADDRESS",
	})
	if err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *ReportEvent

	pub := NewCallbackPublisher(func(_ context.Context, event *ReportEvent) error {
		captured = event
		return nil
	})

	event := &ReportEvent{
		Agent:     "agent1q",
		Code:      "INVALID_REPLY",
		Message:   "reply not declared",
		Timestamp: "2026-01-01T00:00:00Z",
	}
	if err := pub.PublishReport(context.Background(), event); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
	if captured == nil {
		t.Fatal("events:publisher_test - expected callback to be called")
	}
	if captured.Code != "INVALID_REPLY" {
		t.Errorf("events:publisher_test - expected code INVALID_REPLY, got %s", captured.Code)
	}
}

func TestCallbackPublisher_Error(t *testing.T) {
	pub := NewCallbackPublisher(func(_ context.Context, _ *ReportEvent) error {
		return errors.New("publish failed")
	})

	if err := pub.PublishReport(context.Background(), &ReportEvent{}); err == nil {
		t.Fatal("events:publisher_test - expected error from callback")
	}
}

func TestMultiPublisher(t *testing.T) {
	calls := 0
	count := NewCallbackPublisher(func(_ context.Context, _ *ReportEvent) error {
		calls++
		return nil
	})
	failing := NewCallbackPublisher(func(_ context.Context, _ *ReportEvent) error {
		calls++
		return errors.New("first failure")
	})

	multi := MultiPublisher{failing, &NoOpPublisher{}, count}
	err := multi.PublishReport(context.Background(), &ReportEvent{})
	if err == nil || err.Error() != "first failure" {
		t.Errorf("events:publisher_test - expected first failure, got %v", err)
	}
	if calls != 2 {
		t.Errorf("events:publisher_test - expected every publisher called, got %d calls", calls)
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{
			name:     "domain error",
			err:      agenterr.New(agenterr.CodeUnroutable, "no endpoints for %s", "agent1q"),
			wantCode: "UNROUTABLE_ADDRESS",
			wantMsg:  "no endpoints for agent1q",
		},
		{
			name:     "wrapped domain error",
			err:      errors.Join(errors.New("ctx"), agenterr.New(agenterr.CodeRegistrationFailure, "fee too low")),
			wantCode: "REGISTRATION_FAILURE",
			wantMsg:  "fee too low",
		},
		{
			name:     "plain error",
			err:      errors.New("panic: nil map"),
			wantCode: "HANDLER_FAILURE",
			wantMsg:  "panic: nil map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := FromError("agent1q", tt.err)
			if ev.Code != tt.wantCode {
				t.Errorf("events:publisher_test - Code = %q, want %q", ev.Code, tt.wantCode)
			}
			if ev.Message != tt.wantMsg {
				t.Errorf("events:publisher_test - Message = %q, want %q", ev.Message, tt.wantMsg)
			}
			if ev.Agent != "agent1q" || ev.Timestamp == "" {
				t.Errorf("events:publisher_test - unexpected event %+v", ev)
			}
		})
	}
}
