package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/agent-router/pkg/digest"
)

type bookTable struct {
	Table int `json:"table"`
}

type bookingConfirmed struct {
	Table int `json:"table"`
	Seat  int `json:"seat"`
}

type bookingRejected struct {
	Reason string `json:"reason"`
}

type heartbeat struct {
	At int64 `json:"at"`
}

func newBookingProtocol(t *testing.T) *Protocol {
	t.Helper()
	p, err := New("booking", "1.2.0")
	if err != nil {
		t.Fatalf("protocol:protocol_test - New failed: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("booking", "1.2"); err == nil {
		t.Error("protocol:protocol_test - expected error for non-strict version")
	}
	if _, err := New("", "1.0.0"); err == nil {
		t.Error("protocol:protocol_test - expected error for empty name")
	}
	p := MustNew("booking", "1.0.0")
	if p.Ref() != "booking@1.0.0" {
		t.Errorf("protocol:protocol_test - Ref = %q", p.Ref())
	}
}

func TestOn_RegistersByDigest(t *testing.T) {
	p := newBookingProtocol(t)
	d := On(p, func(ctx *Context, sender string, msg bookTable) error { return nil },
		Replies(bookingConfirmed{}, bookingRejected{}))

	if d != digest.Of(bookTable{}) {
		t.Errorf("protocol:protocol_test - On returned %s, want digest of bookTable", d)
	}
	h, ok := p.Handler(d)
	if !ok {
		t.Fatal("protocol:protocol_test - handler not found")
	}
	if h.AllowUnsigned {
		t.Error("protocol:protocol_test - handlers require signatures by default")
	}

	replies := p.Replies(d)
	if len(replies) != 2 {
		t.Fatalf("protocol:protocol_test - Replies = %v", replies)
	}
	want := map[digest.Digest]bool{digest.Of(bookingConfirmed{}): true, digest.Of(bookingRejected{}): true}
	for _, r := range replies {
		if !want[r] {
			t.Errorf("protocol:protocol_test - unexpected reply %s", r)
		}
	}

	if _, ok := p.Handler(digest.Of(heartbeat{})); ok {
		t.Error("protocol:protocol_test - unexpected handler for heartbeat")
	}
	if p.Replies(digest.Of(heartbeat{})) != nil {
		t.Error("protocol:protocol_test - expected nil replies for unknown digest")
	}
}

func TestOn_OverwriteReplacesHandler(t *testing.T) {
	p := newBookingProtocol(t)
	var calls []string
	On(p, func(ctx *Context, sender string, msg bookTable) error {
		calls = append(calls, "first")
		return nil
	}, Replies(bookingRejected{}))
	d := On(p, func(ctx *Context, sender string, msg bookTable) error {
		calls = append(calls, "second")
		return nil
	}, AllowUnsigned())

	if len(p.Models()) != 1 {
		t.Fatalf("protocol:protocol_test - Models = %v, want one digest", p.Models())
	}
	h, _ := p.Handler(d)
	h.Handle(NewContext(context.Background(), ContextParams{}), "sender", bookTable{})
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("protocol:protocol_test - calls = %v, want [second]", calls)
	}
	if !h.AllowUnsigned || len(p.Replies(d)) != 0 {
		t.Error("protocol:protocol_test - replacement must not inherit earlier options")
	}
}

func TestHandler_DecodeStrict(t *testing.T) {
	p := newBookingProtocol(t)
	d := On(p, func(ctx *Context, sender string, msg bookTable) error { return nil })
	h, _ := p.Handler(d)

	got, err := h.Decode([]byte(`{"table":7}`))
	if err != nil {
		t.Fatalf("protocol:protocol_test - Decode failed: %v", err)
	}
	if got.(bookTable).Table != 7 {
		t.Errorf("protocol:protocol_test - decoded %+v", got)
	}
	if _, err := h.Decode([]byte(`{"table":7,"extra":1}`)); err == nil {
		t.Error("protocol:protocol_test - expected unknown field to be rejected")
	}
}

func TestOnInterval(t *testing.T) {
	p := newBookingProtocol(t)
	p.OnInterval("heartbeat", time.Second, func(ctx *Context) error { return nil }, heartbeat{})
	p.OnInterval("sweep", time.Minute, func(ctx *Context) error { return nil })

	intervals := p.IntervalHandlers()
	if len(intervals) != 2 || intervals[0].Name != "heartbeat" || intervals[1].Period != time.Minute {
		t.Errorf("protocol:protocol_test - IntervalHandlers = %+v", intervals)
	}
	msgs := p.IntervalMessages()
	if len(msgs) != 1 || msgs[0] != digest.Of(heartbeat{}) {
		t.Errorf("protocol:protocol_test - IntervalMessages = %v", msgs)
	}
	if !p.AllowsIntervalMessage(digest.Of(heartbeat{})) || p.AllowsIntervalMessage(digest.Of(bookTable{})) {
		t.Error("protocol:protocol_test - AllowsIntervalMessage wrong")
	}

	empty := newBookingProtocol(t)
	if !empty.AllowsIntervalMessage(digest.Of(bookTable{})) {
		t.Error("protocol:protocol_test - empty interval set must allow everything")
	}

	defer func() {
		if recover() == nil {
			t.Error("protocol:protocol_test - expected panic for zero period")
		}
	}()
	p.OnInterval("bad", 0, func(ctx *Context) error { return nil })
}

func TestDigest_ChangesWithContents(t *testing.T) {
	a := newBookingProtocol(t)
	b := newBookingProtocol(t)
	if a.Digest() != b.Digest() {
		t.Error("protocol:protocol_test - empty protocols with the same ref must share a digest")
	}

	On(a, func(ctx *Context, sender string, msg bookTable) error { return nil })
	if a.Digest() == b.Digest() {
		t.Error("protocol:protocol_test - adding a handler must change the digest")
	}

	On(b, func(ctx *Context, sender string, msg bookTable) error { return nil }, Replies(bookingConfirmed{}))
	if a.Digest() == b.Digest() {
		t.Error("protocol:protocol_test - declared replies must change the digest")
	}

	c := MustNew("booking", "1.3.0")
	On(c, func(ctx *Context, sender string, msg bookTable) error { return nil })
	if a.Digest() == c.Digest() {
		t.Error("protocol:protocol_test - version must change the digest")
	}
}

func TestManifest(t *testing.T) {
	p := newBookingProtocol(t)
	On(p, func(ctx *Context, sender string, msg bookTable) error { return nil }, Replies(bookingConfirmed{}))
	p.OnInterval("heartbeat", time.Second, func(ctx *Context) error { return nil }, heartbeat{})

	m := p.Manifest()
	if m.Name != "booking" || m.Version != "1.2.0" || m.Digest != p.Digest() {
		t.Errorf("protocol:protocol_test - manifest header = %+v", m)
	}
	if len(m.Models) != 3 {
		t.Errorf("protocol:protocol_test - Models = %d, want 3", len(m.Models))
	}
	if len(m.Interactions) != 1 || m.Interactions[0].Request != digest.Of(bookTable{}) {
		t.Fatalf("protocol:protocol_test - Interactions = %+v", m.Interactions)
	}
	if len(m.Interactions[0].Responses) != 1 || m.Interactions[0].Responses[0] != digest.Of(bookingConfirmed{}) {
		t.Errorf("protocol:protocol_test - Responses = %v", m.Interactions[0].Responses)
	}
}

func TestCompatible(t *testing.T) {
	p := newBookingProtocol(t)
	tests := []struct {
		constraint string
		want       bool
	}{
		{"^1.0.0", true},
		{"~1.2.0", true},
		{">=1.3.0", false},
		{"1", true},
		{"2", false},
	}
	for _, tt := range tests {
		got, err := p.Compatible(tt.constraint)
		if err != nil || got != tt.want {
			t.Errorf("protocol:protocol_test - Compatible(%q) = %v, %v; want %v", tt.constraint, got, err, tt.want)
		}
	}
	if _, err := p.Compatible("not a constraint"); err == nil {
		t.Error("protocol:protocol_test - expected error for bad constraint")
	}
}

type recordingSender struct {
	sessions []uuid.UUID
	fail     bool
}

func (s *recordingSender) Send(ctx context.Context, destination string, session uuid.UUID, msg interface{}) error {
	s.sessions = append(s.sessions, session)
	if s.fail {
		return errors.New("no route")
	}
	return nil
}

func TestContext_SendRecords(t *testing.T) {
	sender := &recordingSender{}
	session := uuid.New()
	ctx := NewContext(context.Background(), ContextParams{Address: "me", Session: session, Sender: sender})

	if err := ctx.Send("peer", bookingConfirmed{Table: 1}); err != nil {
		t.Fatalf("protocol:protocol_test - Send failed: %v", err)
	}
	sender.fail = true
	if err := ctx.Send("peer", bookingRejected{}); err == nil {
		t.Error("protocol:protocol_test - expected send error")
	}

	sent := ctx.Sent()
	if len(sent) != 2 {
		t.Fatalf("protocol:protocol_test - Sent = %d, want 2", len(sent))
	}
	if sent[0].Digest != digest.Of(bookingConfirmed{}) || sent[1].Err == nil {
		t.Errorf("protocol:protocol_test - Sent = %+v", sent)
	}
	for _, s := range sender.sessions {
		if s != session {
			t.Error("protocol:protocol_test - sends must keep the context session")
		}
	}

	orphan := NewContext(context.Background(), ContextParams{})
	if orphan.Session == uuid.Nil || orphan.Logger == nil {
		t.Error("protocol:protocol_test - NewContext must fill session and logger")
	}
	if err := orphan.Send("peer", heartbeat{}); err == nil {
		t.Error("protocol:protocol_test - expected error without sender")
	}
}
