// Package protocoltest checks a protocol's handlers against sample requests without a
// network: every send is captured, and sends outside the declared replies are findings.
package protocoltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/morezero/agent-router/pkg/digest"
	"github.com/morezero/agent-router/pkg/dispatch"
	"github.com/morezero/agent-router/pkg/endpoint"
	"github.com/morezero/agent-router/pkg/envelope"
	"github.com/morezero/agent-router/pkg/protocol"
	"github.com/morezero/agent-router/pkg/resolver"
	"github.com/morezero/agent-router/pkg/storage"
)

const (
	// AgentAddress receives the sample requests.
	AgentAddress = "agent1qt0487g004xezsz8cte4827t7y847gzr5n6enwv6rrk09l0cjfl62rmnx79"
	// SenderAddress sends them.
	SenderAddress = "agent1q992tl7j9062ussaunq6vp5p4qaqugkzp8pva3xlszmeg0533k952lz8alf"

	sinkURL = "memory://sink"
)

var testKey = []byte("protocoltest")

// Finding is the outcome of one sample request or interval run that did not pass.
type Finding struct {
	// Name is the request digest or the interval name.
	Name string
	Err  error
}

func (f Finding) String() string { return fmt.Sprintf("%s: %v", f.Name, f.Err) }

// Captured is one message a handler sent.
type Captured struct {
	Destination string
	Envelope    *envelope.Envelope
}

// Harness runs a protocol against an in-memory engine.
type Harness struct {
	Protocol *protocol.Protocol
	Storage  *storage.Memory
	engine   *dispatch.Engine
	sink     *sink
	err      error
}

// New creates a Harness for p. Every destination resolves to an in-memory sink. A
// protocol the engine cannot include is reported by Err, Dispatch and CheckIntervals.
func New(p *protocol.Protocol) *Harness {
	s := &sink{}
	h := &Harness{Protocol: p, Storage: storage.NewMemory(), sink: s}
	h.engine = dispatch.NewEngine(dispatch.Params{
		Signer:   envelope.NewKeyedSigner(AgentAddress, testKey),
		Verifier: envelope.KeyedVerifier{AgentAddress: testKey, SenderAddress: testKey},
		Resolver: resolver.Func(func(_ context.Context, destination string) (string, []endpoint.Endpoint) {
			return destination, []endpoint.Endpoint{{URL: sinkURL, Weight: endpoint.DefaultWeight}}
		}),
		Transport: s,
		Storage:   h.Storage,
	})
	if p == nil {
		h.err = errors.New("protocoltest - nil protocol")
		return h
	}
	if err := h.engine.Include(p); err != nil {
		h.err = fmt.Errorf("protocoltest - include %s: %w", p.Ref(), err)
	}
	return h
}

// Err returns the error from setting up the harness, if any.
func (h *Harness) Err() error { return h.err }

// Dispatch delivers one signed sample request from SenderAddress.
func (h *Harness) Dispatch(ctx context.Context, msg interface{}) (*dispatch.Result, error) {
	if h.err != nil {
		return nil, h.err
	}
	env := envelope.New(envelope.Params{
		Sender:       SenderAddress,
		Target:       AgentAddress,
		SchemaDigest: string(digest.Of(msg)),
		Timeout:      time.Minute,
	})
	if err := env.EncodePayload(msg); err != nil {
		return nil, err
	}
	if err := env.Sign(envelope.NewKeyedSigner(SenderAddress, testKey)); err != nil {
		return nil, err
	}
	return h.engine.Dispatch(ctx, env)
}

// Sent returns every message captured so far.
func (h *Harness) Sent() []Captured {
	return h.sink.all()
}

// Check dispatches each sample and returns the findings: undeliverable samples, handler
// failures and replies outside the declared set.
func (h *Harness) Check(ctx context.Context, samples ...interface{}) []Finding {
	var out []Finding
	for _, msg := range samples {
		name := string(digest.Of(msg))
		res, err := h.Dispatch(ctx, msg)
		if err != nil {
			out = append(out, Finding{Name: name, Err: err})
		}
		if res != nil {
			for _, v := range res.Violations {
				out = append(out, Finding{Name: name, Err: v})
			}
		}
	}
	return out
}

// CheckIntervals runs every interval handler once and returns the findings.
func (h *Harness) CheckIntervals(ctx context.Context) []Finding {
	if h.err != nil {
		return []Finding{{Name: "setup", Err: h.err}}
	}
	var out []Finding
	for _, iv := range h.Protocol.IntervalHandlers() {
		res, err := h.engine.RunInterval(ctx, h.Protocol, iv)
		if err != nil {
			out = append(out, Finding{Name: iv.Name, Err: err})
		}
		if res != nil {
			for _, v := range res.Violations {
				out = append(out, Finding{Name: iv.Name, Err: v})
			}
		}
	}
	return out
}

// Verify fails t for every finding of the samples and of the interval handlers.
func Verify(t testing.TB, p *protocol.Protocol, samples ...interface{}) {
	t.Helper()
	h := New(p)
	if err := h.Err(); err != nil {
		t.Fatalf("%v", err)
	}
	findings := append(h.Check(context.Background(), samples...), h.CheckIntervals(context.Background())...)
	for _, f := range findings {
		t.Errorf("protocoltest - %s %s", p.Ref(), f)
	}
}

type sink struct {
	mu   sync.Mutex
	sent []Captured
}

func (s *sink) Deliver(_ context.Context, _ endpoint.Endpoint, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Captured{Destination: env.Target, Envelope: env})
	return nil
}

func (s *sink) all() []Captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Captured(nil), s.sent...)
}
