// Package dispatch runs an agent's protocols: it dispatches inbound envelopes to
// handlers by schema digest, validates what handlers send, delivers outbound messages
// through the resolver and transport, and drives interval handlers.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/agent-router/pkg/digest"
	"github.com/morezero/agent-router/pkg/endpoint"
	"github.com/morezero/agent-router/pkg/envelope"
	"github.com/morezero/agent-router/pkg/events"
	"github.com/morezero/agent-router/pkg/protocol"
	"github.com/morezero/agent-router/pkg/resolver"
	"github.com/morezero/agent-router/pkg/semver"
	"github.com/morezero/agent-router/pkg/storage"
)

const logPrefix = "dispatch:engine"

const (
	// DefaultConcurrency bounds concurrently running handler invocations.
	DefaultConcurrency = 64
	// DefaultQueueSize is the inbound envelope buffer used by Submit.
	DefaultQueueSize = 1024
)

// Transport delivers an envelope to one endpoint.
type Transport interface {
	Deliver(ctx context.Context, ep endpoint.Endpoint, env *envelope.Envelope) error
}

// Params holds the collaborators for NewEngine.
type Params struct {
	// Address is the agent's own address. It is replaced by Signer.Address() when a
	// Signer is set.
	Address string
	Signer  envelope.Signer
	// Verifier checks signed inbound envelopes. Without one, handlers that require a
	// signature reject every envelope.
	Verifier  envelope.Verifier
	Resolver  resolver.Resolver
	Transport Transport
	Storage   storage.KV
	Publisher events.Publisher

	Concurrency     int
	QueueSize       int
	EnvelopeTimeout time.Duration
	Clock           func() time.Time
	Logger          *slog.Logger
}

type route struct {
	protocol *protocol.Protocol
	handler  *protocol.Handler
}

// Engine dispatches envelopes for one agent.
type Engine struct {
	address   string
	signer    envelope.Signer
	verifier  envelope.Verifier
	resolver  resolver.Resolver
	transport Transport
	storage   storage.KV
	publisher events.Publisher

	concurrency int
	timeout     time.Duration
	clock       func() time.Time
	logger      *slog.Logger

	mu        sync.RWMutex
	routes    map[digest.Digest]route
	protocols []*protocol.Protocol

	queue   chan *envelope.Envelope
	nonce   atomic.Uint64
	running atomic.Bool
}

// NewEngine creates an Engine. Missing collaborators get in-process defaults: an empty
// resolver, in-memory storage and a no-op publisher.
func NewEngine(p Params) *Engine {
	e := &Engine{
		address:     p.Address,
		signer:      p.Signer,
		verifier:    p.Verifier,
		resolver:    p.Resolver,
		transport:   p.Transport,
		storage:     p.Storage,
		publisher:   p.Publisher,
		concurrency: p.Concurrency,
		timeout:     p.EnvelopeTimeout,
		clock:       p.Clock,
		logger:      p.Logger,
		routes:      make(map[digest.Digest]route),
	}
	if e.signer != nil {
		e.address = e.signer.Address()
	}
	if e.resolver == nil {
		e.resolver = resolver.NewRulesBased(nil)
	}
	if e.storage == nil {
		e.storage = storage.NewMemory()
	}
	if e.publisher == nil {
		e.publisher = &events.NoOpPublisher{}
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	if e.timeout <= 0 {
		e.timeout = envelope.DefaultTimeout
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	queueSize := p.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e.queue = make(chan *envelope.Envelope, queueSize)
	return e
}

// Address returns the agent address envelopes are sent from and accepted for.
func (e *Engine) Address() string { return e.address }

// Include adds a protocol's handlers. A digest already handled by an earlier protocol
// is taken over by the new one. Including a protocol twice is a no-op. Protocols cannot
// be added once Run has started.
func (e *Engine) Include(p *protocol.Protocol) error {
	if e.running.Load() {
		return fmt.Errorf("%s - cannot include %s after the engine started", logPrefix, p.Ref())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, included := range e.protocols {
		if included == p {
			return nil
		}
	}
	for _, h := range p.Handlers() {
		if prev, ok := e.routes[h.Digest]; ok && prev.protocol != p {
			slog.Warn(fmt.Sprintf("%s - %s replaces %s as handler for %s", logPrefix, p.Ref(), prev.protocol.Ref(), h.Digest))
		}
		e.routes[h.Digest] = route{protocol: p, handler: h}
	}
	e.protocols = append(e.protocols, p)
	slog.Info(fmt.Sprintf("%s - Included protocol %s (%d handlers, %d intervals)", logPrefix, p.Ref(), len(p.Models()), len(p.IntervalHandlers())))
	return nil
}

// Protocols returns the included protocols in inclusion order.
func (e *Engine) Protocols() []*protocol.Protocol {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*protocol.Protocol(nil), e.protocols...)
}

// FindProtocol returns the highest included protocol matching ref ("name" or
// "name@range").
func (e *Engine) FindProtocol(ref string) (*protocol.Protocol, bool) {
	parsed, err := semver.ParseProtocolRef(ref)
	if err != nil {
		return nil, false
	}
	versions := make(map[string]*protocol.Protocol)
	var candidates []string
	for _, p := range e.Protocols() {
		if p.Name() == parsed.Name {
			versions[p.Version()] = p
			candidates = append(candidates, p.Version())
		}
	}
	v, ok := semver.ResolveVersion(candidates, parsed.Range)
	if !ok {
		return nil, false
	}
	return versions[v], true
}

// Handler returns the handler and declared reply digests registered for d.
func (e *Engine) Handler(d digest.Digest) (*protocol.Handler, []digest.Digest, bool) {
	e.mu.RLock()
	rt, ok := e.routes[d]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	return rt.handler, rt.protocol.Replies(d), true
}

// report publishes err as a report event and returns it.
func (e *Engine) report(ctx context.Context, err error) error {
	slog.Warn(fmt.Sprintf("%s - %s: %v", logPrefix, e.address, err))
	if perr := e.publisher.PublishReport(ctx, events.FromError(e.address, err)); perr != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish report: %v", logPrefix, perr))
	}
	return err
}

// invoke runs fn, converting a panic into an error.
func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
