// Package protocol holds the handler registry of one agent protocol: message handlers
// keyed by schema digest, their declared replies, and interval handlers.
//
// A Protocol is built during agent setup and is read-only once dispatch starts.
package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/morezero/agent-router/pkg/commsutil"
	"github.com/morezero/agent-router/pkg/digest"
	"github.com/morezero/agent-router/pkg/semver"
)

const logPrefix = "protocol:protocol"

var errNoSender = errors.New("protocol: context has no sender")

// HandlerFunc is the type-erased form of a message handler.
type HandlerFunc func(ctx *Context, sender string, msg interface{}) error

// IntervalFunc is invoked once per period.
type IntervalFunc func(ctx *Context) error

// Handler is one registered message handler.
type Handler struct {
	Digest digest.Digest
	Model  reflect.Type
	// Replies maps each acceptable reply digest to its type. Empty means unchecked.
	Replies map[digest.Digest]reflect.Type
	// AllowUnsigned accepts envelopes without a signature.
	AllowUnsigned bool
	Handle        HandlerFunc

	decode func(data []byte) (interface{}, error)
}

// Decode unmarshals a payload into the handler's model, rejecting fields the model does
// not declare.
func (h *Handler) Decode(data []byte) (interface{}, error) {
	return h.decode(data)
}

// Interval is one registered interval handler.
type Interval struct {
	Name   string
	Period time.Duration
	Handle IntervalFunc
}

// Protocol is a named, versioned set of handlers.
type Protocol struct {
	name    string
	version string

	handlers         map[digest.Digest]*Handler
	models           map[digest.Digest]reflect.Type
	intervals        []Interval
	intervalMessages map[digest.Digest]reflect.Type
}

// New creates an empty protocol. version must be a strict semantic version.
func New(name, version string) (*Protocol, error) {
	if !semver.ValidateProtocolName(name) {
		return nil, fmt.Errorf("%s - invalid protocol name %q", logPrefix, name)
	}
	v, err := semver.Normalize(version)
	if err != nil {
		return nil, fmt.Errorf("%s - protocol %s: %w", logPrefix, name, err)
	}
	return &Protocol{
		name:             name,
		version:          v,
		handlers:         make(map[digest.Digest]*Handler),
		models:           make(map[digest.Digest]reflect.Type),
		intervalMessages: make(map[digest.Digest]reflect.Type),
	}, nil
}

// MustNew is New that panics on error, for protocols declared at package level.
func MustNew(name, version string) *Protocol {
	p, err := New(name, version)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Protocol) Name() string    { return p.name }
func (p *Protocol) Version() string { return p.version }

// Ref returns "name@version".
func (p *Protocol) Ref() string { return p.name + "@" + p.version }

// HandlerOption configures a message handler.
type HandlerOption func(*Handler)

// Replies declares the message types the handler may send. Pass zero values.
func Replies(models ...interface{}) HandlerOption {
	return func(h *Handler) {
		for _, m := range models {
			t := reflect.TypeOf(m)
			h.Replies[digest.ForType(t)] = t
		}
	}
}

// AllowUnsigned lets the handler accept unsigned envelopes.
func AllowUnsigned() HandlerOption {
	return func(h *Handler) { h.AllowUnsigned = true }
}

// On registers fn for messages of type M and returns the schema digest it is keyed by.
// Registering a digest again replaces the earlier handler.
func On[M any](p *Protocol, fn func(ctx *Context, sender string, msg M) error, opts ...HandlerOption) digest.Digest {
	t := reflect.TypeOf((*M)(nil)).Elem()
	d := digest.ForType(t)
	h := &Handler{
		Digest:  d,
		Model:   t,
		Replies: make(map[digest.Digest]reflect.Type),
		Handle: func(ctx *Context, sender string, msg interface{}) error {
			return fn(ctx, sender, msg.(M))
		},
		decode: func(data []byte) (interface{}, error) {
			var m M
			if err := commsutil.DecodeStrict(data, &m); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	p.add(h)
	return d
}

func (p *Protocol) add(h *Handler) {
	if prev, ok := p.handlers[h.Digest]; ok {
		slog.Warn(fmt.Sprintf("%s - %s: replacing handler for %s (%s)", logPrefix, p.Ref(), h.Digest, prev.Model))
	}
	p.handlers[h.Digest] = h
	p.models[h.Digest] = h.Model
}

// OnInterval registers fn to run every period. messages declares the types interval
// handlers of this protocol may send; they join a protocol-wide set.
func (p *Protocol) OnInterval(name string, period time.Duration, fn IntervalFunc, messages ...interface{}) {
	if period <= 0 {
		panic(fmt.Sprintf("%s - interval %s must have a positive period", logPrefix, name))
	}
	p.intervals = append(p.intervals, Interval{Name: name, Period: period, Handle: fn})
	for _, m := range messages {
		t := reflect.TypeOf(m)
		p.intervalMessages[digest.ForType(t)] = t
	}
}

// Handler returns the handler registered for d.
func (p *Protocol) Handler(d digest.Digest) (*Handler, bool) {
	h, ok := p.handlers[d]
	return h, ok
}

// Replies returns the declared reply digests for d, sorted.
func (p *Protocol) Replies(d digest.Digest) []digest.Digest {
	h, ok := p.handlers[d]
	if !ok {
		return nil
	}
	return sortedKeys(h.Replies)
}

// IntervalHandlers returns the interval handlers in registration order.
func (p *Protocol) IntervalHandlers() []Interval {
	return append([]Interval(nil), p.intervals...)
}

// IntervalMessages returns the digests interval handlers may send, sorted.
func (p *Protocol) IntervalMessages() []digest.Digest {
	return sortedKeys(p.intervalMessages)
}

// AllowsIntervalMessage reports whether interval handlers may send d. An empty set
// allows everything.
func (p *Protocol) AllowsIntervalMessage(d digest.Digest) bool {
	if len(p.intervalMessages) == 0 {
		return true
	}
	_, ok := p.intervalMessages[d]
	return ok
}

// Handlers returns the registered handlers sorted by digest.
func (p *Protocol) Handlers() []*Handler {
	out := make([]*Handler, 0, len(p.handlers))
	for _, d := range p.Models() {
		out = append(out, p.handlers[d])
	}
	return out
}

// Models returns the digests of accepted messages, sorted.
func (p *Protocol) Models() []digest.Digest {
	return sortedKeys(p.models)
}

// Digest returns the protocol manifest digest.
func (p *Protocol) Digest() digest.Digest {
	replies := make(map[digest.Digest][]digest.Digest, len(p.handlers))
	for d, h := range p.handlers {
		replies[d] = sortedKeys(h.Replies)
	}
	return digest.Protocol(p.name, p.version, p.Models(), replies)
}

// Compatible reports whether the protocol version satisfies constraint
// (e.g. "^1.2.0" or "1").
func (p *Protocol) Compatible(constraint string) (bool, error) {
	if semver.IsMajorOnly(constraint) {
		return semver.SatisfiesRange(p.version, constraint), nil
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	return c.Check(masterminds.MustParse(p.version)), nil
}

func sortedKeys(m map[digest.Digest]reflect.Type) []digest.Digest {
	out := make([]digest.Digest, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sortDigests(out)
	return out
}

func sortDigests(ds []digest.Digest) {
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
}
