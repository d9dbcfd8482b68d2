// Package registration keeps an agent's almanac record published: it registers on
// startup, refreshes on a fixed interval and retries failed attempts sooner.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/morezero/agent-router/pkg/agenterr"
	"github.com/morezero/agent-router/pkg/almanac"
	"github.com/morezero/agent-router/pkg/endpoint"
	"github.com/morezero/agent-router/pkg/envelope"
	"github.com/morezero/agent-router/pkg/events"
)

const logPrefix = "registration:manager"

const (
	DefaultUpdateInterval = 3600 * time.Second
	DefaultRetryInterval  = 60 * time.Second
)

// State is the manager's position in the registration lifecycle.
type State int

const (
	Unregistered State = iota
	Registering
	Registered
	Refreshing
	RetryWait
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Refreshing:
		return "refreshing"
	case RetryWait:
		return "retry_wait"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Registrar is the almanac surface the manager publishes through. *almanac.Service and
// *almanac.CommsClient implement it.
type Registrar interface {
	QueryRecord(ctx context.Context, addr string) (*almanac.Record, error)
	Register(ctx context.Context, req almanac.RegisterRequest) (*almanac.RegisterResult, error)
}

// Params holds the configuration for NewManager.
type Params struct {
	Registrar Registrar
	Address   string
	Endpoints []endpoint.Endpoint
	Protocols []string
	Fee       almanac.Coin
	// Signer signs registration requests. Nil sends them unsigned.
	Signer         envelope.Signer
	UpdateInterval time.Duration
	RetryInterval  time.Duration
	Publisher      events.Publisher
	Clock          func() time.Time
	// After is the timer used by Run; tests replace it.
	After func(time.Duration) <-chan time.Time
}

// Manager publishes one agent's record.
type Manager struct {
	registrar Registrar
	address   string
	endpoints []endpoint.Endpoint
	protocols []string
	fee       almanac.Coin
	signer    envelope.Signer
	update    time.Duration
	retry     time.Duration
	publisher events.Publisher
	clock     func() time.Time
	after     func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	state    State
	record   *almanac.Record
	sequence int64
	lastErr  error
}

// NewManager creates a Manager in the Unregistered state.
func NewManager(p Params) *Manager {
	m := &Manager{
		registrar: p.Registrar,
		address:   p.Address,
		endpoints: append([]endpoint.Endpoint(nil), p.Endpoints...),
		protocols: sortedCopy(p.Protocols),
		fee:       p.Fee,
		signer:    p.Signer,
		update:    p.UpdateInterval,
		retry:     p.RetryInterval,
		publisher: p.Publisher,
		clock:     p.Clock,
		after:     p.After,
	}
	for i := range m.endpoints {
		if m.endpoints[i].Weight <= 0 {
			m.endpoints[i].Weight = endpoint.DefaultWeight
		}
	}
	if m.signer != nil && m.address == "" {
		m.address = m.signer.Address()
	}
	if m.fee.Denom == "" {
		m.fee = almanac.Coin{Amount: almanac.DefaultFeeAmount, Denom: almanac.DefaultFeeDenom}
	}
	if m.update <= 0 {
		m.update = DefaultUpdateInterval
	}
	if m.retry <= 0 {
		m.retry = DefaultRetryInterval
	}
	if m.publisher == nil {
		m.publisher = &events.NoOpPublisher{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.after == nil {
		m.after = time.After
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Record returns the last record known to be published. A failed attempt leaves it
// unchanged.
func (m *Manager) Record() *almanac.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// LastError returns the error of the most recent attempt, or nil if it succeeded.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Attempt registers or refreshes the record once and returns the delay until the next
// attempt: the update interval on success, the retry interval on failure. Publishing is
// skipped when the current record already matches and outlives the next refresh.
func (m *Manager) Attempt(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	if m.record == nil {
		m.state = Registering
	} else {
		m.state = Refreshing
	}
	last := m.sequence
	m.mu.Unlock()

	now := m.clock()
	current, err := m.registrar.QueryRecord(ctx, m.address)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - query current record for %s failed, registering anyway: %v", logPrefix, m.address, err))
		current = nil
	}

	if current != nil && m.upToDate(current, now) {
		slog.Info(fmt.Sprintf("%s - Record for %s is up to date until %s", logPrefix, m.address, current.Expiry.Format(time.RFC3339)))
		m.succeed(current)
		return m.update, nil
	}

	seq := now.Unix()
	if current != nil && current.Sequence >= seq {
		seq = current.Sequence + 1
	}
	if last >= seq {
		seq = last + 1
	}
	req := almanac.RegisterRequest{
		Address:   m.address,
		Endpoints: m.endpoints,
		Protocols: m.protocols,
		Sequence:  seq,
		Fee:       m.fee,
	}
	if m.signer != nil {
		sig, err := m.signer.Sign(req.SigningDigest())
		if err != nil {
			return m.fail(ctx, agenterr.Wrap(agenterr.CodeRegistrationFailure, err, "sign registration for %s", m.address))
		}
		req.Signature = sig
	}

	res, err := m.registrar.Register(ctx, req)
	if err != nil {
		if agenterr.CodeOf(err) != agenterr.CodeRegistrationFailure {
			err = agenterr.Wrap(agenterr.CodeRegistrationFailure, err, "register %s", m.address)
		}
		return m.fail(ctx, err)
	}

	m.mu.Lock()
	m.sequence = seq
	m.mu.Unlock()
	m.succeed(res.Record)
	slog.Info(fmt.Sprintf("%s - Registered %s with %d endpoints (sequence=%d)", logPrefix, m.address, len(m.endpoints), seq))
	return m.update, nil
}

// Run attempts registration until ctx is cancelled. Failures never stop it.
func (m *Manager) Run(ctx context.Context) error {
	for {
		delay, _ := m.Attempt(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-m.after(delay):
		}
	}
}

func (m *Manager) succeed(rec *almanac.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Registered
	m.record = rec
	m.lastErr = nil
}

func (m *Manager) fail(ctx context.Context, err error) (time.Duration, error) {
	m.mu.Lock()
	m.state = RetryWait
	m.lastErr = err
	m.mu.Unlock()

	slog.Warn(fmt.Sprintf("%s - Registration of %s failed, retrying in %s: %v", logPrefix, m.address, m.retry, err))
	if perr := m.publisher.PublishReport(ctx, events.FromError(m.address, err)); perr != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish report: %v", logPrefix, perr))
	}
	return m.retry, err
}

// upToDate reports whether rec already carries our endpoints and protocols and stays
// valid past the next refresh.
func (m *Manager) upToDate(rec *almanac.Record, now time.Time) bool {
	if !rec.Expiry.After(now.Add(m.update)) {
		return false
	}
	if len(rec.Endpoints) != len(m.endpoints) {
		return false
	}
	for i, ep := range rec.Endpoints {
		if ep != m.endpoints[i] {
			return false
		}
	}
	protocols := sortedCopy(rec.Protocols)
	if len(protocols) != len(m.protocols) {
		return false
	}
	for i := range protocols {
		if protocols[i] != m.protocols[i] {
			return false
		}
	}
	return true
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
