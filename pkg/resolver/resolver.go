// Package resolver translates agent addresses and names into weighted endpoint sets
// through a chain of pluggable strategies.
package resolver

import (
	"context"
	"time"

	"github.com/morezero/agent-router/pkg/endpoint"
)

// DefaultMaxEndpoints bounds the endpoints returned by one resolution.
const DefaultMaxEndpoints = 10

// Resolver resolves a destination to its final address and endpoints. A destination with
// no route yields (destination, nil); resolution never fails with an error.
// Implementations are safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, destination string) (string, []endpoint.Endpoint)
}

// Func adapts a function to a Resolver.
type Func func(ctx context.Context, destination string) (string, []endpoint.Endpoint)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, destination string) (string, []endpoint.Endpoint) {
	return f(ctx, destination)
}

type options struct {
	maxEndpoints int
	sampler      *endpoint.Sampler
	clock        func() time.Time
}

// Option configures a resolver.
type Option func(*options)

// WithMaxEndpoints caps the result size. Values below 1 keep the default.
func WithMaxEndpoints(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEndpoints = n
		}
	}
}

// WithSampler injects the random source used for endpoint selection.
func WithSampler(s *endpoint.Sampler) Option {
	return func(o *options) {
		if s != nil {
			o.sampler = s
		}
	}
}

// WithClock injects the clock used for record expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{maxEndpoints: DefaultMaxEndpoints, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sampler == nil {
		o.sampler = endpoint.DefaultSampler()
	}
	return o
}

// selectEndpoints returns eps unchanged when it fits the cap, otherwise a weighted
// sample of exactly maxEndpoints entries.
func (o options) selectEndpoints(eps []endpoint.Endpoint) []endpoint.Endpoint {
	if len(eps) == 0 {
		return nil
	}
	if len(eps) <= o.maxEndpoints {
		return append([]endpoint.Endpoint(nil), eps...)
	}
	return o.sampler.Sample(eps, o.maxEndpoints)
}
