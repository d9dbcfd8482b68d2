package resolver

import (
	"context"

	"github.com/morezero/agent-router/pkg/address"
	"github.com/morezero/agent-router/pkg/endpoint"
)

// Chain tries resolvers in order and returns the first non-empty result.
type Chain struct {
	resolvers []Resolver
}

// NewChain builds a Chain. Nil resolvers are skipped.
func NewChain(resolvers ...Resolver) *Chain {
	rs := make([]Resolver, 0, len(resolvers))
	for _, r := range resolvers {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return &Chain{resolvers: rs}
}

// Resolve returns the first resolver answer that carries endpoints. When none does, the
// destination comes back unchanged with no endpoints.
func (c *Chain) Resolve(ctx context.Context, destination string) (string, []endpoint.Endpoint) {
	for _, r := range c.resolvers {
		if final, eps := r.Resolve(ctx, destination); len(eps) > 0 {
			return final, eps
		}
	}
	return destination, nil
}

// Global routes address-shaped destinations to the almanac resolver and everything else to
// the name service. A "prefix://" identifier is stripped before routing.
type Global struct {
	almanac Resolver
	names   Resolver
}

// NewGlobal builds a Global resolver. Either resolver may be nil.
func NewGlobal(almanac, names Resolver) *Global {
	return &Global{almanac: almanac, names: names}
}

// Resolve resolves destination through the almanac or the name service depending on its
// shape. Unresolved destinations come back unchanged with no endpoints.
func (g *Global) Resolve(ctx context.Context, destination string) (string, []endpoint.Endpoint) {
	id := address.ParseIdentifier(destination)
	target := g.names
	key := id.Name
	if id.Address != "" {
		target = g.almanac
		key = id.Address
	}
	if target == nil || key == "" {
		return destination, nil
	}
	final, eps := target.Resolve(ctx, key)
	if len(eps) == 0 {
		return destination, nil
	}
	return final, eps
}
