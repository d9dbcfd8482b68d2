package server

import (
	"github.com/morezero/agent-router/pkg/bootstrap"
	"github.com/morezero/agent-router/pkg/resolver"
)

// ResolverParams holds the sources for NewResolver. Records and Names are consulted in order.
type ResolverParams struct {
	Bootstrap    *bootstrap.ResolvedBootstrap
	Records      []resolver.RecordLookup
	Names        []resolver.NameLookup
	MaxEndpoints int
}

// NewResolver builds the agent-router's destination resolver. Bootstrap rules win over
// almanac records for addresses; names go through the bootstrap names and then each
// name lookup, and the bound address is resolved the same way.
func NewResolver(p ResolverParams) resolver.Resolver {
	maxEndpoints := resolver.WithMaxEndpoints(p.MaxEndpoints)
	var rules map[string][]string
	if p.Bootstrap != nil {
		rules = p.Bootstrap.Rules()
	}
	chain := []resolver.Resolver{resolver.NewRulesBased(rules, maxEndpoints)}
	for _, r := range p.Records {
		chain = append(chain, resolver.NewAlmanac(r, maxEndpoints))
	}
	addresses := resolver.NewChain(chain...)
	names := resolver.NewNameService(nameLookups{rb: p.Bootstrap, next: p.Names}, addresses)
	return resolver.NewGlobal(addresses, names)
}
