package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/agent-router/pkg/endpoint"
)

const nameServiceLogPrefix = "resolver:nameservice"

// NameLookup returns the address bound to a name; "" means unbound.
type NameLookup interface {
	LookupName(ctx context.Context, name string) (string, error)
}

// NameService resolves human-readable names to addresses, then delegates to an address resolver.
type NameService struct {
	names   NameLookup
	address Resolver
}

// NewNameService builds a NameService resolving bound addresses through addr.
func NewNameService(names NameLookup, addr Resolver) *NameService {
	return &NameService{names: names, address: addr}
}

// Resolve returns the bound address and its endpoints. An unbound name, or a lookup
// failure, yields (name, nil).
func (n *NameService) Resolve(ctx context.Context, destination string) (string, []endpoint.Endpoint) {
	addr, err := n.names.LookupName(ctx, destination)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - lookup %s failed: %v", nameServiceLogPrefix, destination, err))
		return destination, nil
	}
	if addr == "" {
		return destination, nil
	}
	final, eps := n.address.Resolve(ctx, addr)
	if len(eps) == 0 {
		return destination, nil
	}
	return final, eps
}
