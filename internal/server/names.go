package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/agent-router/pkg/bootstrap"
	"github.com/morezero/agent-router/pkg/resolver"
)

// nameLookups answers name lookups from the bootstrap file first, then from each
// fallback in order. A failing fallback is skipped.
type nameLookups struct {
	rb   *bootstrap.ResolvedBootstrap
	next []resolver.NameLookup
}

func (n nameLookups) LookupName(ctx context.Context, name string) (string, error) {
	if n.rb != nil {
		if addr, ok := n.rb.LookupName(name); ok {
			return addr, nil
		}
	}
	for _, l := range n.next {
		addr, err := l.LookupName(ctx, name)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - name lookup for %s failed: %v", logPrefix, name, err))
			continue
		}
		if addr != "" {
			return addr, nil
		}
	}
	return "", nil
}
