package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/agent-router/pkg/endpoint"
)

const rulesLogPrefix = "resolver:rules"

// RulesBased resolves destinations from a fixed address -> urls mapping. Every url weighs 1.
type RulesBased struct {
	rules map[string][]endpoint.Endpoint
	opts  options
}

// NewRulesBased builds a RulesBased resolver. The rules map is copied.
func NewRulesBased(rules map[string][]string, opts ...Option) *RulesBased {
	copied := make(map[string][]endpoint.Endpoint, len(rules))
	for addr, urls := range rules {
		copied[addr] = endpoint.FromURLs(urls)
	}
	return &RulesBased{rules: copied, opts: buildOptions(opts)}
}

// Resolve returns the destination unchanged with its rule endpoints, or no endpoints when
// there is no rule.
func (r *RulesBased) Resolve(_ context.Context, destination string) (string, []endpoint.Endpoint) {
	eps, ok := r.rules[destination]
	if !ok {
		slog.Debug(fmt.Sprintf("%s - no rule for %s", rulesLogPrefix, destination))
		return destination, nil
	}
	return destination, r.opts.selectEndpoints(eps)
}
