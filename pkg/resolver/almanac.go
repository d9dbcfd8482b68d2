package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/agent-router/pkg/almanac"
	"github.com/morezero/agent-router/pkg/endpoint"
)

const almanacLogPrefix = "resolver:almanac"

// RecordLookup fetches the published record for an address; nil means absent.
// almanac.Service, almanac.CommsClient and almanac.APIClient implement it.
type RecordLookup interface {
	QueryRecord(ctx context.Context, address string) (*almanac.Record, error)
}

// Almanac resolves addresses through the almanac registry.
type Almanac struct {
	lookup RecordLookup
	opts   options
}

// NewAlmanac builds an Almanac resolver over lookup.
func NewAlmanac(lookup RecordLookup, opts ...Option) *Almanac {
	return &Almanac{lookup: lookup, opts: buildOptions(opts)}
}

// Resolve returns the live record endpoints for destination. Lookup failures and expired
// records resolve as absent so a Chain can fall through.
func (a *Almanac) Resolve(ctx context.Context, destination string) (string, []endpoint.Endpoint) {
	rec, err := a.lookup.QueryRecord(ctx, destination)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - lookup %s failed: %v", almanacLogPrefix, destination, err))
		return destination, nil
	}
	if rec == nil {
		return destination, nil
	}
	if rec.Expired(a.opts.clock()) {
		slog.Debug(fmt.Sprintf("%s - record for %s expired at %s", almanacLogPrefix, destination, rec.Expiry))
		return destination, nil
	}
	return destination, a.opts.selectEndpoints(rec.Endpoints)
}
