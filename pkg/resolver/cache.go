package resolver

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/morezero/agent-router/pkg/almanac"
)

// DefaultCacheTTL is how long a cached lookup result is reused.
const DefaultCacheTTL = 30 * time.Second

type cachedRecord struct {
	rec     *almanac.Record
	fetched time.Time
}

// CachedLookup keeps the most recent results of a remote RecordLookup in a bounded LRU.
// Absent records are cached too. Lookup errors are not cached.
type CachedLookup struct {
	lookup RecordLookup
	cache  *lru.Cache
	ttl    time.Duration
	now    func() time.Time
}

// NewCachedLookup wraps lookup with a cache of size entries. A ttl of 0 uses DefaultCacheTTL.
func NewCachedLookup(lookup RecordLookup, size int, ttl time.Duration, opts ...Option) (*CachedLookup, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLookup{lookup: lookup, cache: cache, ttl: ttl, now: buildOptions(opts).clock}, nil
}

// QueryRecord returns the cached record for addr while it is fresh and unexpired.
func (c *CachedLookup) QueryRecord(ctx context.Context, addr string) (*almanac.Record, error) {
	now := c.now()
	if v, ok := c.cache.Get(addr); ok {
		entry := v.(cachedRecord)
		if now.Sub(entry.fetched) < c.ttl && (entry.rec == nil || !entry.rec.Expired(now)) {
			return entry.rec, nil
		}
		c.cache.Remove(addr)
	}
	rec, err := c.lookup.QueryRecord(ctx, addr)
	if err != nil {
		return nil, err
	}
	c.cache.Add(addr, cachedRecord{rec: rec, fetched: now})
	return rec, nil
}

// Forget drops addr from the cache.
func (c *CachedLookup) Forget(addr string) {
	c.cache.Remove(addr)
}

// Len returns the number of cached entries.
func (c *CachedLookup) Len() int {
	return c.cache.Len()
}
