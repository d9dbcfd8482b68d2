package endpoint

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// Sampler draws weighted samples without replacement. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a Sampler drawing from src.
func NewSampler(src rand.Source) *Sampler {
	return &Sampler{rng: rand.New(src)}
}

// NewSeededSampler returns a Sampler with a deterministic PCG source.
func NewSeededSampler(seed1, seed2 uint64) *Sampler {
	return NewSampler(rand.NewPCG(seed1, seed2))
}

// DefaultSampler returns a Sampler seeded from the clock and the runtime generator.
func DefaultSampler() *Sampler {
	return NewSeededSampler(uint64(time.Now().UnixNano()), rand.Uint64())
}

// Sample returns min(k, len(eps)) endpoints chosen by weighted sampling without
// replacement. Each index is chosen at most once, so duplicate URLs appear only as
// often as they occur in eps. The result is ordered by draw priority: higher weight
// endpoints tend to come first.
func (s *Sampler) Sample(eps []Endpoint, k int) []Endpoint {
	if k <= 0 || len(eps) == 0 {
		return nil
	}
	if k > len(eps) {
		k = len(eps)
	}

	// Efraimidis-Spirakis: key_i = u_i^(1/w_i), kept in log space.
	keys := make([]float64, len(eps))
	s.mu.Lock()
	for i, ep := range eps {
		keys[i] = math.Log(s.rng.Float64()) / float64(normalizeWeight(ep.Weight))
	}
	s.mu.Unlock()

	order := make([]int, len(eps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] > keys[order[b]] })

	out := make([]Endpoint, k)
	for i := 0; i < k; i++ {
		out[i] = eps[order[i]]
	}
	return out
}
