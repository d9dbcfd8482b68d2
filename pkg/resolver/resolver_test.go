package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/agent-router/pkg/almanac"
	"github.com/morezero/agent-router/pkg/endpoint"
)

const (
	agentA = "agent1qt0487g004xezsz8cte4827t7y847gzr5n6enwv6rrk09l0cjfl62rmnx79"
	agentB = "agent1q992tl7j9062ussaunq6vp5p4qaqugkzp8pva3xlszmeg0533k952lz8alf"
	submit = "http://localhost:8000/submit"
)

func repeat(url string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = url
	}
	return out
}

func seeded() Option {
	return WithSampler(endpoint.NewSeededSampler(1, 2))
}

func TestRulesBased_Resolve(t *testing.T) {
	r := NewRulesBased(map[string][]string{agentA: repeat(submit, 15)}, seeded())

	tests := []struct {
		name        string
		destination string
		wantLen     int
	}{
		{"more endpoints than the cap", agentA, DefaultMaxEndpoints},
		{"not registered", agentB, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final, eps := r.Resolve(context.Background(), tt.destination)
			if len(eps) != tt.wantLen {
				t.Errorf("resolver:resolver_test - len(endpoints) = %d, want %d", len(eps), tt.wantLen)
			}
			if final != tt.destination {
				t.Errorf("resolver:resolver_test - final address = %q, want %q", final, tt.destination)
			}
			for _, ep := range eps {
				if ep.URL != submit || ep.Weight != 1 {
					t.Errorf("resolver:resolver_test - unexpected endpoint %+v", ep)
				}
			}
		})
	}
}

func TestRulesBased_UnderCapReturnsAllUnmodified(t *testing.T) {
	urls := []string{"http://a", "http://b", "http://c"}
	r := NewRulesBased(map[string][]string{agentA: urls})

	_, eps := r.Resolve(context.Background(), agentA)
	if len(eps) != len(urls) {
		t.Fatalf("resolver:resolver_test - expected %d endpoints, got %d", len(urls), len(eps))
	}
	for i, ep := range eps {
		if ep.URL != urls[i] || ep.Weight != 1 {
			t.Errorf("resolver:resolver_test - endpoint %d = %+v, want {%s 1}", i, ep, urls[i])
		}
	}
}

func TestRulesBased_CopiesRules(t *testing.T) {
	rules := map[string][]string{agentA: {"http://a"}}
	r := NewRulesBased(rules)
	rules[agentA][0] = "http://mutated"
	delete(rules, agentA)

	_, eps := r.Resolve(context.Background(), agentA)
	if len(eps) != 1 || eps[0].URL != "http://a" {
		t.Errorf("resolver:resolver_test - resolver aliased the rules map: %v", eps)
	}
}

func TestWithMaxEndpoints(t *testing.T) {
	r := NewRulesBased(map[string][]string{agentA: repeat(submit, 15)}, WithMaxEndpoints(3), seeded())
	if _, eps := r.Resolve(context.Background(), agentA); len(eps) != 3 {
		t.Errorf("resolver:resolver_test - expected 3 endpoints, got %d", len(eps))
	}

	r = NewRulesBased(map[string][]string{agentA: repeat(submit, 15)}, WithMaxEndpoints(0))
	if _, eps := r.Resolve(context.Background(), agentA); len(eps) != DefaultMaxEndpoints {
		t.Errorf("resolver:resolver_test - WithMaxEndpoints(0) should keep the default, got %d", len(eps))
	}
}

type fakeRecords struct {
	records map[string]*almanac.Record
	err     error
	calls   int
}

func (f *fakeRecords) QueryRecord(_ context.Context, addr string) (*almanac.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records[addr], nil
}

func TestAlmanac_Resolve(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	many := make([]endpoint.Endpoint, 15)
	for i := range many {
		many[i] = endpoint.Endpoint{URL: submit, Weight: 1}
	}
	records := &fakeRecords{records: map[string]*almanac.Record{
		agentA: {Address: agentA, Endpoints: many, Expiry: now.Add(time.Hour)},
		agentB: {Address: agentB, Endpoints: many[:2], Expiry: now.Add(-time.Second)},
	}}
	a := NewAlmanac(records, WithClock(func() time.Time { return now }), seeded())

	tests := []struct {
		name        string
		destination string
		wantLen     int
	}{
		{"live record over cap", agentA, 10},
		{"expired record", agentB, 0},
		{"missing record", "agent1qmissing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final, eps := a.Resolve(context.Background(), tt.destination)
			if len(eps) != tt.wantLen {
				t.Errorf("resolver:resolver_test - len = %d, want %d", len(eps), tt.wantLen)
			}
			if final != tt.destination {
				t.Errorf("resolver:resolver_test - final = %q, want %q", final, tt.destination)
			}
		})
	}
}

func TestAlmanac_LookupErrorIsNotFound(t *testing.T) {
	a := NewAlmanac(&fakeRecords{err: errors.New("almanac unreachable")})
	final, eps := a.Resolve(context.Background(), agentA)
	if final != agentA || len(eps) != 0 {
		t.Errorf("resolver:resolver_test - expected (%s, empty), got (%s, %v)", agentA, final, eps)
	}
}

type fakeNames map[string]string

func (f fakeNames) LookupName(_ context.Context, name string) (string, error) {
	if name == "broken" {
		return "", errors.New("name service down")
	}
	return f[name], nil
}

func TestNameService_Resolve(t *testing.T) {
	rules := NewRulesBased(map[string][]string{agentA: {"http://a"}})
	ns := NewNameService(fakeNames{"alice": agentA, "bob": agentB}, rules)

	tests := []struct {
		name      string
		dest      string
		wantFinal string
		wantLen   int
	}{
		{"bound with endpoints", "alice", agentA, 1},
		{"bound without endpoints", "bob", "bob", 0},
		{"unbound", "carol", "carol", 0},
		{"lookup failure", "broken", "broken", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final, eps := ns.Resolve(context.Background(), tt.dest)
			if final != tt.wantFinal || len(eps) != tt.wantLen {
				t.Errorf("resolver:resolver_test - Resolve(%q) = (%q, %d), want (%q, %d)", tt.dest, final, len(eps), tt.wantFinal, tt.wantLen)
			}
		})
	}
}

func TestChain_FirstNonEmptyWins(t *testing.T) {
	var order []string
	empty := Func(func(_ context.Context, d string) (string, []endpoint.Endpoint) {
		order = append(order, "empty")
		return d, nil
	})
	first := Func(func(_ context.Context, d string) (string, []endpoint.Endpoint) {
		order = append(order, "first")
		return "final-first", []endpoint.Endpoint{{URL: "http://first", Weight: 1}}
	})
	second := Func(func(_ context.Context, d string) (string, []endpoint.Endpoint) {
		order = append(order, "second")
		return "final-second", []endpoint.Endpoint{{URL: "http://second", Weight: 1}}
	})

	final, eps := NewChain(empty, nil, first, second).Resolve(context.Background(), agentA)
	if final != "final-first" || len(eps) != 1 || eps[0].URL != "http://first" {
		t.Errorf("resolver:resolver_test - unexpected chain result (%s, %v)", final, eps)
	}
	if len(order) != 2 || order[0] != "empty" || order[1] != "first" {
		t.Errorf("resolver:resolver_test - expected chain to stop after first hit, called %v", order)
	}
}

func TestChain_AllEmpty(t *testing.T) {
	c := NewChain(NewRulesBased(nil), NewAlmanac(&fakeRecords{}))
	final, eps := c.Resolve(context.Background(), agentB)
	if final != agentB || eps != nil {
		t.Errorf("resolver:resolver_test - expected (%s, nil), got (%s, %v)", agentB, final, eps)
	}

	final, eps = NewChain().Resolve(context.Background(), agentB)
	if final != agentB || eps != nil {
		t.Errorf("resolver:resolver_test - empty chain should return (%s, nil)", agentB)
	}
}

func TestChain_FallsThroughOnAlmanacError(t *testing.T) {
	failing := NewAlmanac(&fakeRecords{err: errors.New("timeout")})
	fallback := NewRulesBased(map[string][]string{agentA: {"http://fallback"}})

	_, eps := NewChain(failing, fallback).Resolve(context.Background(), agentA)
	if len(eps) != 1 || eps[0].URL != "http://fallback" {
		t.Errorf("resolver:resolver_test - expected fallback endpoint, got %v", eps)
	}
}

func TestGlobal_RoutesByShape(t *testing.T) {
	rules := NewRulesBased(map[string][]string{agentA: {"http://a"}})
	g := NewGlobal(rules, NewNameService(fakeNames{"alice": agentA}, rules))

	tests := []struct {
		name      string
		dest      string
		wantFinal string
		wantLen   int
	}{
		{"address", agentA, agentA, 1},
		{"prefixed address", "agent://" + agentA, agentA, 1},
		{"name", "alice", agentA, 1},
		{"prefixed name", "test-agent://alice", agentA, 1},
		{"unknown name", "bob", "bob", 0},
		{"unknown address", agentB, agentB, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final, eps := g.Resolve(context.Background(), tt.dest)
			if final != tt.wantFinal || len(eps) != tt.wantLen {
				t.Errorf("resolver:resolver_test - Resolve(%q) = (%q, %d), want (%q, %d)", tt.dest, final, len(eps), tt.wantFinal, tt.wantLen)
			}
		})
	}
}

func TestGlobal_NilStrategies(t *testing.T) {
	g := NewGlobal(nil, nil)
	if final, eps := g.Resolve(context.Background(), agentA); final != agentA || eps != nil {
		t.Errorf("resolver:resolver_test - expected (%s, nil), got (%s, %v)", agentA, final, eps)
	}
}

func TestAlmanac_WithService(t *testing.T) {
	ctx := context.Background()
	svc := almanac.NewService(almanac.Params{})
	_, err := svc.Register(ctx, almanac.RegisterRequest{
		Address:   agentA,
		Endpoints: []endpoint.Endpoint{{URL: "http://a", Weight: 2}},
		Sequence:  1,
		Fee:       almanac.Coin{Amount: almanac.DefaultFeeAmount, Denom: almanac.DefaultFeeDenom},
	})
	if err != nil {
		t.Fatalf("resolver:resolver_test - Register failed: %v", err)
	}

	final, eps := NewAlmanac(svc).Resolve(ctx, agentA)
	if final != agentA || len(eps) != 1 || eps[0].Weight != 2 {
		t.Errorf("resolver:resolver_test - unexpected (%s, %v)", final, eps)
	}
}
