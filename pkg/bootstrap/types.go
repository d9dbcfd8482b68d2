// Package bootstrap provides static resolver configuration loading: address rules and name bindings.
package bootstrap

import "sort"

// BootstrapConfig is the root bootstrap configuration.
type BootstrapConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	// Rules maps an agent address to an ordered list of endpoint urls. Every url weighs 1.
	Rules map[string][]string `json:"rules"`
	// Names maps a human-readable agent name to its address.
	Names map[string]string `json:"names"`
}

// ResolvedBootstrap provides fast lookup of bootstrap rules and names.
type ResolvedBootstrap struct {
	name    string
	version string
	rules   map[string][]string
	names   map[string]string
}

// Endpoints returns the rule urls for an address, or nil when no rule exists.
func (rb *ResolvedBootstrap) Endpoints(address string) []string {
	return rb.rules[address]
}

// LookupName returns the address bound to name.
func (rb *ResolvedBootstrap) LookupName(name string) (string, bool) {
	addr, ok := rb.names[name]
	return addr, ok
}

// Rules returns a copy of all address rules.
func (rb *ResolvedBootstrap) Rules() map[string][]string {
	out := make(map[string][]string, len(rb.rules))
	for addr, urls := range rb.rules {
		out[addr] = append([]string(nil), urls...)
	}
	return out
}

// Names returns all bound names, sorted.
func (rb *ResolvedBootstrap) Names() []string {
	out := make([]string, 0, len(rb.names))
	for n := range rb.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Name returns the bootstrap config name.
func (rb *ResolvedBootstrap) Name() string {
	return rb.name
}

// Version returns the bootstrap config version.
func (rb *ResolvedBootstrap) Version() string {
	return rb.version
}
