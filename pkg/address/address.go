// Package address validates and classifies agent and ledger addresses.
package address

import (
	"fmt"
	"strings"
)

// Address prefixes.
const (
	AgentPrefix   = "agent"
	LedgerPrefix  = "fetch"
	UserPrefix    = "user"
	TestnetPrefix = "test-agent"
	MainnetPrefix = "agent"
)

// Length is the length of a main-network agent address.
const Length = 65

// bodyLength is the separator plus the data part that follows every prefix.
const bodyLength = Length - len(AgentPrefix)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// Network is the network class an address belongs to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Unknown Network = ""
)

// Validate reports why s is not a well-formed agent, user or ledger address.
func Validate(s string) error {
	prefix := prefixOf(s)
	if prefix == "" {
		return fmt.Errorf("address: %q has no known prefix", s)
	}
	body := s[len(prefix):]
	if len(body) != bodyLength {
		return fmt.Errorf("address: %q has length %d, want %d", s, len(s), len(prefix)+bodyLength)
	}
	if body[0] != '1' {
		return fmt.Errorf("address: %q is missing the separator", s)
	}
	for _, c := range body[1:] {
		if !strings.ContainsRune(charset, c) {
			return fmt.Errorf("address: %q contains invalid character %q", s, c)
		}
	}
	return nil
}

// IsAgentAddress reports whether s is a valid agent address on either network.
func IsAgentAddress(s string) bool {
	p := prefixOf(s)
	if p != AgentPrefix && p != TestnetPrefix {
		return false
	}
	return Validate(s) == nil
}

// IsValid reports whether s is a valid agent, user or ledger address.
func IsValid(s string) bool {
	return Validate(s) == nil
}

// NetworkOf classifies s by prefix.
func NetworkOf(s string) Network {
	switch prefixOf(s) {
	case TestnetPrefix:
		return Testnet
	case MainnetPrefix:
		return Mainnet
	default:
		return Unknown
	}
}

// prefixOf returns the known prefix of s, or "".
func prefixOf(s string) string {
	for _, p := range []string{TestnetPrefix, AgentPrefix, UserPrefix, LedgerPrefix} {
		if strings.HasPrefix(s, p) {
			return p
		}
	}
	return ""
}

// Identifier is a parsed destination such as "test-agent://agent1q..." or "alice.agent".
type Identifier struct {
	Prefix  string
	Name    string
	Address string
}

// ParseIdentifier splits an optional "prefix://" off identifier and classifies the rest
// as either an address or a name.
func ParseIdentifier(identifier string) Identifier {
	var id Identifier
	rest := identifier
	if i := strings.Index(rest, "://"); i >= 0 {
		id.Prefix = rest[:i]
		rest = rest[i+3:]
	}
	if IsValid(rest) {
		id.Address = rest
	} else {
		id.Name = rest
	}
	return id
}
