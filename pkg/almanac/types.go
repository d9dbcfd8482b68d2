// Package almanac implements the agent registry mapping addresses to endpoint records with expiry,
// and the name service that binds human-readable names to addresses.
package almanac

import (
	"time"

	"github.com/morezero/agent-router/pkg/endpoint"
)

// Defaults for record lifetime and registration fees.
const (
	DefaultRecordTTLBlocks      = 4800
	DefaultAverageBlockInterval = 6 * time.Second
	DefaultFeeAmount            = uint64(500000000000000000)
	DefaultFeeDenom             = "atestfet"
)

// Record is the published address -> endpoints mapping of one agent.
type Record struct {
	Address   string              `json:"address"`
	Endpoints []endpoint.Endpoint `json:"endpoints"`
	Protocols []string            `json:"protocols,omitempty"`
	Sequence  int64               `json:"sequence"`
	Expiry    time.Time           `json:"expiry"`
	Updated   time.Time           `json:"updated,omitempty"`
}

// Expired reports whether the record is no longer resolvable at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.Expiry)
}

// Coin is an amount of a ledger denomination.
type Coin struct {
	Amount uint64 `json:"amount,string"`
	Denom  string `json:"denom"`
}

// RegisterRequest publishes or refreshes an agent record.
type RegisterRequest struct {
	Address   string              `json:"address"`
	Endpoints []endpoint.Endpoint `json:"endpoints"`
	Protocols []string            `json:"protocols,omitempty"`
	Sequence  int64               `json:"sequence"`
	Fee       Coin                `json:"fee"`
	// Signature is produced by the agent's wallet over the request; verification is external.
	Signature string `json:"signature,omitempty"`
}

// RegisterResult is returned by a successful registration.
type RegisterResult struct {
	Record *Record `json:"record"`
	// Applied is false when an equal or newer sequence was already stored.
	Applied bool `json:"applied"`
}

// QueryRecordInput holds parameters for the queryRecord method.
type QueryRecordInput struct {
	Address string `json:"address"`
}

// QueryRecordOutput holds the result of the queryRecord method. Record is nil when absent.
type QueryRecordOutput struct {
	Record *Record `json:"record"`
}

// LookupNameInput holds parameters for the lookupName method.
type LookupNameInput struct {
	Name string `json:"name"`
}

// LookupNameOutput holds the result of the lookupName method. Address is empty when unbound.
type LookupNameOutput struct {
	Address string `json:"address"`
}

// RegisterNameRequest binds a name to an agent address.
type RegisterNameRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Owner   string `json:"owner,omitempty"`
}

// HealthOutput holds the result of the health method.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	Store bool `json:"store"`
}
