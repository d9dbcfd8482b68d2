package db

import "time"

// AgentRecord represents a row in the almanac_records table.
type AgentRecord struct {
	Address   string    `json:"address"`
	Endpoints []byte    `json:"endpoints"`
	Protocols []string  `json:"protocols"`
	Sequence  int64     `json:"sequence"`
	Expiry    time.Time `json:"expiry"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
}

// NameBinding represents a row in the almanac_names table.
type NameBinding struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Owner    *string   `json:"owner,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// StorageEntry represents a row in the agent_storage table.
type StorageEntry struct {
	Owner    string    `json:"owner"`
	Key      string    `json:"key"`
	Value    []byte    `json:"value"`
	Modified time.Time `json:"modified"`
}

// UpsertRecordParams holds parameters for publishing an agent record.
type UpsertRecordParams struct {
	Address string
	// Endpoints is the JSON-encoded endpoint list.
	Endpoints []byte
	Protocols []string
	Sequence  int64
	Expiry    time.Time
}

// UpsertNameParams holds parameters for binding a name to an address.
type UpsertNameParams struct {
	Name    string
	Address string
	Owner   *string
}
