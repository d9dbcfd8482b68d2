// Package config provides agent-router configuration loaded from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/agent-router/pkg/address"
	"github.com/morezero/agent-router/pkg/agenterr"
	"github.com/morezero/agent-router/pkg/almanac"
	"github.com/morezero/agent-router/pkg/endpoint"
	"github.com/morezero/agent-router/pkg/mailbox"
)

const logPrefix = "config:LoadConfig"

// Config holds agent-router configuration. It is loaded once at startup and passed
// explicitly to constructors.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"agent-router"`

	// Agent identity and published endpoints
	AgentAddress string `envconfig:"AGENT_ADDRESS"`
	// AgentEndpoints is a url, a JSON list of urls, or a JSON map of url -> {"weight": n}.
	// Empty publishes the local /submit endpoint.
	AgentEndpoints string `envconfig:"AGENT_ENDPOINTS"`
	// SigningKey enables keyed envelope and registration signatures.
	SigningKey string `envconfig:"AGENT_SIGNING_KEY"`
	// PeerKeys maps peer addresses to their signing keys ("addr:key,addr:key"). Signed
	// inbound envelopes from senders without a key are rejected.
	PeerKeys map[string]string `envconfig:"AGENT_PEER_KEYS"`
	// Agentverse is a service location: "key@https://host", "https://host", a bare key or JSON.
	Agentverse string `envconfig:"AGENTVERSE"`
	Network    string `envconfig:"NETWORK" default:"testnet"`

	// Bootstrap (resolver rules and name bindings)
	BootstrapFile string `envconfig:"RESOLVER_BOOTSTRAP_FILE"`

	// Database (optional for serve)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Almanac
	RunAlmanac            bool          `envconfig:"RUN_ALMANAC" default:"false"`
	AlmanacSubject        string        `envconfig:"ALMANAC_SUBJECT" default:"almanac.v1"`
	AlmanacAPIURL         string        `envconfig:"ALMANAC_API_URL"`
	AlmanacRequestTimeout time.Duration `envconfig:"ALMANAC_REQUEST_TIMEOUT" default:"5s"`
	MaxEndpoints          int           `envconfig:"MAX_ENDPOINTS" default:"10"`
	// Remote almanac lookups are cached; a size of 0 disables the cache.
	AlmanacCacheSize int           `envconfig:"ALMANAC_CACHE_SIZE" default:"1024"`
	AlmanacCacheTTL  time.Duration `envconfig:"ALMANAC_CACHE_TTL" default:"30s"`

	// Registration
	RegistrationFee            uint64        `envconfig:"REGISTRATION_FEE" default:"500000000000000000"`
	RegistrationDenom          string        `envconfig:"REGISTRATION_DENOM" default:"atestfet"`
	RegistrationUpdateInterval time.Duration `envconfig:"REGISTRATION_UPDATE_INTERVAL" default:"3600s"`
	RegistrationRetryInterval  time.Duration `envconfig:"REGISTRATION_RETRY_INTERVAL" default:"60s"`
	AverageBlockInterval       time.Duration `envconfig:"AVERAGE_BLOCK_INTERVAL" default:"6s"`
	RecordTTLBlocks            int           `envconfig:"RECORD_TTL_BLOCKS" default:"4800"`

	// Dispatch
	EnvelopeTimeout     time.Duration `envconfig:"ENVELOPE_TIMEOUT" default:"30s"`
	DispatchConcurrency int           `envconfig:"DISPATCH_CONCURRENCY" default:"64"`

	// HTTP submit and health endpoints
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8000"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	// AllowedOrigins enables CORS on the HTTP endpoints for the listed origins.
	AllowedOrigins []string `envconfig:"HTTP_ALLOWED_ORIGINS"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, agenterr.Wrap(agenterr.CodeConfiguration, err, "%s - invalid environment", logPrefix)
	}
	return &c, nil
}

// ValidateForServe checks the configuration needed to run an agent. Any failure is a
// CONFIGURATION_ERROR and must stop startup.
func (c *Config) ValidateForServe() error {
	if err := address.Validate(c.AgentAddress); err != nil {
		return agenterr.New(agenterr.CodeConfiguration, "%s - AGENT_ADDRESS: %v", logPrefix, err)
	}
	if net := address.NetworkOf(c.AgentAddress); c.Network != "" && net != address.Network(c.Network) {
		return agenterr.New(agenterr.CodeConfiguration, "%s - AGENT_ADDRESS is a %s address but NETWORK is %s", logPrefix, net, c.Network)
	}
	eps, err := c.Endpoints()
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		return agenterr.New(agenterr.CodeConfiguration, "%s - AGENT_ENDPOINTS yields no endpoints", logPrefix)
	}
	if _, _, err := c.ServiceLocation(); err != nil {
		return err
	}
	if c.RunAlmanac && c.DatabaseURL == "" {
		return agenterr.New(agenterr.CodeConfiguration, "%s - RUN_ALMANAC requires DATABASE_URL", logPrefix)
	}
	checks := []struct {
		name string
		ok   bool
	}{
		{"ALMANAC_REQUEST_TIMEOUT", c.AlmanacRequestTimeout > 0},
		{"MAX_ENDPOINTS", c.MaxEndpoints > 0},
		{"REGISTRATION_UPDATE_INTERVAL", c.RegistrationUpdateInterval > 0},
		{"REGISTRATION_RETRY_INTERVAL", c.RegistrationRetryInterval > 0},
		{"AVERAGE_BLOCK_INTERVAL", c.AverageBlockInterval > 0},
		{"RECORD_TTL_BLOCKS", c.RecordTTLBlocks > 0},
		{"ENVELOPE_TIMEOUT", c.EnvelopeTimeout > 0},
		{"DISPATCH_CONCURRENCY", c.DispatchConcurrency > 0},
		{"HEALTH_CHECK_TIMEOUT", c.HealthCheckTimeout > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return agenterr.New(agenterr.CodeConfiguration, "%s - %s must be positive", logPrefix, chk.name)
		}
	}
	if c.AlmanacCacheSize < 0 {
		return agenterr.New(agenterr.CodeConfiguration, "%s - ALMANAC_CACHE_SIZE must not be negative", logPrefix)
	}
	if c.AlmanacCacheSize > 0 && c.AlmanacCacheTTL <= 0 {
		return agenterr.New(agenterr.CodeConfiguration, "%s - ALMANAC_CACHE_TTL must be positive", logPrefix)
	}
	if c.RegistrationDenom == "" {
		return agenterr.New(agenterr.CodeConfiguration, "%s - REGISTRATION_DENOM is required", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear, seed).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return agenterr.New(agenterr.CodeConfiguration, "%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// Endpoints parses AGENT_ENDPOINTS, defaulting to this process's /submit endpoint.
func (c *Config) Endpoints() ([]endpoint.Endpoint, error) {
	if strings.TrimSpace(c.AgentEndpoints) == "" {
		return []endpoint.Endpoint{{URL: fmt.Sprintf("http://127.0.0.1:%d/submit", c.HTTPPort), Weight: endpoint.DefaultWeight}}, nil
	}
	return endpoint.ParseConfigString(c.AgentEndpoints)
}

// ServiceLocation parses AGENTVERSE. ok is false when it is unset.
func (c *Config) ServiceLocation() (loc mailbox.Location, ok bool, err error) {
	s := strings.TrimSpace(c.Agentverse)
	if s == "" {
		return mailbox.Location{}, false, nil
	}
	if strings.HasPrefix(s, "{") {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return mailbox.Location{}, false, agenterr.Wrap(agenterr.CodeConfiguration, err, "%s - AGENTVERSE is not valid JSON", logPrefix)
		}
		loc, err = mailbox.Parse(m)
		return loc, err == nil, err
	}
	return mailbox.ParseString(s), true, nil
}

// AlmanacAPIBase returns ALMANAC_API_URL, or the almanac API of AGENTVERSE, or "" when
// neither is set.
func (c *Config) AlmanacAPIBase() string {
	if c.AlmanacAPIURL != "" {
		return c.AlmanacAPIURL
	}
	if loc, ok, err := c.ServiceLocation(); ok && err == nil {
		return loc.AlmanacAPIURL()
	}
	return ""
}

// RecordTTL is the lifetime of a published record.
func (c *Config) RecordTTL() time.Duration {
	return time.Duration(c.RecordTTLBlocks) * c.AverageBlockInterval
}

// Fee is the registration fee.
func (c *Config) Fee() almanac.Coin {
	return almanac.Coin{Amount: c.RegistrationFee, Denom: c.RegistrationDenom}
}
