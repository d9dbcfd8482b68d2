package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/morezero/agent-router/pkg/agenterr"
)

const (
	testAgent    = "test-agent1qt0487g004xezsz8cte4827t7y847gzr5n6enwv6rrk09l0cjfl62rmnx79"
	mainnetAgent = "agent1qt0487g004xezsz8cte4827t7y847gzr5n6enwv6rrk09l0cjfl62rmnx79"
)

var envVars = []string{
	"COMMS_URL", "SERVICE_NAME",
	"AGENT_ADDRESS", "AGENT_ENDPOINTS", "AGENT_SIGNING_KEY", "AGENT_PEER_KEYS", "AGENTVERSE", "NETWORK",
	"RESOLVER_BOOTSTRAP_FILE",
	"DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"RUN_ALMANAC", "ALMANAC_SUBJECT", "ALMANAC_API_URL", "ALMANAC_REQUEST_TIMEOUT", "MAX_ENDPOINTS", "ALMANAC_CACHE_SIZE", "ALMANAC_CACHE_TTL",
	"REGISTRATION_FEE", "REGISTRATION_DENOM", "REGISTRATION_UPDATE_INTERVAL", "REGISTRATION_RETRY_INTERVAL",
	"AVERAGE_BLOCK_INTERVAL", "RECORD_TTL_BLOCKS",
	"ENVELOPE_TIMEOUT", "DISPATCH_CONCURRENCY",
	"HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "HTTP_ALLOWED_ORIGINS", "LOG_LEVEL",
}

func clearEnv() {
	for _, env := range envVars {
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.COMMSURL != "nats://127.0.0.1:4222" {
		t.Errorf("config:config_test - COMMSURL = %q, want %q", cfg.COMMSURL, "nats://127.0.0.1:4222")
	}
	if cfg.COMMSName != "agent-router" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "agent-router")
	}
	if cfg.Network != "testnet" {
		t.Errorf("config:config_test - Network = %q, want testnet", cfg.Network)
	}
	if cfg.DatabaseURL != "" || cfg.RunMigrations || cfg.RunAlmanac {
		t.Error("config:config_test - database and almanac must be off by default")
	}
	if cfg.AlmanacSubject != "almanac.v1" {
		t.Errorf("config:config_test - AlmanacSubject = %q", cfg.AlmanacSubject)
	}
	if cfg.MaxEndpoints != 10 {
		t.Errorf("config:config_test - MaxEndpoints = %d, want 10", cfg.MaxEndpoints)
	}
	if cfg.RegistrationFee != 500000000000000000 || cfg.RegistrationDenom != "atestfet" {
		t.Errorf("config:config_test - fee = %d%s", cfg.RegistrationFee, cfg.RegistrationDenom)
	}
	if cfg.RegistrationUpdateInterval != time.Hour || cfg.RegistrationRetryInterval != time.Minute {
		t.Errorf("config:config_test - intervals = %v/%v", cfg.RegistrationUpdateInterval, cfg.RegistrationRetryInterval)
	}
	if cfg.RecordTTL() != 4800*6*time.Second {
		t.Errorf("config:config_test - RecordTTL = %v", cfg.RecordTTL())
	}
	if cfg.EnvelopeTimeout != 30*time.Second || cfg.DispatchConcurrency != 64 {
		t.Errorf("config:config_test - dispatch = %v/%d", cfg.EnvelopeTimeout, cfg.DispatchConcurrency)
	}
	if cfg.AlmanacCacheSize != 1024 || cfg.AlmanacCacheTTL != 30*time.Second {
		t.Errorf("config:config_test - cache = %d/%v", cfg.AlmanacCacheSize, cfg.AlmanacCacheTTL)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("config:config_test - AllowedOrigins = %v, want none", cfg.AllowedOrigins)
	}
	if cfg.HTTPPort != 8000 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8000", cfg.HTTPPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv()
	overrides := map[string]string{
		"AGENT_ADDRESS":                testAgent,
		"AGENT_ENDPOINTS":              `["http://a/submit","http://b/submit"]`,
		"DATABASE_URL":                 "postgres://test@localhost/test",
		"RUN_ALMANAC":                  "true",
		"ALMANAC_REQUEST_TIMEOUT":      "2s",
		"MAX_ENDPOINTS":                "3",
		"REGISTRATION_UPDATE_INTERVAL": "10m",
		"HTTP_PORT":                    "9090",
		"HTTP_ALLOWED_ORIGINS":         "https://a.example,https://b.example",
		"LOG_LEVEL":                    "debug",
		"AGENT_PEER_KEYS":              mainnetAgent + ":peer-key",
	}
	for k, v := range overrides {
		os.Setenv(k, v)
	}
	defer clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if cfg.AgentAddress != testAgent || cfg.MaxEndpoints != 3 || cfg.HTTPPort != 9090 {
		t.Errorf("config:config_test - overrides not applied: %+v", cfg)
	}
	if cfg.AlmanacRequestTimeout != 2*time.Second || cfg.RegistrationUpdateInterval != 10*time.Minute {
		t.Errorf("config:config_test - durations not applied: %v %v", cfg.AlmanacRequestTimeout, cfg.RegistrationUpdateInterval)
	}
	if len(cfg.PeerKeys) != 1 || cfg.PeerKeys[mainnetAgent] != "peer-key" {
		t.Errorf("config:config_test - PeerKeys = %v", cfg.PeerKeys)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("config:config_test - AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	eps, err := cfg.Endpoints()
	if err != nil || len(eps) != 2 {
		t.Errorf("config:config_test - Endpoints = %v, %v", eps, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - ValidateForServe failed: %v", err)
	}
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	clearEnv()
	os.Setenv("HTTP_PORT", "not-a-port")
	defer clearEnv()

	if _, err := LoadConfig(); !errors.Is(err, agenterr.ErrConfiguration) {
		t.Errorf("config:config_test - expected CONFIGURATION_ERROR, got %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		AgentAddress:               testAgent,
		Network:                    "testnet",
		MaxEndpoints:               10,
		AlmanacRequestTimeout:      time.Second,
		RegistrationUpdateInterval: time.Hour,
		RegistrationRetryInterval:  time.Minute,
		AverageBlockInterval:       time.Second,
		RecordTTLBlocks:            10,
		EnvelopeTimeout:            time.Second,
		DispatchConcurrency:        1,
		HealthCheckTimeout:         time.Second,
		RegistrationDenom:          "atestfet",
		HTTPPort:                   8000,
	}
}

func TestValidateForServe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing address", func(c *Config) { c.AgentAddress = "" }, true},
		{"short address", func(c *Config) { c.AgentAddress = "test-agent1abc" }, true},
		{"network mismatch", func(c *Config) { c.AgentAddress = mainnetAgent }, true},
		{"mainnet", func(c *Config) { c.AgentAddress = mainnetAgent; c.Network = "mainnet" }, false},
		{"malformed endpoints", func(c *Config) { c.AgentEndpoints = `{"http://a":` }, true},
		{"empty endpoint list", func(c *Config) { c.AgentEndpoints = `[]` }, true},
		{"malformed agentverse", func(c *Config) { c.Agentverse = `{"base_url": 7}` }, true},
		{"agentverse string", func(c *Config) { c.Agentverse = "key@https://agentverse.ai" }, false},
		{"almanac without database", func(c *Config) { c.RunAlmanac = true }, true},
		{"zero concurrency", func(c *Config) { c.DispatchConcurrency = 0 }, true},
		{"zero retry", func(c *Config) { c.RegistrationRetryInterval = 0 }, true},
		{"no denom", func(c *Config) { c.RegistrationDenom = "" }, true},
		{"negative cache", func(c *Config) { c.AlmanacCacheSize = -1 }, true},
		{"cache without ttl", func(c *Config) { c.AlmanacCacheSize = 10 }, true},
		{"cache disabled", func(c *Config) { c.AlmanacCacheSize = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.ValidateForServe()
			if (err != nil) != tt.wantErr {
				t.Fatalf("config:config_test - err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, agenterr.ErrConfiguration) {
				t.Errorf("config:config_test - expected CONFIGURATION_ERROR, got %v", err)
			}
		})
	}
}

func TestValidateForDB(t *testing.T) {
	c := &Config{}
	if err := c.ValidateForDB(); err == nil {
		t.Error("config:config_test - expected error for empty DATABASE_URL")
	}
	c.DatabaseURL = "postgres://localhost/x"
	if err := c.ValidateForDB(); err != nil {
		t.Errorf("config:config_test - unexpected error: %v", err)
	}
}

func TestEndpoints_DefaultsToLocalSubmit(t *testing.T) {
	c := validConfig()
	c.HTTPPort = 8123
	eps, err := c.Endpoints()
	if err != nil || len(eps) != 1 || eps[0].URL != "http://127.0.0.1:8123/submit" || eps[0].Weight != 1 {
		t.Errorf("config:config_test - Endpoints = %v, %v", eps, err)
	}
}

func TestAlmanacAPIBase(t *testing.T) {
	c := validConfig()
	if c.AlmanacAPIBase() != "" {
		t.Errorf("config:config_test - expected no API by default, got %q", c.AlmanacAPIBase())
	}
	c.Agentverse = "https://staging.agentverse.ai"
	if got := c.AlmanacAPIBase(); got != "https://staging.agentverse.ai/v1/almanac/" {
		t.Errorf("config:config_test - AlmanacAPIBase = %q", got)
	}
	c.AlmanacAPIURL = "http://localhost:8000/v1/almanac/"
	if got := c.AlmanacAPIBase(); got != c.AlmanacAPIURL {
		t.Errorf("config:config_test - explicit ALMANAC_API_URL must win, got %q", got)
	}
}

func TestFee(t *testing.T) {
	c := validConfig()
	c.RegistrationFee = 42
	if fee := c.Fee(); fee.Amount != 42 || fee.Denom != "atestfet" {
		t.Errorf("config:config_test - Fee = %+v", fee)
	}
}
