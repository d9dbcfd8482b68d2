package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const logPrefix = "bootstrap:loader"

// EnvFile names the environment variable holding a bootstrap file path.
const EnvFile = "RESOLVER_BOOTSTRAP_FILE"

// LoadBootstrapConfig loads bootstrap config from file paths or environment.
// It tries paths in order: first any paths passed in, then RESOLVER_BOOTSTRAP_FILE env, then defaults.
// So an explicit path (e.g. from "seed my.json") is tried before the env var.
func LoadBootstrapConfig(paths ...string) (*BootstrapConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/bootstrap.json", "bootstrap.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg BootstrapConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse bootstrap file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded bootstrap config from %s (%d rules, %d names)",
			logPrefix, p, len(cfg.Rules), len(cfg.Names)))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default bootstrap config", logPrefix))
	return GetDefaultBootstrapConfig(), nil
}

// GetDefaultBootstrapConfig returns the fallback configuration: no rules and no names.
func GetDefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Name:        "agent-router-bootstrap",
		Version:     "1.0.0",
		Description: "Default resolver bootstrap configuration",
		Rules:       map[string][]string{},
		Names:       map[string]string{},
	}
}

// CreateResolvedBootstrap builds a ResolvedBootstrap for fast lookups.
func CreateResolvedBootstrap(cfg *BootstrapConfig) *ResolvedBootstrap {
	rules := make(map[string][]string, len(cfg.Rules))
	for addr, urls := range cfg.Rules {
		rules[addr] = append([]string(nil), urls...)
	}

	names := make(map[string]string, len(cfg.Names))
	for name, addr := range cfg.Names {
		names[name] = addr
	}

	return &ResolvedBootstrap{
		name:    cfg.Name,
		version: cfg.Version,
		rules:   rules,
		names:   names,
	}
}

// MergeBootstrapConfigs merges an override config into a base config. Override rules
// replace base rules for the same address.
func MergeBootstrapConfigs(base, override *BootstrapConfig) *BootstrapConfig {
	merged := *base

	merged.Rules = make(map[string][]string, len(base.Rules)+len(override.Rules))
	for addr, urls := range base.Rules {
		merged.Rules[addr] = urls
	}
	for addr, urls := range override.Rules {
		merged.Rules[addr] = urls
	}

	merged.Names = make(map[string]string, len(base.Names)+len(override.Names))
	for name, addr := range base.Names {
		merged.Names[name] = addr
	}
	for name, addr := range override.Names {
		merged.Names[name] = addr
	}

	if override.Version != "" {
		merged.Version = override.Version
	}
	return &merged
}
