package server

import (
	"fmt"

	"github.com/morezero/agent-router/internal/config"
	"github.com/morezero/agent-router/pkg/dispatch"
	"github.com/morezero/agent-router/pkg/envelope"
	"github.com/morezero/agent-router/pkg/events"
	"github.com/morezero/agent-router/pkg/resolver"
	"github.com/morezero/agent-router/pkg/storage"
)

// EngineParams holds the collaborators NewEngine wires into the dispatch engine.
type EngineParams struct {
	Resolver  resolver.Resolver
	Transport dispatch.Transport
	Storage   storage.KV
	Publisher events.Publisher
}

// NewEngine builds the agent's dispatch engine from cfg with the ping protocol
// included. The returned signer is nil when no signing key is configured.
func NewEngine(cfg *config.Config, p EngineParams) (*dispatch.Engine, envelope.Signer, error) {
	var signer envelope.Signer
	if cfg.SigningKey != "" {
		signer = envelope.NewKeyedSigner(cfg.AgentAddress, []byte(cfg.SigningKey))
	}
	engine := dispatch.NewEngine(dispatch.Params{
		Address:         cfg.AgentAddress,
		Signer:          signer,
		Verifier:        peerVerifier(cfg),
		Resolver:        p.Resolver,
		Transport:       p.Transport,
		Storage:         p.Storage,
		Publisher:       p.Publisher,
		Concurrency:     cfg.DispatchConcurrency,
		EnvelopeTimeout: cfg.EnvelopeTimeout,
	})
	if err := engine.Include(PingProtocol()); err != nil {
		return nil, nil, fmt.Errorf("%s - failed to include ping protocol: %w", logPrefix, err)
	}
	return engine, signer, nil
}

// peerVerifier returns a verifier over the configured peer keys plus the agent's own
// key, or nil when neither is set.
func peerVerifier(cfg *config.Config) envelope.Verifier {
	if len(cfg.PeerKeys) == 0 && cfg.SigningKey == "" {
		return nil
	}
	v := make(envelope.KeyedVerifier, len(cfg.PeerKeys)+1)
	for addr, key := range cfg.PeerKeys {
		v[addr] = []byte(key)
	}
	if cfg.SigningKey != "" {
		v[cfg.AgentAddress] = []byte(cfg.SigningKey)
	}
	return v
}
