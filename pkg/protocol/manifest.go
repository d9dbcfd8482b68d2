package protocol

import (
	"reflect"

	"github.com/morezero/agent-router/pkg/digest"
)

// Manifest describes a protocol for publication alongside an agent's registration.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Digest       digest.Digest   `json:"digest"`
	Models       []ModelManifest `json:"models"`
	Interactions []Interaction   `json:"interactions"`
}

// ModelManifest is one message schema.
type ModelManifest struct {
	Digest digest.Digest `json:"digest"`
	Schema string        `json:"schema"`
}

// Interaction is one accepted message and its declared replies.
type Interaction struct {
	Request   digest.Digest   `json:"request"`
	Responses []digest.Digest `json:"responses"`
}

// Manifest builds the protocol manifest. Reply models appear in Models too.
func (p *Protocol) Manifest() *Manifest {
	m := &Manifest{Name: p.name, Version: p.version, Digest: p.Digest()}

	schemas := make(map[digest.Digest]string)
	for _, h := range p.Handlers() {
		schemas[h.Digest] = schemaOf(h.Model)
		for d, t := range h.Replies {
			schemas[d] = schemaOf(t)
		}
		m.Interactions = append(m.Interactions, Interaction{
			Request:   h.Digest,
			Responses: sortedKeys(h.Replies),
		})
	}
	for _, t := range p.intervalMessages {
		schemas[digest.ForType(t)] = schemaOf(t)
	}

	keys := make([]digest.Digest, 0, len(schemas))
	for d := range schemas {
		keys = append(keys, d)
	}
	sortDigests(keys)
	for _, d := range keys {
		m.Models = append(m.Models, ModelManifest{Digest: d, Schema: schemas[d]})
	}
	return m
}

func schemaOf(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return digest.Schema(t)
}
