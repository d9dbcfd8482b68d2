// Package envelope defines the transport container for one routed message.
package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/agent-router/pkg/agenterr"
)

// Version is the envelope format version written by New.
const Version = 1

// DefaultTimeout is the lifetime given to envelopes when Params.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Envelope carries one message between agents.
type Envelope struct {
	Version        int       `json:"version"`
	Sender         string    `json:"sender"`
	Target         string    `json:"target"`
	Session        uuid.UUID `json:"session"`
	SchemaDigest   string    `json:"schema_digest"`
	ProtocolDigest string    `json:"protocol_digest,omitempty"`
	// Payload is the base64 encoding of the JSON message.
	Payload string `json:"payload,omitempty"`
	// Expires is a unix timestamp in seconds; 0 means the envelope never expires.
	Expires   int64  `json:"expires,omitempty"`
	Nonce     uint64 `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Params holds the fields for New. A zero Session starts a new session.
type Params struct {
	Sender         string
	Target         string
	Session        uuid.UUID
	SchemaDigest   string
	ProtocolDigest string
	Timeout        time.Duration
	Nonce          uint64
	Now            func() time.Time
}

// New creates an unsigned envelope with no payload.
func New(p Params) *Envelope {
	session := p.Session
	if session == uuid.Nil {
		session = uuid.New()
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Envelope{
		Version:        Version,
		Sender:         p.Sender,
		Target:         p.Target,
		Session:        session,
		SchemaDigest:   p.SchemaDigest,
		ProtocolDigest: p.ProtocolDigest,
		Expires:        now().Add(timeout).Unix(),
		Nonce:          p.Nonce,
	}
}

// EncodePayload stores msg as the base64 JSON payload.
func (e *Envelope) EncodePayload(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("envelope: encode payload: %w", err)
	}
	e.Payload = base64.StdEncoding.EncodeToString(data)
	return nil
}

// PayloadJSON returns the decoded payload bytes.
func (e *Envelope) PayloadJSON() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInvalidEnvelope, err, "payload is not valid base64")
	}
	return data, nil
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v interface{}) error {
	data, err := e.PayloadJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return agenterr.Wrap(agenterr.CodeInvalidEnvelope, err, "payload does not match schema %s", e.SchemaDigest)
	}
	return nil
}

// Expired reports whether the envelope has passed its expiry at now.
func (e *Envelope) Expired(now time.Time) bool {
	return e.Expires != 0 && now.Unix() >= e.Expires
}

// Signed reports whether the envelope carries a signature.
func (e *Envelope) Signed() bool {
	return e.Signature != ""
}

// SigningDigest returns the sha256 digest the sender signs. It covers every field except
// Signature.
func (e *Envelope) SigningDigest() []byte {
	h := sha256.New()
	writeField := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeField(fmt.Sprintf("%d", e.Version))
	writeField(e.Sender)
	writeField(e.Target)
	writeField(e.Session.String())
	writeField(e.SchemaDigest)
	writeField(e.ProtocolDigest)
	writeField(e.Payload)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(e.Expires))
	h.Write(n[:])
	binary.BigEndian.PutUint64(n[:], e.Nonce)
	h.Write(n[:])
	return h.Sum(nil)
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a JSON envelope and checks its required fields.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInvalidEnvelope, err, "malformed envelope")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks that the routing fields are present.
func (e *Envelope) Validate() error {
	switch {
	case e.Version != Version:
		return agenterr.New(agenterr.CodeInvalidEnvelope, "unsupported envelope version %d", e.Version)
	case e.Sender == "":
		return agenterr.New(agenterr.CodeInvalidEnvelope, "envelope has no sender")
	case e.Target == "":
		return agenterr.New(agenterr.CodeInvalidEnvelope, "envelope has no target")
	case e.SchemaDigest == "":
		return agenterr.New(agenterr.CodeInvalidEnvelope, "envelope has no schema digest")
	}
	return nil
}
