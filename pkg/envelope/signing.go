package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/morezero/agent-router/pkg/agenterr"
)

// Signer produces signatures for an agent identity. Wallet key handling is external.
type Signer interface {
	Address() string
	Sign(digest []byte) (string, error)
}

// Verifier checks that signature over digest was produced by sender.
type Verifier interface {
	Verify(sender string, digest []byte, signature string) error
}

// Sign stamps the signer's address as sender and signs the envelope. A signer failure
// leaves the envelope unsigned and is reported as INVALID_ENVELOPE.
func (e *Envelope) Sign(s Signer) error {
	e.Sender = s.Address()
	e.Signature = ""
	sig, err := s.Sign(e.SigningDigest())
	if err != nil {
		return agenterr.Wrap(agenterr.CodeInvalidEnvelope, err, "sign envelope for %s", e.Target)
	}
	e.Signature = sig
	return nil
}

// Verify checks the envelope signature. Unsigned envelopes fail verification.
func (e *Envelope) Verify(v Verifier) error {
	if !e.Signed() {
		return agenterr.New(agenterr.CodeInvalidEnvelope, "envelope from %s is not signed", e.Sender)
	}
	if err := v.Verify(e.Sender, e.SigningDigest(), e.Signature); err != nil {
		return agenterr.Wrap(agenterr.CodeInvalidEnvelope, err, "signature from %s does not verify", e.Sender)
	}
	return nil
}

// KeyedSigner signs with HMAC-SHA256 under a shared key. It stands in for a wallet in
// development deployments and tests.
type KeyedSigner struct {
	address string
	key     []byte
}

// NewKeyedSigner creates a KeyedSigner for address.
func NewKeyedSigner(address string, key []byte) *KeyedSigner {
	return &KeyedSigner{address: address, key: append([]byte(nil), key...)}
}

// Address returns the address the signer stamps as sender.
func (s *KeyedSigner) Address() string { return s.address }

// Sign returns the hex HMAC-SHA256 of digest.
func (s *KeyedSigner) Sign(digest []byte) (string, error) {
	return hex.EncodeToString(keyedMAC(s.key, digest)), nil
}

// KeyedVerifier verifies KeyedSigner signatures from a fixed set of sender keys.
type KeyedVerifier map[string][]byte

// Verify checks signature against the key held for sender. Unknown senders fail.
func (v KeyedVerifier) Verify(sender string, digest []byte, signature string) error {
	key, ok := v[sender]
	if !ok {
		return fmt.Errorf("no key for sender %s", sender)
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("signature is not hex: %w", err)
	}
	if !hmac.Equal(sig, keyedMAC(key, digest)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func keyedMAC(key, digest []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(digest)
	return m.Sum(nil)
}
