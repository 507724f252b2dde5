// Package envelope implements the signed container for one inter-agent
// message and the bounded history log used for inspection.
package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/agentwire-protocol/agentwire/internal/identity"
)

// Version is the envelope wire-format version produced by this implementation.
const Version = 1

var ErrSignature = errors.New("envelope signature missing or invalid")

// Envelope is the signed message container exchanged between agents. Field
// names and the digest layout below are part of the wire contract. An
// envelope is immutable after signing; changing any field afterwards without
// re-signing is a caller error.
type Envelope struct {
	Version        int     `json:"version"`
	Sender         string  `json:"sender"`
	Target         string  `json:"target"`
	Session        string  `json:"session"`
	SchemaDigest   string  `json:"schema_digest"`
	ProtocolDigest string  `json:"protocol_digest,omitempty"`
	Payload        string  `json:"payload,omitempty"`
	Expires        *int64  `json:"expires,omitempty"`
	Nonce          *uint64 `json:"nonce,omitempty"`
	Signature      string  `json:"signature,omitempty"`
}

// New creates an unsigned envelope for one outbound message.
func New(sender, target, session, schemaDigest string) *Envelope {
	return &Envelope{
		Version:      Version,
		Sender:       sender,
		Target:       target,
		Session:      session,
		SchemaDigest: schemaDigest,
	}
}

// EncodePayload stores raw as the envelope's base64 payload.
func (e *Envelope) EncodePayload(raw []byte) {
	e.Payload = base64.StdEncoding.EncodeToString(raw)
}

// DecodePayload returns the decoded payload bytes. An envelope with no
// payload decodes to an empty slice.
func (e *Envelope) DecodePayload() ([]byte, error) {
	if e.Payload == "" {
		return []byte{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}
	return raw, nil
}

// Sign computes the envelope digest and sets the signature. No other field
// is touched.
func (e *Envelope) Sign(id *identity.Identity) {
	e.Signature = id.Sign(e.digest())
}

// Verify recomputes the envelope digest and checks the signature against the
// sender's public key.
func (e *Envelope) Verify() error {
	if e.Signature == "" {
		return fmt.Errorf("%w: envelope is unsigned", ErrSignature)
	}
	if err := identity.Verify(e.Sender, e.digest(), e.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}

// digest hashes the signed fields in their fixed wire order. Optional fields
// are included only when present; integers are 8-byte big-endian.
func (e *Envelope) digest() []byte {
	h := sha256.New()
	h.Write([]byte(e.Sender))
	h.Write([]byte(e.Target))
	h.Write([]byte(e.Session))
	h.Write([]byte(e.SchemaDigest))
	if e.Payload != "" {
		h.Write([]byte(e.Payload))
	}
	var buf [8]byte
	if e.Expires != nil {
		binary.BigEndian.PutUint64(buf[:], uint64(*e.Expires))
		h.Write(buf[:])
	}
	if e.Nonce != nil {
		binary.BigEndian.PutUint64(buf[:], *e.Nonce)
		h.Write(buf[:])
	}
	return h.Sum(nil)
}
