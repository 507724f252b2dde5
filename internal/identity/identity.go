// Package identity implements agent key management and address derivation.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/hkdf"
)

// AddressPrefix is the human-readable part of every agent address.
const AddressPrefix = "agent"

// AddressLength is the fixed length of a bech32-encoded agent address:
// 5-char prefix, separator, 52 data chars, 6 checksum chars.
const AddressLength = 64

var (
	ErrInvalidAddress   = errors.New("invalid agent address")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Identity holds an agent's Ed25519 key pair and derived address.
// The address is immutable once generated.
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// Generate creates a new Identity with a fresh random key pair.
func Generate() *Identity {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return fromKeyPair(priv, pub)
}

// FromSeed derives a deterministic Identity from seed material and an index.
// The same seed and index always yield the same address.
func FromSeed(seed string, index uint64) (*Identity, error) {
	info := make([]byte, 8)
	binary.BigEndian.PutUint64(info, index)

	kdf := hkdf.New(sha256.New, []byte(seed), nil, info)
	key := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("seed derivation failed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(key)
	return fromKeyPair(priv, priv.Public().(ed25519.PublicKey)), nil
}

// FromPrivateKey restores an Identity from a base64-encoded private key.
func FromPrivateKey(privB64 string) (*Identity, error) {
	decoded, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 private key: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(decoded))
	}
	priv := ed25519.PrivateKey(decoded)
	return fromKeyPair(priv, priv.Public().(ed25519.PublicKey)), nil
}

func fromKeyPair(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Identity {
	return &Identity{
		privateKey: priv,
		publicKey:  pub,
		address:    encodeAddress(pub),
	}
}

// Address returns the agent's bech32 address.
func (i *Identity) Address() string {
	return i.address
}

// PrivateKey returns the base64-encoded private key for explicit key management.
func (i *Identity) PrivateKey() string {
	return base64.StdEncoding.EncodeToString(i.privateKey)
}

// Sign signs data and returns a base64-encoded signature.
func (i *Identity) Sign(data []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(i.privateKey, data))
}

// Verify checks a base64-encoded signature over data against the public key
// recovered from address.
func Verify(address string, data []byte, signatureB64 string) error {
	pub, err := decodeAddress(address)
	if err != nil {
		return err
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pub, data, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// IsValidAddress reports whether s is a well-formed agent address.
func IsValidAddress(s string) bool {
	if len(s) != AddressLength {
		return false
	}
	_, err := decodeAddress(s)
	return err == nil
}

func encodeAddress(pub ed25519.PublicKey) string {
	converted, err := bech32.ConvertBits(pub, 8, 5, true)
	if err != nil {
		panic(err)
	}
	addr, err := bech32.Encode(AddressPrefix, converted)
	if err != nil {
		panic(err)
	}
	return addr
}

func decodeAddress(address string) (ed25519.PublicKey, error) {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != AddressPrefix {
		return nil, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, hrp)
	}
	pub, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidAddress, ed25519.PublicKeySize, len(pub))
	}
	return ed25519.PublicKey(pub), nil
}
