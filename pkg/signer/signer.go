// Package signer wraps the Ed25519 primitives used across the graph: key
// generation, sealing signatures, and boundary verification. Keys and
// signatures cross the boundary base64 URL-safe encoded.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"

	"github.com/decisiongraph/core/pkg/dgerr"
)

// SignatureSize is the fixed Ed25519 signature length.
const SignatureSize = ed25519.SignatureSize

var encoding = base64.RawURLEncoding

// GenerateKeyPair returns a fresh Ed25519 keypair.
func GenerateKeyPair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, dgerr.Wrap(dgerr.KindInternal, "key generation failed", err)
	}
	return priv, pub, nil
}

// Sign produces a 64-byte signature over data.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid signature of data under pub.
// A valid-format-but-wrong signature returns false without error.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// EncodeKey renders a public key in boundary form.
func EncodeKey(pub ed25519.PublicKey) string {
	return encoding.EncodeToString(pub)
}

// DecodeKey parses a boundary-form public key. Wrong encoding or size fails
// with dgerr.KindSignatureInvalid.
func DecodeKey(s string) (ed25519.PublicKey, error) {
	raw, err := encoding.DecodeString(s)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindSignatureInvalid, "malformed public key", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, dgerr.New(dgerr.KindSignatureInvalid, "wrong public key size")
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeSignature renders a signature in boundary form.
func EncodeSignature(sig []byte) string {
	return encoding.EncodeToString(sig)
}

// DecodeSignature parses a boundary-form signature.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := encoding.DecodeString(s)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindSignatureInvalid, "malformed signature", err)
	}
	if len(raw) != SignatureSize {
		return nil, dgerr.New(dgerr.KindSignatureInvalid, "wrong signature size")
	}
	return raw, nil
}

// Signer couples a private key with the identity it signs as.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	// ID is the identity recorded in proofs produced by this signer.
	ID string
}

// NewSigner creates a Signer with a fresh keypair.
func NewSigner(id string) (*Signer, error) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pub, ID: id}, nil
}

// FromPrivateKey wraps an existing key.
func FromPrivateKey(priv ed25519.PrivateKey, id string) *Signer {
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey), ID: id}
}

// Sign signs data with the held key.
func (s *Signer) Sign(data []byte) []byte {
	return Sign(s.priv, data)
}

// PublicKey returns the raw public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// PublicKeyString returns the boundary-form public key.
func (s *Signer) PublicKeyString() string { return EncodeKey(s.pub) }
