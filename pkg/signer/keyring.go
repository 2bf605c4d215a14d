package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/decisiongraph/core/pkg/dgerr"
)

// hkdfInfoPrefix domain-separates graph signing keys from any other use of
// the master seed.
const hkdfInfoPrefix = "decisiongraph/v1/signing/"

// Keyring derives per-graph Ed25519 signing keys from a single master seed,
// so a deployment rotates one secret while every graph keeps a distinct key.
type Keyring struct {
	seed []byte
}

// NewKeyring wraps a master seed. The seed must carry at least 32 bytes of
// entropy.
func NewKeyring(masterSeed []byte) (*Keyring, error) {
	if len(masterSeed) < 32 {
		return nil, dgerr.New(dgerr.KindInputInvalid, "master seed too short").
			WithDetail("field", "master_seed")
	}
	seed := make([]byte, len(masterSeed))
	copy(seed, masterSeed)
	return &Keyring{seed: seed}, nil
}

// DeriveSigner returns the deterministic signer for a graph. The same seed
// and graph ID always derive the same key.
func (k *Keyring) DeriveSigner(graphID string) (*Signer, error) {
	r := hkdf.New(sha256.New, k.seed, nil, []byte(hkdfInfoPrefix+graphID))
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, keySeed); err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "key derivation failed", err)
	}
	priv := ed25519.NewKeyFromSeed(keySeed)
	return FromPrivateKey(priv, "graph:"+graphID), nil
}
