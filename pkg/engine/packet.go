package engine

import (
	"github.com/decisiongraph/core/pkg/scholar"
	"github.com/decisiongraph/core/pkg/signer"
)

// SignatureBlock is the detached signature attached to a signed packet.
type SignatureBlock struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signed_at"`
}

// ProofPacket is the externally verifiable wrapper around a proof bundle.
type ProofPacket struct {
	PacketVersion string               `json:"packet_version"`
	PacketID      string               `json:"packet_id"`
	GeneratedAt   string               `json:"generated_at"`
	GraphID       string               `json:"graph_id"`
	ProofBundle   *scholar.ProofBundle `json:"proof_bundle"`
	Signature     *SignatureBlock      `json:"signature"`
}

// VerifyProofPacket verifies a packet against the engine's public key. It
// returns false — never an error — when the signature is missing, the key or
// signature fail to decode, the key differs from the expected one, or the
// signature does not verify over the bundle's canonical bytes.
func VerifyProofPacket(p *ProofPacket, enginePublicKey string) bool {
	if p == nil || p.Signature == nil || p.ProofBundle == nil {
		return false
	}
	if p.Signature.Algorithm != "Ed25519" {
		return false
	}
	if enginePublicKey != "" && p.Signature.PublicKey != enginePublicKey {
		return false
	}
	pub, err := signer.DecodeKey(p.Signature.PublicKey)
	if err != nil {
		return false
	}
	sig, err := signer.DecodeSignature(p.Signature.Signature)
	if err != nil {
		return false
	}
	bundleBytes, err := p.ProofBundle.CanonicalBytes()
	if err != nil {
		return false
	}
	return signer.Verify(pub, bundleBytes, sig)
}
