package engine

import (
	"strings"

	"github.com/google/uuid"
)

// IDSource produces packet ids. The bundle hash is offered so deterministic
// sources can derive from content.
type IDSource interface {
	PacketID(bundleHash string) string
}

// DerivedIDs derives the packet id from the proof bundle hash: the same
// bundle always yields the same id, which keeps packets reproducible.
type DerivedIDs struct{}

func (DerivedIDs) PacketID(bundleHash string) string {
	if len(bundleHash) >= 32 {
		return bundleHash[:32]
	}
	return bundleHash
}

// RandomIDs mints a fresh 128-bit id per packet for deployments that prefer
// unlinkable packet ids over reproducibility.
type RandomIDs struct{}

func (RandomIDs) PacketID(string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
