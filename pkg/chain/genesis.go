package chain

import (
	"time"

	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/signer"
	"github.com/decisiongraph/core/pkg/witness"
)

// GenesisParams bootstraps a graph: the root namespace and its initial
// witness set.
type GenesisParams struct {
	RootNamespace string
	Witnesses     []string
	Threshold     int
	Timestamp     time.Time

	// Signer optionally seals the genesis with an admin identity so later
	// ownership checks can verify keys.
	Signer *signer.Signer
}

// NewGenesisCell builds the unique bootstrap cell. Commit is still guarded
// by the gate; this only assembles and seals the record.
func NewGenesisCell(p GenesisParams) (*cell.Cell, error) {
	set, err := witness.NewSet(p.RootNamespace, p.Witnesses, p.Threshold)
	if err != nil {
		return nil, err
	}
	object, err := set.EncodeObject()
	if err != nil {
		return nil, err
	}
	c, err := cell.New(cell.Params{
		Type:          cell.TypeGenesis,
		Timestamp:     p.Timestamp,
		PrevCellHash:  cell.NullHash,
		Namespace:     p.RootNamespace,
		Subject:       "ns:" + p.RootNamespace,
		Predicate:     witness.PredicateGenesis,
		Object:        object,
		Confidence:    1.0,
		SourceQuality: cell.SourceVerified,
	})
	if err != nil {
		return nil, err
	}
	if p.Signer != nil {
		signCell(c, p.Signer)
	}
	return c, nil
}

// Bootstrap creates a chain and commits its genesis in one step.
func Bootstrap(graphID string, p GenesisParams) (*Chain, error) {
	g, err := NewGenesisCell(p)
	if err != nil {
		return nil, err
	}
	ch := New(graphID)
	if err := ch.Append(g); err != nil {
		return nil, err
	}
	return ch, nil
}
