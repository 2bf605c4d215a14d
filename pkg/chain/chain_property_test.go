//go:build property
// +build property

// Property-based tests for chain shape and cell sealing.
package chain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/decisiongraph/core/pkg/cell"
)

var propEpoch = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

// TestChainShapeUnderValidAppends verifies the structural invariants hold
// after any interleaving of valid appends: genesis first, custody links,
// monotone timestamps.
func TestChainShapeUnderValidAppends(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	subjectGen := gen.RegexMatch(`[a-z]{1,8}`)
	predicateGen := gen.RegexMatch(`[a-z]{1,8}`)
	offsetsGen := gen.SliceOf(gen.IntRange(0, 3600))

	properties.Property("appended chains keep genesis-first custody and monotone time", prop.ForAll(
		func(subjects []string, predicates []string, offsets []int) bool {
			ch, err := Bootstrap("graph-prop", GenesisParams{
				RootNamespace: "corp",
				Witnesses:     []string{"alice"},
				Threshold:     1,
				Timestamp:     propEpoch,
			})
			if err != nil {
				return false
			}
			last := propEpoch
			n := len(subjects)
			if len(predicates) < n {
				n = len(predicates)
			}
			if len(offsets) < n {
				n = len(offsets)
			}
			for i := 0; i < n; i++ {
				// Valid appends only: time never goes backwards.
				last = last.Add(time.Duration(offsets[i]) * time.Second)
				f, err := ch.NewFactCell(FactParams{
					Namespace: "corp",
					Subject:   "user:" + subjects[i],
					Predicate: "p_" + predicates[i],
					Object:    "doc:1",
					Confidence: 0.5, SourceQuality: cell.SourceInferred,
					Timestamp: last,
				})
				if err != nil {
					return false
				}
				if err := ch.Append(f); err != nil {
					return false
				}
			}

			cells := ch.InOrder()
			if cells[0].Header.CellType != cell.TypeGenesis {
				return false
			}
			if cells[0].Header.PrevCellHash != cell.NullHash {
				return false
			}
			for i := 1; i < len(cells); i++ {
				if cells[i].Header.PrevCellHash != cells[i-1].CellID {
					return false
				}
				if cells[i].Header.Timestamp < cells[i-1].Header.Timestamp {
					return false
				}
				if cells[i].ComputeID() != cells[i].CellID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(subjectGen),
		gen.SliceOf(predicateGen),
		offsetsGen,
	))

	properties.TestingRun(t)
}

// TestSealHashTotality verifies every constructed cell satisfies
// hash(seal_bytes(c)) == cell_id regardless of field content.
func TestSealHashTotality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cell ids always match seal hashes", prop.ForAll(
		func(subject, predicate, object string, conf int) bool {
			c, err := cell.New(cell.Params{
				Type:          cell.TypeFact,
				Timestamp:     propEpoch,
				PrevCellHash:  cell.NullHash,
				Namespace:     "corp",
				Subject:       "user:" + subject,
				Predicate:     "p_" + predicate,
				Object:        object,
				Confidence:    float64(conf) / 100,
				SourceQuality: cell.SourceInferred,
			})
			if err != nil {
				// Rejected inputs are fine; the property covers accepted cells.
				return true
			}
			return c.ComputeID() == c.CellID && c.MerkleRoot() == c.Proof.MerkleRoot
		},
		gen.RegexMatch(`[a-z0-9_]{1,16}`),
		gen.RegexMatch(`[a-z0-9_]{1,16}`),
		gen.AlphaString(),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
