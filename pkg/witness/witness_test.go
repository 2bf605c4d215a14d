package witness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisiongraph/core/pkg/cell"
)

func TestNewSetValidation(t *testing.T) {
	s, err := NewSet("corp", []string{"alice", "bob"}, 2)
	require.NoError(t, err)
	assert.True(t, s.Contains("alice"))
	assert.False(t, s.Contains("mallory"))

	_, err = NewSet("corp", nil, 1)
	assert.Error(t, err)
	_, err = NewSet("corp", []string{"alice", "alice"}, 1)
	assert.Error(t, err)
	_, err = NewSet("corp", []string{"alice"}, 2)
	assert.Error(t, err)
	_, err = NewSet("corp..bad", []string{"alice"}, 1)
	assert.Error(t, err)
}

func TestObjectEncodingRoundTrip(t *testing.T) {
	s, err := NewSet("corp", []string{"alice", "bob"}, 2)
	require.NoError(t, err)

	obj, err := s.EncodeObject()
	require.NoError(t, err)
	assert.Equal(t, `{"threshold":2,"witnesses":["alice","bob"]}`, obj)

	back, err := DecodeObject("corp", obj)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	_, err = DecodeObject("corp", "not json")
	assert.Error(t, err)
}

// fakeView satisfies ChainView without a real chain.
type fakeView struct{ cells []*cell.Cell }

func (v *fakeView) InOrder() []*cell.Cell { return v.cells }
func (v *fakeView) Tail() *cell.Cell {
	if len(v.cells) == 0 {
		return nil
	}
	return v.cells[len(v.cells)-1]
}

func setCell(t *testing.T, typ cell.Type, predicate, ns string, witnesses []string, threshold int, prev string) *cell.Cell {
	t.Helper()
	s, err := NewSet(ns, witnesses, threshold)
	require.NoError(t, err)
	obj, err := s.EncodeObject()
	require.NoError(t, err)
	c, err := cell.New(cell.Params{
		Type:          typ,
		Timestamp:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PrevCellHash:  prev,
		Namespace:     ns,
		Subject:       "ns:" + ns,
		Predicate:     predicate,
		Object:        obj,
		Confidence:    1.0,
		SourceQuality: cell.SourceVerified,
	})
	require.NoError(t, err)
	return c
}

func TestRegistryLatestByChainPositionWins(t *testing.T) {
	genesis := setCell(t, cell.TypeGenesis, PredicateGenesis, "corp", []string{"alice", "bob"}, 2, cell.NullHash)
	update1 := setCell(t, cell.TypePolicyHead, PredicateWitnessSet, "corp", []string{"alice", "bob", "carol"}, 2, genesis.CellID)
	update2 := setCell(t, cell.TypePolicyHead, PredicateWitnessSet, "corp", []string{"carol", "dave"}, 1, update1.CellID)

	reg := NewRegistry(&fakeView{cells: []*cell.Cell{genesis, update1, update2}})
	s, err := reg.Get("corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, s.Witnesses)
	assert.Equal(t, 1, s.Threshold)
}

func TestRegistryGenesisDefault(t *testing.T) {
	genesis := setCell(t, cell.TypeGenesis, PredicateGenesis, "corp", []string{"alice", "bob"}, 2, cell.NullHash)
	reg := NewRegistry(&fakeView{cells: []*cell.Cell{genesis}})

	s, err := reg.Get("corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, s.Witnesses)

	missing, err := reg.Get("corp.hr")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRegistryAll(t *testing.T) {
	genesis := setCell(t, cell.TypeGenesis, PredicateGenesis, "corp", []string{"alice"}, 1, cell.NullHash)
	sub := setCell(t, cell.TypePolicyHead, PredicateWitnessSet, "corp.hr", []string{"bob"}, 1, genesis.CellID)

	reg := NewRegistry(&fakeView{cells: []*cell.Cell{genesis, sub}})
	all, err := reg.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	names, err := reg.Namespaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"corp", "corp.hr"}, names)
}

func TestMemoRegistryTracksHead(t *testing.T) {
	genesis := setCell(t, cell.TypeGenesis, PredicateGenesis, "corp", []string{"alice"}, 1, cell.NullHash)
	view := &fakeView{cells: []*cell.Cell{genesis}}
	memo := NewMemoRegistry(view)

	s1, err := memo.Get("corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, s1.Witnesses)

	// Cached result for the same head.
	s2, err := memo.Get("corp")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	// A new head invalidates by key change.
	update := setCell(t, cell.TypePolicyHead, PredicateWitnessSet, "corp", []string{"bob"}, 1, genesis.CellID)
	view.cells = append(view.cells, update)
	s3, err := memo.Get("corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, s3.Witnesses)
}
