// Package witness models witness sets and the stateless registry that
// derives the current set per namespace from the chain.
package witness

import (
	"encoding/json"
	"sort"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/dgerr"
	"github.com/decisiongraph/core/pkg/validate"
)

// Predicates carried by witness-set bearing cells.
const (
	PredicateGenesis    = "genesis"
	PredicateWitnessSet = "witness_set"
)

// Set is an immutable witness-set value. New versions are appended to the
// chain as policy_head cells; a Set itself never changes.
type Set struct {
	Namespace string   `json:"namespace"`
	Witnesses []string `json:"witnesses"`
	Threshold int      `json:"threshold"`
}

// NewSet validates and freezes a witness set. Witness order is preserved;
// duplicates are rejected.
func NewSet(ns string, witnesses []string, threshold int) (*Set, error) {
	if err := validate.Namespace(ns); err != nil {
		return nil, err
	}
	if len(witnesses) == 0 {
		return nil, dgerr.New(dgerr.KindInputInvalid, "witness set is empty").
			WithDetail("field", "witnesses")
	}
	seen := make(map[string]bool, len(witnesses))
	for i, w := range witnesses {
		if w == "" || seen[w] {
			return nil, dgerr.New(dgerr.KindInputInvalid, "duplicate or empty witness").
				WithDetail("field", "witnesses").WithDetail("index", i)
		}
		seen[w] = true
	}
	if err := validate.Threshold(threshold, witnesses); err != nil {
		return nil, err
	}
	ws := make([]string, len(witnesses))
	copy(ws, witnesses)
	return &Set{Namespace: ns, Witnesses: ws, Threshold: threshold}, nil
}

// Contains reports membership.
func (s *Set) Contains(signerID string) bool {
	for _, w := range s.Witnesses {
		if w == signerID {
			return true
		}
	}
	return false
}

// setPayload is the seal-covered object carried by genesis and policy_head
// cells. Namespace lives in the fact, not the payload.
type setPayload struct {
	Threshold int      `json:"threshold"`
	Witnesses []string `json:"witnesses"`
}

// EncodeObject renders the set as the canonical JSON object string embedded
// in a cell's fact object, so the seal covers it.
func (s *Set) EncodeObject() (string, error) {
	b, err := canonical.Marshal(setPayload{Threshold: s.Threshold, Witnesses: s.Witnesses})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeObject parses a witness-set object payload back into a Set.
func DecodeObject(ns, object string) (*Set, error) {
	var p setPayload
	if err := json.Unmarshal([]byte(object), &p); err != nil {
		return nil, dgerr.Wrap(dgerr.KindIntegrityFail, "malformed witness set payload", err).
			WithDetail("field", "object")
	}
	return NewSet(ns, p.Witnesses, p.Threshold)
}

// ChainView is the read surface the registry needs. It is satisfied by
// *chain.Chain and by chain snapshots.
type ChainView interface {
	InOrder() []*cell.Cell
	Tail() *cell.Cell
}

// Registry derives witness sets from the chain on demand. It holds only the
// chain handle; correctness over throughput.
type Registry struct {
	view ChainView
}

// NewRegistry wraps a chain view.
func NewRegistry(view ChainView) *Registry {
	return &Registry{view: view}
}

// carriesSet reports whether c updates the witness set for its namespace.
func carriesSet(c *cell.Cell) bool {
	switch c.Header.CellType {
	case cell.TypeGenesis:
		return c.Fact.Predicate == PredicateGenesis || c.Fact.Predicate == PredicateWitnessSet
	case cell.TypePolicyHead:
		return c.Fact.Predicate == PredicateWitnessSet
	default:
		return false
	}
}

// Get returns the current witness set for ns: the latest update by chain
// position, or nil if the namespace never received one.
func (r *Registry) Get(ns string) (*Set, error) {
	if err := validate.Namespace(ns); err != nil {
		return nil, err
	}
	var latest *Set
	for _, c := range r.view.InOrder() {
		if !carriesSet(c) || c.Fact.Namespace != ns {
			continue
		}
		s, err := DecodeObject(ns, c.Fact.Object)
		if err != nil {
			return nil, err
		}
		latest = s
	}
	return latest, nil
}

// All returns the current witness set for every namespace that has one,
// keyed by namespace.
func (r *Registry) All() (map[string]*Set, error) {
	out := make(map[string]*Set)
	for _, c := range r.view.InOrder() {
		if !carriesSet(c) {
			continue
		}
		s, err := DecodeObject(c.Fact.Namespace, c.Fact.Object)
		if err != nil {
			return nil, err
		}
		out[c.Fact.Namespace] = s
	}
	return out, nil
}

// Namespaces lists the namespaces with a witness set, sorted.
func (r *Registry) Namespaces() ([]string, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for ns := range all {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}
