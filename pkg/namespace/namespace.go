// Package namespace implements the dotted-path authority model: prefix
// algebra, cryptographic bridges, and the visibility predicate that gates
// every query.
package namespace

import (
	"strings"

	"github.com/decisiongraph/core/pkg/cell"
)

// Predicates carried by bridge_rule cells.
const (
	PredicateBridges = "bridges"
	PredicateRevoked = "revoked"
)

// IsPrefix reports whether a equals b or b lives in a's subtree.
func IsPrefix(a, b string) bool {
	return a == b || strings.HasPrefix(b, a+".")
}

// Parent returns the immediate parent path, or "" for a top-level namespace.
func Parent(ns string) string {
	i := strings.LastIndexByte(ns, '.')
	if i < 0 {
		return ""
	}
	return ns[:i]
}

// Ancestors returns every proper ancestor of ns, nearest first.
func Ancestors(ns string) []string {
	var out []string
	for p := Parent(ns); p != ""; p = Parent(p) {
		out = append(out, p)
	}
	return out
}

// Bridge is one directed link between namespace subtrees.
type Bridge struct {
	Source  string
	Target  string
	CellID  string
	Revoked bool
}

// BridgeSubject renders the seal-covered subject for a bridge cell.
func BridgeSubject(source string) string {
	return "bridge:" + source
}

// BridgeSet is the bridge state derived from a chain snapshot. Creation and
// revocation cells both stay in the chain; the set folds them in order, so
// the latest cell for a (source, target) pair wins.
type BridgeSet struct {
	bridges map[[2]string]*Bridge
}

// FoldBridges builds the bridge state from cells in chain order.
func FoldBridges(cells []*cell.Cell) *BridgeSet {
	s := &BridgeSet{bridges: make(map[[2]string]*Bridge)}
	for _, c := range cells {
		if c.Header.CellType != cell.TypeBridgeRule {
			continue
		}
		src, tgt := c.Fact.Namespace, c.Fact.Object
		key := [2]string{src, tgt}
		switch c.Fact.Predicate {
		case PredicateBridges:
			s.bridges[key] = &Bridge{Source: src, Target: tgt, CellID: c.CellID}
		case PredicateRevoked:
			if b, ok := s.bridges[key]; ok {
				b.Revoked = true
			} else {
				s.bridges[key] = &Bridge{Source: src, Target: tgt, CellID: c.CellID, Revoked: true}
			}
		}
	}
	return s
}

// Active returns the non-revoked bridges.
func (s *BridgeSet) Active() []*Bridge {
	var out []*Bridge
	for _, b := range s.bridges {
		if !b.Revoked {
			out = append(out, b)
		}
	}
	return out
}

// Visible implements the isolation predicate: origin O sees target T iff
// T is in O's subtree, O is in T's subtree, or an active bridge (S, D)
// exists with O inside S's subtree-or-equal and T inside D's subtree.
func (s *BridgeSet) Visible(origin, target string) bool {
	if IsPrefix(origin, target) || IsPrefix(target, origin) {
		return true
	}
	for _, b := range s.bridges {
		if b.Revoked {
			continue
		}
		if IsPrefix(b.Source, origin) && IsPrefix(b.Target, target) {
			return true
		}
	}
	return false
}

// Crossings returns the active bridges that grant origin visibility into
// target. Scholars cite these in the supporting set of a proof bundle.
func (s *BridgeSet) Crossings(origin, target string) []*Bridge {
	if IsPrefix(origin, target) || IsPrefix(target, origin) {
		return nil
	}
	var out []*Bridge
	for _, b := range s.bridges {
		if b.Revoked {
			continue
		}
		if IsPrefix(b.Source, origin) && IsPrefix(b.Target, target) {
			out = append(out, b)
		}
	}
	return out
}
