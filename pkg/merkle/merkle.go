// Package merkle computes merkle roots and membership proofs over a cell's
// canonical field map. The root is stored in each cell's proof block and
// rechecked by the commit gate.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// leafPrefix and nodePrefix domain-separate leaf and interior hashes.
const (
	leafPrefix = "dg:leaf:v1"
	nodePrefix = "dg:node:v1"
)

// Leaf is one hashed (path, value) pair.
type Leaf struct {
	Path string
	Hash string
}

// Tree holds the leaves and the levels of interior hashes.
type Tree struct {
	Leaves []Leaf
	Levels [][]string
	Root   string
}

func hashLeaf(path string, value []byte) string {
	h := sha256.New()
	h.Write([]byte(leafPrefix))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(value)
	return hex.EncodeToString(h.Sum(nil))
}

func hashNode(left, right string) string {
	h := sha256.New()
	h.Write([]byte(nodePrefix))
	h.Write([]byte{0})
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}

// Build constructs a tree from path -> canonical value bytes. Paths are
// sorted, so the same map always yields the same root. An empty map yields
// the hash of the empty string, keeping the root field total.
func Build(fields map[string][]byte) *Tree {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	leaves := make([]Leaf, len(paths))
	level := make([]string, len(paths))
	for i, p := range paths {
		lh := hashLeaf(p, fields[p])
		leaves[i] = Leaf{Path: p, Hash: lh}
		level[i] = lh
	}

	t := &Tree{Leaves: leaves}
	if len(level) == 0 {
		sum := sha256.Sum256(nil)
		t.Root = hex.EncodeToString(sum[:])
		return t
	}

	t.Levels = append(t.Levels, level)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashNode(level[i], level[i+1]))
			} else {
				// Odd node is promoted by pairing with itself.
				next = append(next, hashNode(level[i], level[i]))
			}
		}
		level = next
		t.Levels = append(t.Levels, level)
	}
	t.Root = level[0]
	return t
}

// Root is a convenience for callers that only need the digest.
func Root(fields map[string][]byte) string {
	return Build(fields).Root
}

// ProofStep is one sibling hash on the path to the root.
type ProofStep struct {
	Hash string
	Left bool // sibling sits on the left
}

// Proof demonstrates membership of a single path.
type Proof struct {
	Path  string
	Leaf  string
	Steps []ProofStep
}

// Prove produces a membership proof for path, or nil if absent.
func (t *Tree) Prove(path string) *Proof {
	idx := -1
	for i, l := range t.Leaves {
		if l.Path == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	p := &Proof{Path: path, Leaf: t.Leaves[idx].Hash}
	for _, level := range t.Levels[:len(t.Levels)-1] {
		sib := idx ^ 1
		if sib >= len(level) {
			sib = idx // odd node paired with itself
		}
		p.Steps = append(p.Steps, ProofStep{Hash: level[sib], Left: sib < idx})
		idx /= 2
	}
	return p
}

// VerifyProof recomputes the root from a proof.
func VerifyProof(p *Proof, root string) bool {
	if p == nil {
		return false
	}
	h := p.Leaf
	for _, step := range p.Steps {
		if step.Left {
			h = hashNode(step.Hash, h)
		} else {
			h = hashNode(h, step.Hash)
		}
	}
	return h == root
}
