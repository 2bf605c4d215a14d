package scholar

import (
	"fmt"
	"strings"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/namespace"
)

// Edge relations inside a proof bundle.
const (
	RelationExtends  = "extends"  // cell -> predecessor present in bundle
	RelationAnchors  = "anchors"  // decision -> rule
	RelationDeclares = "declares" // namespace_def -> parent's def in bundle
	RelationBridges  = "bridges"  // bridge cell -> cells it made visible
)

// Edge is one dependency reference between bundle cells, by cell_id.
type Edge struct {
	From     string `json:"from_cell_id"`
	To       string `json:"to_cell_id"`
	Relation string `json:"relation"`
}

// ProofBundle is the minimal evidence set Scholar surfaces for a query.
type ProofBundle struct {
	Cells   []*cell.Cell `json:"cells"`
	Edges   []Edge       `json:"edges"`
	Context Context      `json:"context"`
}

// ToProofBundle materializes the bundle: the supporting cells in chain order,
// then the fact cells in chain order, with one edge per dependency.
func (r *QueryResult) ToProofBundle() *ProofBundle {
	inBundle := make(map[string]*cell.Cell)
	var cells []*cell.Cell
	add := func(cl *cell.Cell) {
		if _, ok := inBundle[cl.CellID]; ok {
			return
		}
		inBundle[cl.CellID] = cl
		cells = append(cells, cl)
	}
	for _, cl := range r.Supporting {
		add(cl)
	}
	for _, cl := range r.Facts {
		add(cl)
	}

	var edges []Edge
	seen := make(map[Edge]bool)
	addEdge := func(e Edge) {
		if e.From == e.To || seen[e] {
			return
		}
		seen[e] = true
		edges = append(edges, e)
	}

	for _, cl := range cells {
		if _, ok := inBundle[cl.Header.PrevCellHash]; ok {
			addEdge(Edge{From: cl.CellID, To: cl.Header.PrevCellHash, Relation: RelationExtends})
		}
		if cl.Header.CellType == cell.TypeDecision && cl.LogicAnchor != nil {
			for _, other := range cells {
				if other.Header.CellType == cell.TypeRule && other.LogicAnchor != nil &&
					other.LogicAnchor.RuleID == cl.LogicAnchor.RuleID {
					addEdge(Edge{From: cl.CellID, To: other.CellID, Relation: RelationAnchors})
				}
			}
		}
		if cl.Header.CellType == cell.TypeBridgeRule {
			for _, f := range r.Facts {
				if namespace.IsPrefix(cl.Fact.Object, f.Fact.Namespace) {
					addEdge(Edge{From: cl.CellID, To: f.CellID, Relation: RelationBridges})
				}
			}
		}
		if cl.Header.CellType == cell.TypeNamespaceDef {
			parent := namespace.Parent(cl.Fact.Namespace)
			for _, other := range cells {
				if other.Header.CellType == cell.TypeNamespaceDef && other.Fact.Namespace == parent {
					addEdge(Edge{From: cl.CellID, To: other.CellID, Relation: RelationDeclares})
				}
			}
		}
	}

	return &ProofBundle{Cells: cells, Edges: edges, Context: r.Context}
}

// CanonicalBytes returns the bundle's canonical encoding — the signing input
// for proof packets. Signer and verifier share this routine byte for byte.
func (b *ProofBundle) CanonicalBytes() ([]byte, error) {
	return canonical.Marshal(b)
}

// AuditText renders a deterministic human-readable report: the same bundle
// always yields identical text.
func (b *ProofBundle) AuditText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "decision graph audit report\n")
	fmt.Fprintf(&sb, "graph:     %s\n", b.Context.GraphID)
	fmt.Fprintf(&sb, "namespace: %s\n", b.Context.Namespace)
	fmt.Fprintf(&sb, "requester: %s (%s)\n", b.Context.RequesterID, b.Context.RequesterNamespace)
	if b.Context.AsOfSystemTime != "" {
		fmt.Fprintf(&sb, "as of:     %s\n", b.Context.AsOfSystemTime)
	}
	fmt.Fprintf(&sb, "tail:      %s\n", b.Context.ObservedTail)
	fmt.Fprintf(&sb, "\ncells (%d):\n", len(b.Cells))
	for _, cl := range b.Cells {
		fmt.Fprintf(&sb, "  %s  %-13s %s  %s", cell.ShortID(cl.CellID), cl.Header.CellType,
			cl.Header.Timestamp, cl.Fact.Namespace)
		if cl.Fact.Subject != "" {
			fmt.Fprintf(&sb, "  %s %s %s", cl.Fact.Subject, cl.Fact.Predicate, truncate(cl.Fact.Object, 48))
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "\nedges (%d):\n", len(b.Edges))
	for _, e := range b.Edges {
		fmt.Fprintf(&sb, "  %s -%s-> %s\n", cell.ShortID(e.From), e.Relation, cell.ShortID(e.To))
	}
	return sb.String()
}

// DOT renders the bundle as a Graphviz digraph: one node per cell, one edge
// per dependency.
func (b *ProofBundle) DOT() string {
	var sb strings.Builder
	sb.WriteString("digraph proof_bundle {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, fontname=\"monospace\"];\n")
	for _, cl := range b.Cells {
		fmt.Fprintf(&sb, "  %q [label=\"%s\\n%s\\n%s\"];\n",
			cell.ShortID(cl.CellID), cl.Header.CellType, cl.Fact.Namespace, cell.ShortID(cl.CellID))
	}
	for _, e := range b.Edges {
		fmt.Fprintf(&sb, "  %q -> %q [label=%q];\n",
			cell.ShortID(e.From), cell.ShortID(e.To), e.Relation)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
