// Package scholar resolves fact queries against a chain snapshot, honoring
// namespace visibility, and materializes the minimal evidence set as a
// ProofBundle.
package scholar

import (
	"log/slog"
	"sort"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/chain"
	"github.com/decisiongraph/core/pkg/dgerr"
	"github.com/decisiongraph/core/pkg/namespace"
	"github.com/decisiongraph/core/pkg/validate"
)

// Query carries validated query parameters. Optional filters are empty
// strings.
type Query struct {
	Namespace          string
	RequesterNamespace string
	RequesterID        string
	Subject            string
	Predicate          string
	Object             string
	AsOfSystemTime     string
}

// Scholar is a read-only view over a chain.
type Scholar struct {
	chain  *chain.Chain
	logger *slog.Logger
}

// New creates a Scholar over ch.
func New(ch *chain.Chain, logger *slog.Logger) *Scholar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scholar{chain: ch, logger: logger}
}

// QueryFacts resolves q against a consistent snapshot. Empty results with
// passing visibility are a success, not an error.
func (s *Scholar) QueryFacts(q Query) (*QueryResult, error) {
	if err := s.validateQuery(&q); err != nil {
		return nil, err
	}

	snap := s.chain.Snapshot()
	genesis := snap.Genesis()
	if genesis == nil {
		return nil, dgerr.New(dgerr.KindIntegrityFail, "chain has no genesis")
	}

	if q.AsOfSystemTime != "" {
		if q.AsOfSystemTime < genesis.Header.Timestamp {
			// Bridge time-travel protection: no observer existed before the
			// graph did.
			return nil, dgerr.New(dgerr.KindUnauthorized, "as-of time precedes genesis").
				WithDetail("field", "as_of_system_time")
		}
		snap = snap.CutAt(q.AsOfSystemTime)
	}

	cells := snap.InOrder()
	bridges := namespace.FoldBridges(cells)

	var facts []*cell.Cell
	supporting := make(map[string]*cell.Cell)
	var crossed []*namespace.Bridge

	for _, cl := range cells {
		if !cell.IsFactBearing(cl.Header.CellType) {
			continue
		}
		if !namespace.IsPrefix(q.Namespace, cl.Fact.Namespace) {
			continue
		}
		if !bridges.Visible(q.RequesterNamespace, cl.Fact.Namespace) {
			continue
		}
		if q.Subject != "" && cl.Fact.Subject != q.Subject {
			continue
		}
		if q.Predicate != "" && cl.Fact.Predicate != q.Predicate {
			continue
		}
		if q.Object != "" && cl.Fact.Object != q.Object {
			continue
		}
		facts = append(facts, cl)
		crossed = append(crossed, bridges.Crossings(q.RequesterNamespace, cl.Fact.Namespace)...)
	}

	// Supporting set: genesis, rule cells behind returned decisions, the
	// namespace definitions establishing visibility, and every bridge cell
	// consulted on a crossing.
	supporting[genesis.CellID] = genesis
	for _, f := range facts {
		if f.Header.CellType == cell.TypeDecision && f.LogicAnchor != nil {
			for _, cl := range cells {
				if cl.Header.CellType == cell.TypeRule && cl.LogicAnchor != nil &&
					cl.LogicAnchor.RuleID == f.LogicAnchor.RuleID {
					supporting[cl.CellID] = cl
				}
			}
		}
	}
	relevant := relevantNamespaces(q, facts)
	for _, cl := range cells {
		if cl.Header.CellType == cell.TypeNamespaceDef && relevant[cl.Fact.Namespace] {
			supporting[cl.CellID] = cl
		}
	}
	for _, b := range crossed {
		if bc, ok := snap.LookupByID(b.CellID); ok {
			supporting[bc.CellID] = bc
		}
	}

	res := &QueryResult{
		Facts:      facts,
		Supporting: orderByChain(cells, supporting),
		Context: Context{
			GraphID:            snap.GraphID(),
			Namespace:          q.Namespace,
			RequesterNamespace: q.RequesterNamespace,
			RequesterID:        q.RequesterID,
			AsOfSystemTime:     q.AsOfSystemTime,
			ObservedTail:       snap.Tail().CellID,
		},
	}
	s.logger.Debug("query resolved",
		"namespace", q.Namespace,
		"requester_namespace", q.RequesterNamespace,
		"facts", len(res.Facts),
		"supporting", len(res.Supporting))
	return res, nil
}

func (s *Scholar) validateQuery(q *Query) error {
	if err := validate.Namespace(q.Namespace); err != nil {
		return err
	}
	if err := validate.Namespace(q.RequesterNamespace); err != nil {
		return err
	}
	if q.RequesterID == "" {
		return dgerr.New(dgerr.KindInputInvalid, "requester id is empty").
			WithDetail("field", "requester_id")
	}
	if q.Subject != "" {
		if err := validate.Subject(q.Subject); err != nil {
			return err
		}
	}
	if q.Predicate != "" {
		if err := validate.Predicate(q.Predicate); err != nil {
			return err
		}
	}
	if err := validate.Object(q.Object); err != nil {
		return err
	}
	if q.AsOfSystemTime != "" {
		if _, err := canonical.ParseTimestamp(q.AsOfSystemTime); err != nil {
			return dgerr.AsError(err).WithDetail("field", "as_of_system_time")
		}
	}
	return nil
}

// relevantNamespaces collects the namespaces whose definitions establish the
// visibility of this query: the query root, the requester, every returned
// fact's namespace, and their ancestors.
func relevantNamespaces(q Query, facts []*cell.Cell) map[string]bool {
	out := make(map[string]bool)
	add := func(ns string) {
		out[ns] = true
		for _, a := range namespace.Ancestors(ns) {
			out[a] = true
		}
	}
	add(q.Namespace)
	add(q.RequesterNamespace)
	for _, f := range facts {
		add(f.Fact.Namespace)
	}
	return out
}

// orderByChain returns the supporting cells in chain order; among cells at
// equal position (never in practice) cell_id order breaks the tie.
func orderByChain(ordered []*cell.Cell, set map[string]*cell.Cell) []*cell.Cell {
	pos := make(map[string]int, len(ordered))
	for i, cl := range ordered {
		pos[cl.CellID] = i
	}
	out := make([]*cell.Cell, 0, len(set))
	for _, cl := range set {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := pos[out[i].CellID], pos[out[j].CellID]
		if pi != pj {
			return pi < pj
		}
		return out[i].CellID < out[j].CellID
	})
	return out
}

// Context describes the conditions a query was answered under.
type Context struct {
	GraphID            string `json:"graph_id"`
	Namespace          string `json:"namespace"`
	RequesterNamespace string `json:"requester_namespace"`
	RequesterID        string `json:"requester_id"`
	AsOfSystemTime     string `json:"as_of_system_time,omitempty"`
	ObservedTail       string `json:"observed_tail"`
}

// QueryResult carries matching fact cells plus the supporting set.
type QueryResult struct {
	Facts      []*cell.Cell
	Supporting []*cell.Cell
	Context    Context
}
