// Package chain implements the append-only cell chain and its commit gate.
// The chain is the single authority for the cell set: one serialized append
// path, many concurrent readers, consistent snapshots.
package chain

import (
	"sync"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/dgerr"
	"github.com/decisiongraph/core/pkg/namespace"
	"github.com/decisiongraph/core/pkg/signer"
	"github.com/decisiongraph/core/pkg/witness"
)

// ownerRecord tracks who controls a namespace and, once seen, their key.
type ownerRecord struct {
	SignerID  string
	PublicKey string
}

// Chain is an append-only sequence of cells under one graph identity.
// Appends are serialized behind the gate; readers see a consistent snapshot
// up to the observed tail.
type Chain struct {
	mu      sync.RWMutex
	graphID string
	cells   []*cell.Cell
	byID    map[string]int

	// Derived state, rebuilt incrementally on each accepted append.
	rules      map[string]*cell.Cell  // rule_id -> rule cell
	declared   map[string]bool        // declared namespaces
	owners     map[string]ownerRecord // namespace -> owner
	keys       map[string]string      // signer id -> bound public key
	rootAdmins *witness.Set           // genesis witness set
}

// New creates an empty chain for graphID.
func New(graphID string) *Chain {
	return &Chain{
		graphID:  graphID,
		byID:     make(map[string]int),
		rules:    make(map[string]*cell.Cell),
		declared: make(map[string]bool),
		owners:   make(map[string]ownerRecord),
		keys:     make(map[string]string),
	}
}

// GraphID returns the chain's graph identity.
func (c *Chain) GraphID() string { return c.graphID }

// appendOptions collects gate switches.
type appendOptions struct {
	verifySignatures bool
}

// AppendOption configures a single append.
type AppendOption func(*appendOptions)

// WithSignatureVerification makes the gate enforce and verify the advisory
// signature_required flag.
func WithSignatureVerification() AppendOption {
	return func(o *appendOptions) { o.verifySignatures = true }
}

// Append is the single mutator. Preconditions run in order, first failure
// wins, and any failure leaves the chain unchanged.
func (c *Chain) Append(cl *cell.Cell, opts ...AppendOption) error {
	var o appendOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gate(cl, o); err != nil {
		return err
	}
	c.admit(cl)
	return nil
}

// gate enforces every structural invariant. It runs under the write lock.
func (c *Chain) gate(cl *cell.Cell, o appendOptions) error {
	// 1. Atomic integrity: stored id and merkle root match recomputation.
	if err := cell.CheckVersion(cl); err != nil {
		return err
	}
	if cl.ComputeID() != cl.CellID {
		return dgerr.New(dgerr.KindIntegrityFail, "cell id does not match seal hash").
			WithDetail("field", "cell_id")
	}
	if cl.Proof.MerkleRoot != "" && cl.Proof.MerkleRoot != cl.MerkleRoot() {
		return dgerr.New(dgerr.KindIntegrityFail, "merkle root does not match cell fields").
			WithDetail("field", "merkle_root")
	}
	if _, dup := c.byID[cl.CellID]; dup {
		return dgerr.New(dgerr.KindIntegrityFail, "cell already committed").
			WithDetail("field", "cell_id")
	}

	// 2. Genesis uniqueness and chain of custody.
	if cl.Header.CellType == cell.TypeGenesis {
		if len(c.cells) > 0 {
			return dgerr.New(dgerr.KindIntegrityFail, "genesis already present")
		}
		if cl.Header.PrevCellHash != cell.NullHash {
			return dgerr.New(dgerr.KindIntegrityFail, "genesis must carry the null predecessor").
				WithDetail("field", "prev_cell_hash")
		}
		if _, err := witness.DecodeObject(cl.Fact.Namespace, cl.Fact.Object); err != nil {
			return err
		}
	} else {
		if len(c.cells) == 0 {
			return dgerr.New(dgerr.KindIntegrityFail, "chain has no genesis")
		}
		if cl.Header.PrevCellHash == cell.NullHash {
			return dgerr.New(dgerr.KindIntegrityFail, "null predecessor is exclusive to genesis").
				WithDetail("field", "prev_cell_hash")
		}
		tail := c.cells[len(c.cells)-1]
		if cl.Header.PrevCellHash != tail.CellID {
			return dgerr.New(dgerr.KindIntegrityFail, "predecessor is not the chain tail").
				WithDetail("field", "prev_cell_hash")
		}
	}

	// 3. Temporal monotonicity. Canonical timestamps order lexicographically.
	if len(c.cells) > 0 {
		tail := c.cells[len(c.cells)-1]
		if cl.Header.Timestamp < tail.Header.Timestamp {
			return dgerr.New(dgerr.KindIntegrityFail, "timestamp precedes chain tail").
				WithDetail("field", "timestamp")
		}
	}

	// Confidence ceiling: full confidence demands verified provenance.
	if cl.Fact.Confidence >= 100 && cl.Fact.SourceQuality != cell.SourceVerified {
		return dgerr.New(dgerr.KindIntegrityFail, "full confidence requires verified source").
			WithDetail("field", "confidence")
	}

	// 4. Logic anchoring.
	if cl.Header.CellType == cell.TypeDecision {
		anchor := cl.LogicAnchor
		if anchor == nil {
			return dgerr.New(dgerr.KindIntegrityFail, "decision without logic anchor")
		}
		rule, ok := c.rules[anchor.RuleID]
		if !ok {
			return dgerr.New(dgerr.KindIntegrityFail, "logic anchor references unknown rule").
				WithDetail("field", "rule_id")
		}
		if rule.LogicAnchor == nil || rule.LogicAnchor.RuleLogicHash != anchor.RuleLogicHash {
			return dgerr.New(dgerr.KindIntegrityFail, "rule logic hash mismatch").
				WithDetail("field", "rule_logic_hash")
		}
	}

	// 5. Bridge dual-approval.
	if cl.Header.CellType == cell.TypeBridgeRule {
		if err := c.gateBridge(cl); err != nil {
			return err
		}
	}

	// 6. Namespace ownership chain.
	if cl.Header.CellType == cell.TypeNamespaceDef {
		if err := c.gateNamespaceDef(cl, o); err != nil {
			return err
		}
	}

	// Policy heads carry witness-set updates and need threshold approval
	// from the set they replace.
	if cl.Header.CellType == cell.TypePolicyHead && cl.Fact.Predicate == witness.PredicateWitnessSet {
		if err := c.gatePolicyHead(cl); err != nil {
			return err
		}
	}

	// 7. Advisory signature enforcement.
	if o.verifySignatures && cl.Proof.SignatureRequired {
		if err := c.verifySingle(cl); err != nil {
			return err
		}
	}
	return nil
}

// approvalBy finds the approval signed by signerID.
func approvalBy(cl *cell.Cell, signerID string) *cell.Approval {
	for i := range cl.Proof.Signatures {
		if cl.Proof.Signatures[i].SignerID == signerID {
			return &cl.Proof.Signatures[i]
		}
	}
	return nil
}

// verifyApproval checks one approval cryptographically over the seal bytes
// and enforces key continuity for the signer.
func (c *Chain) verifyApproval(cl *cell.Cell, ap *cell.Approval) error {
	if ap.Signature == "" || ap.PublicKey == "" {
		return dgerr.New(dgerr.KindSignatureInvalid, "approval missing signature material").
			WithDetail("signer_id", ap.SignerID)
	}
	if bound, ok := c.keys[ap.SignerID]; ok && bound != ap.PublicKey {
		return dgerr.New(dgerr.KindSignatureInvalid, "public key differs from bound key").
			WithDetail("signer_id", ap.SignerID)
	}
	pub, err := signer.DecodeKey(ap.PublicKey)
	if err != nil {
		return err
	}
	sig, err := signer.DecodeSignature(ap.Signature)
	if err != nil {
		return err
	}
	if !signer.Verify(pub, cl.SealBytes(), sig) {
		return dgerr.New(dgerr.KindSignatureInvalid, "approval signature does not verify").
			WithDetail("signer_id", ap.SignerID)
	}
	return nil
}

// gateBridge enforces declared endpoints and verified dual-owner approval.
func (c *Chain) gateBridge(cl *cell.Cell) error {
	if cl.Fact.Predicate != namespace.PredicateBridges && cl.Fact.Predicate != namespace.PredicateRevoked {
		return dgerr.New(dgerr.KindInputInvalid, "bridge cell carries unknown predicate").
			WithDetail("field", "predicate")
	}
	src, tgt := cl.Fact.Namespace, cl.Fact.Object
	if !c.declared[src] || !c.declared[tgt] {
		return dgerr.New(dgerr.KindUnauthorized, "bridge endpoint namespace not declared").
			WithDetail("field", "namespace")
	}
	for _, ns := range [2]string{src, tgt} {
		var ap *cell.Approval
		var expectedKey string
		if owner, ok := c.ownerOf(ns); ok && owner.SignerID != "" {
			ap = approvalBy(cl, owner.SignerID)
			expectedKey = owner.PublicKey
		} else if c.rootAdmins != nil {
			// Namespaces owned by the admin set accept any admin's approval.
			for _, admin := range c.rootAdmins.Witnesses {
				if found := approvalBy(cl, admin); found != nil {
					ap = found
					expectedKey = c.keys[admin]
					break
				}
			}
		}
		if ap == nil {
			return dgerr.New(dgerr.KindUnauthorized, "bridge missing owner approval").
				WithDetail("namespace", ns)
		}
		if expectedKey != "" && ap.PublicKey != expectedKey {
			return dgerr.New(dgerr.KindSignatureInvalid, "approval key differs from owner key").
				WithDetail("namespace", ns)
		}
		if err := c.verifyApproval(cl, ap); err != nil {
			return err
		}
	}
	return nil
}

// gateNamespaceDef enforces the ownership chain: the parent's owner signs
// the declaration; top-level declarations are signed by the admin set.
func (c *Chain) gateNamespaceDef(cl *cell.Cell, o appendOptions) error {
	ns := cl.Fact.Namespace
	parent := namespace.Parent(ns)

	signerID := cl.Proof.SignerID
	if signerID == "" {
		return dgerr.New(dgerr.KindUnauthorized, "namespace declaration is unsigned")
	}

	if parent == "" {
		if c.rootAdmins == nil || !c.rootAdmins.Contains(signerID) {
			return dgerr.New(dgerr.KindUnauthorized, "top-level declaration requires an admin signer").
				WithDetail("field", "signer_id")
		}
	} else {
		if !c.declared[parent] {
			return dgerr.New(dgerr.KindUnauthorized, "parent namespace not declared").
				WithDetail("namespace", parent)
		}
		owner, ok := c.ownerOf(parent)
		if !ok || owner.SignerID == "" {
			// The genesis root is owned by the admin set.
			if c.rootAdmins == nil || !c.rootAdmins.Contains(signerID) {
				return dgerr.New(dgerr.KindUnauthorized, "declaration not signed by parent authority").
					WithDetail("namespace", parent)
			}
		} else {
			if owner.SignerID != signerID {
				return dgerr.New(dgerr.KindUnauthorized, "declaration not signed by parent owner").
					WithDetail("namespace", parent)
			}
			if owner.PublicKey != "" && cl.Proof.PublicKey != owner.PublicKey {
				return dgerr.New(dgerr.KindSignatureInvalid, "declaration key differs from owner key").
					WithDetail("namespace", parent)
			}
		}
	}

	verify := o.verifySignatures || cl.Proof.PublicKey != ""
	if verify {
		ap := cell.Approval{
			SignerID:  cl.Proof.SignerID,
			PublicKey: cl.Proof.PublicKey,
			Signature: cl.Proof.Signature,
		}
		if err := c.verifyApproval(cl, &ap); err != nil {
			return err
		}
	}
	return nil
}

// gatePolicyHead requires the update to decode and to carry threshold
// approvals from the witness set it replaces.
func (c *Chain) gatePolicyHead(cl *cell.Cell) error {
	if _, err := witness.DecodeObject(cl.Fact.Namespace, cl.Fact.Object); err != nil {
		return err
	}

	current := c.currentWitnessSet(cl.Fact.Namespace)
	if current == nil {
		return dgerr.New(dgerr.KindUnauthorized, "no governing witness set for namespace").
			WithDetail("namespace", cl.Fact.Namespace)
	}
	approved := 0
	for _, w := range current.Witnesses {
		ap := approvalBy(cl, w)
		if ap == nil {
			continue
		}
		if ap.PublicKey != "" {
			if err := c.verifyApproval(cl, ap); err != nil {
				return err
			}
		}
		approved++
	}
	if approved < current.Threshold {
		return dgerr.New(dgerr.KindUnauthorized, "witness approvals below threshold").
			WithDetail("namespace", cl.Fact.Namespace)
	}
	return nil
}

// verifySingle enforces the advisory signature_required flag.
func (c *Chain) verifySingle(cl *cell.Cell) error {
	if cl.Proof.Signature == "" || cl.Proof.SignerID == "" {
		return dgerr.New(dgerr.KindSignatureInvalid, "required signature is missing")
	}
	ap := cell.Approval{
		SignerID:  cl.Proof.SignerID,
		PublicKey: cl.Proof.PublicKey,
		Signature: cl.Proof.Signature,
	}
	return c.verifyApproval(cl, &ap)
}

// currentWitnessSet folds the latest witness set governing ns, walking up to
// the nearest ancestor (and finally the genesis set) when ns has none.
func (c *Chain) currentWitnessSet(ns string) *witness.Set {
	latest := make(map[string]*witness.Set)
	for _, existing := range c.cells {
		switch existing.Header.CellType {
		case cell.TypeGenesis, cell.TypePolicyHead:
			if s, err := witness.DecodeObject(existing.Fact.Namespace, existing.Fact.Object); err == nil {
				latest[existing.Fact.Namespace] = s
			}
		}
	}
	for probe := ns; probe != ""; probe = namespace.Parent(probe) {
		if s, ok := latest[probe]; ok {
			return s
		}
	}
	return c.rootAdmins
}

// ownerOf resolves the recorded owner of ns. Every accepted namespace_def
// records one, and a signed genesis records its signer for the root; ok is
// false when no record exists (an unsigned genesis root), and callers then
// fall back to the admin set.
func (c *Chain) ownerOf(ns string) (ownerRecord, bool) {
	rec, ok := c.owners[ns]
	return rec, ok
}

// admit applies an already-gated cell to chain state.
func (c *Chain) admit(cl *cell.Cell) {
	c.byID[cl.CellID] = len(c.cells)
	c.cells = append(c.cells, cl)

	switch cl.Header.CellType {
	case cell.TypeGenesis:
		c.declared[cl.Fact.Namespace] = true
		if s, err := witness.DecodeObject(cl.Fact.Namespace, cl.Fact.Object); err == nil {
			c.rootAdmins = s
		}
		if cl.Proof.SignerID != "" {
			c.owners[cl.Fact.Namespace] = ownerRecord{SignerID: cl.Proof.SignerID, PublicKey: cl.Proof.PublicKey}
		}
	case cell.TypeRule:
		if cl.LogicAnchor != nil {
			c.rules[cl.LogicAnchor.RuleID] = cl
		}
	case cell.TypeNamespaceDef:
		c.declared[cl.Fact.Namespace] = true
		rec := ownerRecord{SignerID: cl.Proof.SignerID, PublicKey: cl.Proof.PublicKey}
		// An extra approval by a different signer introduces a delegated
		// owner for the new namespace.
		for i := range cl.Proof.Signatures {
			ap := cl.Proof.Signatures[i]
			if ap.SignerID != cl.Proof.SignerID {
				rec = ownerRecord{SignerID: ap.SignerID, PublicKey: ap.PublicKey}
				break
			}
		}
		c.owners[cl.Fact.Namespace] = rec
		if rec.PublicKey != "" {
			c.keys[rec.SignerID] = rec.PublicKey
		}
	}

	if cl.Proof.SignerID != "" && cl.Proof.PublicKey != "" {
		if _, bound := c.keys[cl.Proof.SignerID]; !bound {
			c.keys[cl.Proof.SignerID] = cl.Proof.PublicKey
		}
	}
	for _, ap := range cl.Proof.Signatures {
		if ap.SignerID != "" && ap.PublicKey != "" {
			if _, bound := c.keys[ap.SignerID]; !bound {
				c.keys[ap.SignerID] = ap.PublicKey
			}
		}
	}
}

// Head returns the genesis cell, or nil on an empty chain.
func (c *Chain) Head() *cell.Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.cells) == 0 {
		return nil
	}
	return c.cells[0]
}

// Tail returns the latest cell, or nil on an empty chain.
func (c *Chain) Tail() *cell.Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.cells) == 0 {
		return nil
	}
	return c.cells[len(c.cells)-1]
}

// Len returns the number of committed cells.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cells)
}

// LookupByID returns a committed cell by id.
func (c *Chain) LookupByID(id string) (*cell.Cell, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return c.cells[i], true
}

// InOrder returns the committed cells in chain order. The slice is a copy;
// the cells themselves are immutable.
func (c *Chain) InOrder() []*cell.Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*cell.Cell, len(c.cells))
	copy(out, c.cells)
	return out
}

// FindByType returns the committed cells of one type, in chain order.
func (c *Chain) FindByType(t cell.Type) []*cell.Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*cell.Cell
	for _, cl := range c.cells {
		if cl.Header.CellType == t {
			out = append(out, cl)
		}
	}
	return out
}

// Digest returns the SHA-256 over the chain's canonical JSONL rendering,
// matching the digest of a persisted chain file.
func (c *Chain) Digest() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var buf []byte
	for _, cl := range c.cells {
		line, err := canonical.Marshal(cl)
		if err != nil {
			return "", err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return canonical.HashBytes(buf), nil
}

// Snapshot captures a consistent read view at the current tail.
func (c *Chain) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cells := make([]*cell.Cell, len(c.cells))
	copy(cells, c.cells)
	return &Snapshot{graphID: c.graphID, cells: cells}
}

// Snapshot is an immutable chain prefix. Two queries over the same snapshot
// always observe the same cell set.
type Snapshot struct {
	graphID string
	cells   []*cell.Cell
}

// GraphID returns the owning graph identity.
func (s *Snapshot) GraphID() string { return s.graphID }

// InOrder returns the snapshot cells in chain order.
func (s *Snapshot) InOrder() []*cell.Cell { return s.cells }

// Tail returns the snapshot tail, or nil when empty.
func (s *Snapshot) Tail() *cell.Cell {
	if len(s.cells) == 0 {
		return nil
	}
	return s.cells[len(s.cells)-1]
}

// Genesis returns the snapshot's genesis cell, or nil when empty.
func (s *Snapshot) Genesis() *cell.Cell {
	if len(s.cells) == 0 {
		return nil
	}
	return s.cells[0]
}

// CutAt returns the snapshot restricted to cells with timestamps at or
// before the canonical timestamp ts.
func (s *Snapshot) CutAt(ts string) *Snapshot {
	cut := len(s.cells)
	for i, cl := range s.cells {
		if cl.Header.Timestamp > ts {
			cut = i
			break
		}
	}
	return &Snapshot{graphID: s.graphID, cells: s.cells[:cut]}
}

// LookupByID scans the snapshot for a cell id.
func (s *Snapshot) LookupByID(id string) (*cell.Cell, bool) {
	for _, cl := range s.cells {
		if cl.CellID == id {
			return cl, true
		}
	}
	return nil, false
}
