package chain

import (
	"time"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/namespace"
	"github.com/decisiongraph/core/pkg/signer"
	"github.com/decisiongraph/core/pkg/witness"
)

// signCell fills the single-signer proof block. The signature covers the
// seal bytes, which exclude the proof, so cell_id is unaffected.
func signCell(c *cell.Cell, s *signer.Signer) {
	c.Proof.SignerID = s.ID
	c.Proof.PublicKey = s.PublicKeyString()
	c.Proof.Signature = signer.EncodeSignature(s.Sign(c.SealBytes()))
}

// approve appends one signer's approval to the multi-signature block.
func approve(c *cell.Cell, s *signer.Signer, at time.Time) {
	c.Proof.Signatures = append(c.Proof.Signatures, cell.Approval{
		SignerID:  s.ID,
		PublicKey: s.PublicKeyString(),
		Signature: signer.EncodeSignature(s.Sign(c.SealBytes())),
		SignedAt:  canonical.Timestamp(at),
	})
}

// FactParams describes an assertion to commit.
type FactParams struct {
	Namespace     string
	Subject       string
	Predicate     string
	Object        string
	Confidence    float64
	SourceQuality cell.SourceQuality
	Timestamp     time.Time
	ValidFrom     *time.Time
	ValidTo       *time.Time

	SignatureRequired bool
	Signer            *signer.Signer
}

// NewFactCell assembles a fact cell chained onto the current tail.
func (c *Chain) NewFactCell(p FactParams) (*cell.Cell, error) {
	return c.newFactBearing(cell.TypeFact, p, nil)
}

// NewEvidenceCell assembles an evidence cell.
func (c *Chain) NewEvidenceCell(p FactParams) (*cell.Cell, error) {
	return c.newFactBearing(cell.TypeEvidence, p, nil)
}

// NewDecisionCell assembles a decision anchored to committed rule logic.
func (c *Chain) NewDecisionCell(p FactParams, anchor cell.LogicAnchor) (*cell.Cell, error) {
	return c.newFactBearing(cell.TypeDecision, p, &anchor)
}

// NewRuleCell assembles a rule cell. The logic hash is the canonical hash of
// the rule body carried in the object field.
func (c *Chain) NewRuleCell(p FactParams, ruleID string) (*cell.Cell, error) {
	anchor := &cell.LogicAnchor{
		RuleID:        ruleID,
		RuleLogicHash: canonical.HashBytes([]byte(p.Object)),
	}
	return c.newFactBearing(cell.TypeRule, p, anchor)
}

func (c *Chain) newFactBearing(t cell.Type, p FactParams, anchor *cell.LogicAnchor) (*cell.Cell, error) {
	cl, err := cell.New(cell.Params{
		Type:              t,
		Timestamp:         p.Timestamp,
		PrevCellHash:      c.tailHash(),
		Namespace:         p.Namespace,
		Subject:           p.Subject,
		Predicate:         p.Predicate,
		Object:            p.Object,
		Confidence:        p.Confidence,
		SourceQuality:     p.SourceQuality,
		ValidFrom:         p.ValidFrom,
		ValidTo:           p.ValidTo,
		LogicAnchor:       anchor,
		SignatureRequired: p.SignatureRequired,
	})
	if err != nil {
		return nil, err
	}
	if p.Signer != nil {
		signCell(cl, p.Signer)
	}
	return cl, nil
}

// NewNamespaceDefCell declares a namespace. The authority signer must own
// the parent namespace (or belong to the admin set for top-level paths).
// A non-nil delegate introduces a distinct owner for the new namespace and
// co-signs the declaration.
func (c *Chain) NewNamespaceDefCell(ns string, ts time.Time, authority, delegate *signer.Signer) (*cell.Cell, error) {
	cl, err := cell.New(cell.Params{
		Type:          cell.TypeNamespaceDef,
		Timestamp:     ts,
		PrevCellHash:  c.tailHash(),
		Namespace:     ns,
		Subject:       "ns:" + ns,
		Predicate:     "declares_namespace",
		Object:        namespace.Parent(ns),
		Confidence:    1.0,
		SourceQuality: cell.SourceVerified,
	})
	if err != nil {
		return nil, err
	}
	signCell(cl, authority)
	if delegate != nil {
		approve(cl, delegate, ts)
	}
	return cl, nil
}

// NewBridgeCell links source to target with dual-owner approval.
func (c *Chain) NewBridgeCell(source, target string, ts time.Time, srcOwner, tgtOwner *signer.Signer) (*cell.Cell, error) {
	return c.newBridge(namespace.PredicateBridges, source, target, ts, srcOwner, tgtOwner)
}

// NewBridgeRevocationCell revokes a bridge. Revocation carries the same
// dual-owner approval as creation; both cells stay in the chain.
func (c *Chain) NewBridgeRevocationCell(source, target string, ts time.Time, srcOwner, tgtOwner *signer.Signer) (*cell.Cell, error) {
	return c.newBridge(namespace.PredicateRevoked, source, target, ts, srcOwner, tgtOwner)
}

func (c *Chain) newBridge(predicate, source, target string, ts time.Time, srcOwner, tgtOwner *signer.Signer) (*cell.Cell, error) {
	cl, err := cell.New(cell.Params{
		Type:          cell.TypeBridgeRule,
		Timestamp:     ts,
		PrevCellHash:  c.tailHash(),
		Namespace:     source,
		Subject:       namespace.BridgeSubject(source),
		Predicate:     predicate,
		Object:        target,
		Confidence:    1.0,
		SourceQuality: cell.SourceVerified,
	})
	if err != nil {
		return nil, err
	}
	approve(cl, srcOwner, ts)
	if tgtOwner.ID != srcOwner.ID {
		approve(cl, tgtOwner, ts)
	}
	return cl, nil
}

// NewPolicyHeadCell replaces the witness set for a namespace. Approvers must
// meet the threshold of the set being replaced; the gate enforces it.
func (c *Chain) NewPolicyHeadCell(set *witness.Set, ts time.Time, approvers []*signer.Signer) (*cell.Cell, error) {
	object, err := set.EncodeObject()
	if err != nil {
		return nil, err
	}
	cl, err := cell.New(cell.Params{
		Type:          cell.TypePolicyHead,
		Timestamp:     ts,
		PrevCellHash:  c.tailHash(),
		Namespace:     set.Namespace,
		Subject:       "ns:" + set.Namespace,
		Predicate:     witness.PredicateWitnessSet,
		Object:        object,
		Confidence:    1.0,
		SourceQuality: cell.SourceVerified,
	})
	if err != nil {
		return nil, err
	}
	for _, s := range approvers {
		approve(cl, s, ts)
	}
	return cl, nil
}

// tailHash returns the current tail id, or the null sentinel on an empty
// chain so builder errors surface at the gate, not as panics.
func (c *Chain) tailHash() string {
	if t := c.Tail(); t != nil {
		return t.CellID
	}
	return cell.NullHash
}
