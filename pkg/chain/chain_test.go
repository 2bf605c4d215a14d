package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/dgerr"
	"github.com/decisiongraph/core/pkg/signer"
	"github.com/decisiongraph/core/pkg/witness"
)

var (
	t0 = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
	t2 = t0.Add(2 * time.Minute)
	t3 = t0.Add(3 * time.Minute)
	t4 = t0.Add(4 * time.Minute)
)

func newAdmin(t *testing.T, id string) *signer.Signer {
	t.Helper()
	s, err := signer.NewSigner(id)
	require.NoError(t, err)
	return s
}

func bootstrapped(t *testing.T, admin *signer.Signer) *Chain {
	t.Helper()
	ch, err := Bootstrap("graph-test", GenesisParams{
		RootNamespace: "corp",
		Witnesses:     []string{"alice", "bob"},
		Threshold:     2,
		Timestamp:     t0,
		Signer:        admin,
	})
	require.NoError(t, err)
	return ch
}

func TestBootstrapGenesis(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	require.Equal(t, 1, ch.Len())
	g := ch.Head()
	assert.Equal(t, cell.TypeGenesis, g.Header.CellType)
	assert.Equal(t, cell.NullHash, g.Header.PrevCellHash)
	assert.Equal(t, g, ch.Tail())
}

func TestGenesisUniqueness(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	second, err := NewGenesisCell(GenesisParams{
		RootNamespace: "corp",
		Witnesses:     []string{"alice"},
		Threshold:     1,
		Timestamp:     t1,
	})
	require.NoError(t, err)
	err = ch.Append(second)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))
	assert.Equal(t, 1, ch.Len())
}

func TestNonGenesisNeedsGenesisFirst(t *testing.T) {
	ch := New("graph-test")
	f, err := cell.New(cell.Params{
		Type: cell.TypeFact, Timestamp: t0, PrevCellHash: cell.NullHash,
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred,
	})
	require.NoError(t, err)
	err = ch.Append(f)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))
}

func TestAppendChecksPredecessor(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	wrong, err := cell.New(cell.Params{
		Type: cell.TypeFact, Timestamp: t1,
		PrevCellHash: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Namespace:    "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred,
	})
	require.NoError(t, err)
	err = ch.Append(wrong)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))
}

func TestAppendRejectsTamperedID(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	f, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred, Timestamp: t1,
	})
	require.NoError(t, err)
	f.CellID = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	err = ch.Append(f)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))
	assert.Equal(t, 1, ch.Len())
}

func TestAppendRejectsTamperedMerkleRoot(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	f, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred, Timestamp: t1,
	})
	require.NoError(t, err)
	f.Proof.MerkleRoot = "0000"
	err = ch.Append(f)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))
}

func TestTimestampMonotonicity(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	early, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred,
		Timestamp: t0.Add(-time.Hour),
	})
	require.NoError(t, err)
	err = ch.Append(early)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))

	// Equal timestamps are allowed.
	same, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred, Timestamp: t0,
	})
	require.NoError(t, err)
	assert.NoError(t, ch.Append(same))
}

func TestConfidenceCeiling(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	claimed, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "claims",
		Object: "doc:1", Confidence: 1.0,
		SourceQuality: cell.SourceSelfReported, Timestamp: t1,
	})
	require.NoError(t, err)
	err = ch.Append(claimed)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))

	verified, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "claims",
		Object: "doc:1", Confidence: 1.0,
		SourceQuality: cell.SourceVerified, Timestamp: t1,
	})
	require.NoError(t, err)
	assert.NoError(t, ch.Append(verified))
}

func TestDecisionAnchoring(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	// Decision before its rule: unresolved anchor.
	orphan, err := ch.NewDecisionCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "approved",
		Confidence: 0.9, SourceQuality: cell.SourceVerified, Timestamp: t1,
	}, cell.LogicAnchor{RuleID: "rule:kyc_v1", RuleLogicHash: "ffff"})
	require.NoError(t, err)
	err = ch.Append(orphan)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))

	rule, err := ch.NewRuleCell(FactParams{
		Namespace: "corp", Subject: "rule:kyc_v1", Predicate: "requires",
		Object:     "verified_identity and sanctions_clear",
		Confidence: 1.0, SourceQuality: cell.SourceVerified, Timestamp: t1,
	}, "rule:kyc_v1")
	require.NoError(t, err)
	require.NoError(t, ch.Append(rule))

	// Wrong logic hash still fails.
	bad, err := ch.NewDecisionCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "approved",
		Confidence: 0.9, SourceQuality: cell.SourceVerified, Timestamp: t2,
	}, cell.LogicAnchor{RuleID: "rule:kyc_v1", RuleLogicHash: "ffff"})
	require.NoError(t, err)
	err = ch.Append(bad)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindIntegrityFail, dgerr.KindOf(err))

	good, err := ch.NewDecisionCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "approved",
		Confidence: 0.9, SourceQuality: cell.SourceVerified, Timestamp: t2,
	}, *rule.LogicAnchor)
	require.NoError(t, err)
	assert.NoError(t, ch.Append(good))
}

// declareTree sets up corp.hr and corp.finance with distinct owners.
func declareTree(t *testing.T, ch *Chain, admin *signer.Signer) (hr, fin *signer.Signer) {
	t.Helper()
	hr = newAdmin(t, "owner:hr")
	fin = newAdmin(t, "owner:finance")

	hrDef, err := ch.NewNamespaceDefCell("corp.hr", t1, admin, hr)
	require.NoError(t, err)
	require.NoError(t, ch.Append(hrDef))

	finDef, err := ch.NewNamespaceDefCell("corp.finance", t1, admin, fin)
	require.NoError(t, err)
	require.NoError(t, ch.Append(finDef))
	return hr, fin
}

func TestNamespaceDefOwnership(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)
	hr, _ := declareTree(t, ch, alice)

	// Child declared by its namespace owner.
	payroll, err := ch.NewNamespaceDefCell("corp.hr.payroll", t2, hr, nil)
	require.NoError(t, err)
	require.NoError(t, ch.Append(payroll))

	// A stranger cannot declare under corp.hr.
	mallory := newAdmin(t, "mallory")
	stolen, err := ch.NewNamespaceDefCell("corp.hr.secrets", t2, mallory, nil)
	require.NoError(t, err)
	err = ch.Append(stolen)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindUnauthorized, dgerr.KindOf(err))

	// Non-admin cannot declare top-level namespaces.
	acme, err := ch.NewNamespaceDefCell("acme", t2, mallory, nil)
	require.NoError(t, err)
	err = ch.Append(acme)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindUnauthorized, dgerr.KindOf(err))
}

func TestNamespaceDefParentMustExist(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	deep, err := ch.NewNamespaceDefCell("corp.hr.payroll", t1, alice, nil)
	require.NoError(t, err)
	err = ch.Append(deep)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindUnauthorized, dgerr.KindOf(err))
}

func TestBridgeDualApproval(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)
	hr, fin := declareTree(t, ch, alice)

	// Both owners sign: accepted.
	bridge, err := ch.NewBridgeCell("corp.hr", "corp.finance", t2, hr, fin)
	require.NoError(t, err)
	require.NoError(t, ch.Append(bridge))

	// Single-owner approval: refused.
	lonely, err := ch.NewBridgeCell("corp.hr", "corp.finance", t3, hr, hr)
	require.NoError(t, err)
	err = ch.Append(lonely)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindUnauthorized, dgerr.KindOf(err))
}

func TestBridgeSignatureMustVerify(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)
	hr, fin := declareTree(t, ch, alice)

	bridge, err := ch.NewBridgeCell("corp.hr", "corp.finance", t2, hr, fin)
	require.NoError(t, err)
	// Corrupt the finance owner's signature.
	for i := range bridge.Proof.Signatures {
		if bridge.Proof.Signatures[i].SignerID == fin.ID {
			sig := []byte(bridge.Proof.Signatures[i].Signature)
			sig[0] ^= 0x01
			bridge.Proof.Signatures[i].Signature = string(sig)
		}
	}
	err = ch.Append(bridge)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindSignatureInvalid, dgerr.KindOf(err))
}

func TestBridgeEndpointsMustBeDeclared(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)
	hr := newAdmin(t, "owner:hr")

	orphan, err := ch.NewBridgeCell("corp.hr", "corp.finance", t1, hr, hr)
	require.NoError(t, err)
	err = ch.Append(orphan)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindUnauthorized, dgerr.KindOf(err))
}

func TestBridgeRevocationNeedsDualApproval(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)
	hr, fin := declareTree(t, ch, alice)

	bridge, err := ch.NewBridgeCell("corp.hr", "corp.finance", t2, hr, fin)
	require.NoError(t, err)
	require.NoError(t, ch.Append(bridge))

	revocation, err := ch.NewBridgeRevocationCell("corp.hr", "corp.finance", t3, hr, fin)
	require.NoError(t, err)
	require.NoError(t, ch.Append(revocation))

	// Both cells remain.
	assert.Len(t, ch.FindByType(cell.TypeBridgeRule), 2)
}

func TestPolicyHeadThreshold(t *testing.T) {
	alice := newAdmin(t, "alice")
	bob := newAdmin(t, "bob")
	ch := bootstrapped(t, alice)

	// Genesis set is {alice, bob} with threshold 2: one approval fails.
	newSet := mustSet(t, "corp", []string{"alice", "bob", "carol"}, 2)
	under, err := ch.NewPolicyHeadCell(newSet, t1, []*signer.Signer{alice})
	require.NoError(t, err)
	err = ch.Append(under)
	require.Error(t, err)
	assert.Equal(t, dgerr.KindUnauthorized, dgerr.KindOf(err))

	ok, err := ch.NewPolicyHeadCell(newSet, t1, []*signer.Signer{alice, bob})
	require.NoError(t, err)
	assert.NoError(t, ch.Append(ok))
}

func TestSignatureRequiredEnforcedOnDemand(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	unsigned, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred,
		Timestamp: t1, SignatureRequired: true,
	})
	require.NoError(t, err)
	err = ch.Append(unsigned, WithSignatureVerification())
	require.Error(t, err)
	assert.Equal(t, dgerr.KindSignatureInvalid, dgerr.KindOf(err))

	signed, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred,
		Timestamp: t1, SignatureRequired: true, Signer: alice,
	})
	require.NoError(t, err)
	assert.NoError(t, ch.Append(signed, WithSignatureVerification()))
}

func TestReadersAndDigest(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)

	f, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 0.5, SourceQuality: cell.SourceInferred, Timestamp: t1,
	})
	require.NoError(t, err)
	require.NoError(t, ch.Append(f))

	got, ok := ch.LookupByID(f.CellID)
	require.True(t, ok)
	assert.True(t, cell.Equal(f, got))

	facts := ch.FindByType(cell.TypeFact)
	require.Len(t, facts, 1)

	d1, err := ch.Digest()
	require.NoError(t, err)
	d2, err := ch.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	snap := ch.Snapshot()
	assert.Equal(t, 2, len(snap.InOrder()))
	cut := snap.CutAt(ch.Head().Header.Timestamp)
	assert.Equal(t, 1, len(cut.InOrder()))
}

func TestFailedAppendLeavesChainUnchanged(t *testing.T) {
	alice := newAdmin(t, "alice")
	ch := bootstrapped(t, alice)
	before, err := ch.Digest()
	require.NoError(t, err)

	bad, err := ch.NewFactCell(FactParams{
		Namespace: "corp", Subject: "user:x", Predicate: "p",
		Confidence: 1.0, SourceQuality: cell.SourceSelfReported, Timestamp: t1,
	})
	require.NoError(t, err)
	require.Error(t, ch.Append(bad))

	after, err := ch.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, ch.Len())
}

func mustSet(t *testing.T, ns string, witnesses []string, threshold int) *witness.Set {
	t.Helper()
	s, err := witness.NewSet(ns, witnesses, threshold)
	require.NoError(t, err)
	return s
}
