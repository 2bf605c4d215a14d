// Package cell defines the immutable, content-addressed unit of the graph.
// A cell is a value object: it never mutates after construction and equality
// is cell_id equality.
package cell

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/dgerr"
	"github.com/decisiongraph/core/pkg/merkle"
	"github.com/decisiongraph/core/pkg/validate"
)

// Type discriminates the closed set of cell variants.
type Type string

const (
	TypeGenesis      Type = "genesis"
	TypeFact         Type = "fact"
	TypeRule         Type = "rule"
	TypeDecision     Type = "decision"
	TypeEvidence     Type = "evidence"
	TypeOverride     Type = "override"
	TypeAccessRule   Type = "access_rule"
	TypeBridgeRule   Type = "bridge_rule"
	TypeNamespaceDef Type = "namespace_def"
	TypePolicyHead   Type = "policy_head"
)

var knownTypes = map[Type]bool{
	TypeGenesis: true, TypeFact: true, TypeRule: true, TypeDecision: true,
	TypeEvidence: true, TypeOverride: true, TypeAccessRule: true,
	TypeBridgeRule: true, TypeNamespaceDef: true, TypePolicyHead: true,
}

// SourceQuality grades the provenance of a fact.
type SourceQuality string

const (
	SourceVerified     SourceQuality = "verified"
	SourceSelfReported SourceQuality = "self_reported"
	SourceInferred     SourceQuality = "inferred"
)

var knownQualities = map[SourceQuality]bool{
	SourceVerified: true, SourceSelfReported: true, SourceInferred: true,
}

// SchemaVersion is the current cell schema version.
const SchemaVersion = "1.4"

// NullHash is the fixed predecessor sentinel carried only by genesis.
const NullHash = "0000000000000000000000000000000000000000000000000000000000000000"

// requiredMajor pins the schema major accepted by this build.
const requiredMajor = 1

// Header carries the chain-structural fields.
type Header struct {
	Version      string `json:"version"`
	CellType     Type   `json:"cell_type"`
	Timestamp    string `json:"timestamp"`
	PrevCellHash string `json:"prev_cell_hash"`
}

// Fact carries the assertion triple plus provenance.
type Fact struct {
	Namespace     string        `json:"namespace"`
	Subject       string        `json:"subject"`
	Predicate     string        `json:"predicate"`
	Object        string        `json:"object"`
	Confidence    int           `json:"confidence"`
	SourceQuality SourceQuality `json:"source_quality"`
	ValidFrom     string        `json:"valid_from,omitempty"`
	ValidTo       string        `json:"valid_to,omitempty"`
}

// LogicAnchor binds a decision (or rule) to immutable rule logic.
type LogicAnchor struct {
	RuleID        string `json:"rule_id"`
	RuleLogicHash string `json:"rule_logic_hash"`
}

// Approval is one signer's approval in a multi-signature proof.
type Approval struct {
	SignerID  string `json:"signer_id"`
	PublicKey string `json:"public_key,omitempty"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signed_at,omitempty"`
}

// Proof carries signature material and the merkle root over the cell's
// canonical fields. SignatureRequired is advisory input to the commit gate.
type Proof struct {
	Signature         string     `json:"signature,omitempty"`
	SignerID          string     `json:"signer_id,omitempty"`
	PublicKey         string     `json:"public_key,omitempty"`
	Signatures        []Approval `json:"signatures,omitempty"`
	MerkleRoot        string     `json:"merkle_root"`
	SignatureRequired bool       `json:"signature_required,omitempty"`
}

// Cell is the atomic immutable record.
type Cell struct {
	Header      Header       `json:"header"`
	Fact        Fact         `json:"fact"`
	LogicAnchor *LogicAnchor `json:"logic_anchor,omitempty"`
	Proof       Proof        `json:"proof"`
	CellID      string       `json:"cell_id"`
}

// Equal reports value equality, which is cell_id equality.
func Equal(a, b *Cell) bool {
	return a != nil && b != nil && a.CellID == b.CellID
}

// sealFields returns the ten seal fields in fixed order.
func (c *Cell) sealFields() [10]string {
	var ruleID, ruleHash string
	if c.LogicAnchor != nil {
		ruleID = c.LogicAnchor.RuleID
		ruleHash = c.LogicAnchor.RuleLogicHash
	}
	return [10]string{
		c.Header.Version,
		string(c.Header.CellType),
		c.Header.Timestamp,
		c.Header.PrevCellHash,
		c.Fact.Namespace,
		c.Fact.Subject,
		c.Fact.Predicate,
		c.Fact.Object,
		ruleID,
		ruleHash,
	}
}

// SealBytes returns the exact bytes hashed into cell_id: each field framed
// with a uint32 big-endian byte length, concatenated in schema order. Absent
// fields contribute a zero length, so no two field layouts share an encoding.
func (c *Cell) SealBytes() []byte {
	fields := c.sealFields()
	size := 0
	for _, f := range fields {
		size += 4 + len(f)
	}
	out := make([]byte, 0, size)
	var lenBuf [4]byte
	for _, f := range fields {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		out = append(out, lenBuf[:]...)
		out = append(out, f...)
	}
	return out
}

// ComputeID hashes the seal bytes.
func (c *Cell) ComputeID() string {
	sum := sha256.Sum256(c.SealBytes())
	return hex.EncodeToString(sum[:])
}

// fieldMap feeds the merkle tree over the cell's canonical content.
func (c *Cell) fieldMap() map[string][]byte {
	fields := c.sealFields()
	paths := [10]string{
		"header/version", "header/cell_type", "header/timestamp",
		"header/prev_cell_hash", "fact/namespace", "fact/subject",
		"fact/predicate", "fact/object", "logic_anchor/rule_id",
		"logic_anchor/rule_logic_hash",
	}
	m := make(map[string][]byte, len(paths))
	for i, p := range paths {
		m[p] = []byte(fields[i])
	}
	return m
}

// MerkleRoot recomputes the root over the cell's canonical fields.
func (c *Cell) MerkleRoot() string {
	return merkle.Root(c.fieldMap())
}

// Params collects constructor input. Timestamps arrive as time.Time and are
// stored canonically; confidence arrives in [0,1] boundary form.
type Params struct {
	Type          Type
	Timestamp     time.Time
	PrevCellHash  string
	Namespace     string
	Subject       string
	Predicate     string
	Object        string
	Confidence    float64
	SourceQuality SourceQuality
	ValidFrom     *time.Time
	ValidTo       *time.Time
	LogicAnchor   *LogicAnchor

	SignatureRequired bool
}

// New validates every field, fills derived values, and computes cell_id.
func New(p Params) (*Cell, error) {
	if !knownTypes[p.Type] {
		return nil, dgerr.Newf(dgerr.KindInputInvalid, "unknown cell type %q", p.Type).
			WithDetail("field", "cell_type")
	}
	if err := validate.Namespace(p.Namespace); err != nil {
		return nil, err
	}
	if p.Subject != "" {
		if err := validate.Subject(p.Subject); err != nil {
			return nil, err
		}
	}
	if p.Predicate != "" {
		if err := validate.Predicate(p.Predicate); err != nil {
			return nil, err
		}
	}
	if err := validate.Object(p.Object); err != nil {
		return nil, err
	}
	if p.SourceQuality == "" {
		p.SourceQuality = SourceInferred
	}
	if !knownQualities[p.SourceQuality] {
		return nil, dgerr.New(dgerr.KindInputInvalid, "unknown source quality").
			WithDetail("field", "source_quality")
	}
	conf, err := canonical.ConfidenceFromFloat(p.Confidence)
	if err != nil {
		return nil, err
	}
	if p.Type == TypeDecision && p.LogicAnchor == nil {
		return nil, dgerr.New(dgerr.KindInputInvalid, "decision requires a logic anchor").
			WithDetail("field", "logic_anchor")
	}
	if p.LogicAnchor != nil {
		if p.LogicAnchor.RuleID == "" || p.LogicAnchor.RuleLogicHash == "" {
			return nil, dgerr.New(dgerr.KindInputInvalid, "incomplete logic anchor").
				WithDetail("field", "logic_anchor")
		}
	}
	prev := p.PrevCellHash
	if p.Type == TypeGenesis {
		if prev == "" {
			prev = NullHash
		}
	}
	if len(prev) != len(NullHash) || !isLowerHex(prev) {
		return nil, dgerr.New(dgerr.KindInputInvalid, "malformed predecessor hash").
			WithDetail("field", "prev_cell_hash")
	}

	c := &Cell{
		Header: Header{
			Version:      SchemaVersion,
			CellType:     p.Type,
			Timestamp:    canonical.Timestamp(p.Timestamp),
			PrevCellHash: prev,
		},
		Fact: Fact{
			Namespace:     canonical.NormalizeString(p.Namespace),
			Subject:       canonical.NormalizeString(p.Subject),
			Predicate:     canonical.NormalizeString(p.Predicate),
			Object:        canonical.NormalizeString(p.Object),
			Confidence:    conf,
			SourceQuality: p.SourceQuality,
		},
		LogicAnchor: p.LogicAnchor,
	}
	if p.ValidFrom != nil {
		c.Fact.ValidFrom = canonical.Timestamp(*p.ValidFrom)
	}
	if p.ValidTo != nil {
		c.Fact.ValidTo = canonical.Timestamp(*p.ValidTo)
	}
	c.Proof.SignatureRequired = p.SignatureRequired
	c.Proof.MerkleRoot = c.MerkleRoot()
	c.CellID = c.ComputeID()
	return c, nil
}

// CheckVersion verifies a cell's schema version is one this build accepts.
func CheckVersion(c *Cell) error {
	v, err := semver.NewVersion(c.Header.Version)
	if err != nil {
		return dgerr.Wrap(dgerr.KindInputInvalid, "unparseable cell version", err).
			WithDetail("field", "version")
	}
	if v.Major() != requiredMajor {
		return dgerr.Newf(dgerr.KindIntegrityFail, "unsupported cell schema major %d", v.Major()).
			WithDetail("field", "version")
	}
	return nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsFactBearing reports whether a cell type surfaces in fact queries.
func IsFactBearing(t Type) bool {
	switch t {
	case TypeFact, TypeEvidence, TypeDecision, TypeOverride:
		return true
	default:
		return false
	}
}

// ShortID returns a display prefix of a cell id.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// TimestampOf parses a cell's canonical timestamp. Cells built through New
// always parse; hand-built cells surface the validation error.
func TimestampOf(c *Cell) (time.Time, error) {
	return canonical.ParseTimestamp(c.Header.Timestamp)
}
