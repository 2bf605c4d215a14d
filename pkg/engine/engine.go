// Package engine is the validated entry point of the graph: it turns an RFA
// dictionary into a ProofPacket, signed when the engine holds a signer,
// through seven deterministic steps.
package engine

import (
	"log/slog"
	"strings"
	"time"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/chain"
	"github.com/decisiongraph/core/pkg/dgerr"
	"github.com/decisiongraph/core/pkg/scholar"
	"github.com/decisiongraph/core/pkg/signer"
)

// PacketVersion is the current proof-packet schema version.
const PacketVersion = "1.4"

// Clock supplies timestamps. Tests inject a fixed clock for reproducible
// packets.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// Engine holds the immutable per-graph state: a chain handle, a scholar,
// and optionally a signing key. It keeps no per-request mutable state.
type Engine struct {
	chain   *chain.Chain
	scholar *scholar.Scholar
	signer  *signer.Signer
	clock   Clock
	ids     IDSource
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSigner makes the engine sign packets.
func WithSigner(s *signer.Signer) Option {
	return func(e *Engine) { e.signer = s }
}

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDSource injects a packet-id source.
func WithIDSource(src IDSource) Option {
	return func(e *Engine) { e.ids = src }
}

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over ch.
func New(ch *chain.Chain, opts ...Option) *Engine {
	e := &Engine{
		chain:  ch,
		clock:  SystemClock{},
		ids:    DerivedIDs{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scholar = scholar.New(ch, e.logger)
	return e
}

// PublicKey returns the engine's boundary-form public key, or "" when the
// engine is unsigned.
func (e *Engine) PublicKey() string {
	if e.signer == nil {
		return ""
	}
	return e.signer.PublicKeyString()
}

// ProcessRFA runs the seven-step pipeline. On any error no packet is
// emitted; unexpected faults surface as DG_INTERNAL_ERROR.
func (e *Engine) ProcessRFA(rfa map[string]any) (packet *ProofPacket, err error) {
	defer func() {
		if r := recover(); r != nil {
			packet = nil
			err = dgerr.Newf(dgerr.KindInternal, "rfa processing fault")
			e.logger.Error("rfa pipeline panic", "recovered", r)
		}
	}()

	// 1. Canonicalize: drop nulls, trim whitespace.
	cleaned := canonicalizeRFA(rfa)

	// 2. Schema validation: required fields, types, no unknown fields.
	if err := validateSchema(cleaned); err != nil {
		return nil, err
	}

	// 3. Field validation happens inside the scholar's query gate, which
	// shares the validators with the commit path.
	q := scholar.Query{
		Namespace:          stringField(cleaned, "namespace"),
		RequesterNamespace: stringField(cleaned, "requester_namespace"),
		RequesterID:        stringField(cleaned, "requester_id"),
		Subject:            stringField(cleaned, "subject"),
		Predicate:          stringField(cleaned, "predicate"),
		Object:             stringField(cleaned, "object"),
		AsOfSystemTime:     stringField(cleaned, "as_of_system_time"),
	}

	// 4. Query.
	result, err := e.scholar.QueryFacts(q)
	if err != nil {
		return nil, dgerr.AsError(err)
	}

	// 5. Bundle.
	bundle := result.ToProofBundle()

	// 6. Wrap.
	bundleBytes, err := bundle.CanonicalBytes()
	if err != nil {
		return nil, dgerr.AsError(err)
	}
	packet = &ProofPacket{
		PacketVersion: PacketVersion,
		PacketID:      e.ids.PacketID(canonical.HashBytes(bundleBytes)),
		GeneratedAt:   canonical.Timestamp(e.clock.Now()),
		GraphID:       e.chain.GraphID(),
		ProofBundle:   bundle,
	}

	// 7. Sign, when the engine holds a key.
	if e.signer != nil {
		sig := e.signer.Sign(bundleBytes)
		packet.Signature = &SignatureBlock{
			Algorithm: "Ed25519",
			PublicKey: e.signer.PublicKeyString(),
			Signature: signer.EncodeSignature(sig),
			SignedAt:  canonical.Timestamp(e.clock.Now()),
		}
	}

	e.logger.Info("rfa processed",
		"packet_id", packet.PacketID,
		"namespace", q.Namespace,
		"cells", len(bundle.Cells),
		"signed", packet.Signature != nil)
	return packet, nil
}

// canonicalizeRFA drops null fields and trims whitespace on string values.
// Wrong-typed values are preserved so schema validation reports them with
// the right kind.
func canonicalizeRFA(rfa map[string]any) map[string]any {
	out := make(map[string]any, len(rfa))
	for k, v := range rfa {
		key := strings.TrimSpace(k)
		switch t := v.(type) {
		case nil:
			continue
		case string:
			out[key] = canonical.NormalizeString(strings.TrimSpace(t))
		default:
			out[key] = v
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
