// Package canonical produces byte-identical encodings for identical semantic
// values. It is the single canonicalization routine shared by cell sealing,
// proof-bundle signing, and RFA normalization; signer and verifier both go
// through it.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/decisiongraph/core/pkg/dgerr"
)

// TimestampLayout is the only accepted timestamp form: strict UTC, second
// precision, trailing Z.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Timestamp formats t in the canonical form.
func Timestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

// ParseTimestamp parses a canonical timestamp. Anything looser (offsets,
// fractional seconds, missing Z) is rejected.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, dgerr.Wrap(dgerr.KindInputInvalid, "timestamp not in canonical form", err).
			WithDetail("field", "timestamp")
	}
	return t, nil
}

// NormalizeString applies Unicode NFC.
func NormalizeString(s string) string {
	return norm.NFC.String(s)
}

// ConfidenceFromFloat converts a confidence in [0,1] to the canonical
// fixed-precision integer 0..100. Values with more than two decimal places
// are rejected rather than silently rounded.
func ConfidenceFromFloat(f float64) (int, error) {
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, dgerr.New(dgerr.KindInputInvalid, "confidence out of range").
			WithDetail("field", "confidence")
	}
	scaled := math.Round(f * 100)
	if math.Abs(f*100-scaled) > 1e-9 {
		return 0, dgerr.New(dgerr.KindInputInvalid, "confidence exceeds fixed precision").
			WithDetail("field", "confidence")
	}
	return int(scaled), nil
}

// ConfidenceToFloat converts back to the [0,1] form used at the boundary.
func ConfidenceToFloat(c int) float64 {
	return float64(c) / 100
}

// Canonicalize recursively rewrites v into canonical shape: map keys kept
// for sorted marshaling, strings NFC-normalized, nulls stripped, fractional
// floats rejected (fixed-precision fields must already be integers).
func Canonicalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t, nil
	case json.Number:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return nil, dgerr.New(dgerr.KindInputInvalid, "fractional numbers are not canonical")
		}
		return int64(t), nil
	case float32:
		return Canonicalize(float64(t))
	case string:
		return norm.NFC.String(t), nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			c, err := Canonicalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			c, err := Canonicalize(val)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			out[norm.NFC.String(k)] = c
		}
		return out, nil
	default:
		// Structs and everything else take the marshal round trip below.
		return roundTrip(v)
	}
}

func roundTrip(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "canonical pre-marshal failed", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "canonical decode failed", err)
	}
	switch generic.(type) {
	case map[string]any, []any, string, bool, nil:
		return Canonicalize(generic)
	case float64:
		return Canonicalize(generic)
	default:
		return nil, dgerr.Newf(dgerr.KindInternal, "canonical: unsupported type %T", v)
	}
}

// Marshal returns the RFC 8785 canonical JSON bytes of v after the
// Canonicalize rewrite. Keys sort ascending by UTF-16 code units (the RFC 8785
// order) and HTML escaping is disabled, both guaranteed by the JCS transform.
func Marshal(v any) ([]byte, error) {
	c, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "canonical marshal failed", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "jcs transform failed", err)
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-256 of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SortedKeys returns the keys of m in ascending order. Report generators use
// it so identical inputs yield identical text.
func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MustMarshal is Marshal for values the caller controls end to end.
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("canonical: %v", err))
	}
	return b
}
