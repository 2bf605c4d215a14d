// Package validate is the syntactic gatekeeper for every externally supplied
// field. All checks are length-bounded, use precompiled patterns, and fail
// with dgerr.KindInputInvalid naming only the offending field.
package validate

import (
	"regexp"
	"strings"

	"github.com/decisiongraph/core/pkg/dgerr"
)

const (
	// MaxObjectLen bounds free-form object strings.
	MaxObjectLen = 4096
	// MaxNamespaceLen bounds dotted namespace paths.
	MaxNamespaceLen = 256
)

var (
	subjectRE   = regexp.MustCompile(`^[a-z_]+:[a-z0-9_./-]{1,128}$`)
	predicateRE = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,63}$`)
	namespaceRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)*$`)
)

func invalid(field string) *dgerr.Error {
	return dgerr.Newf(dgerr.KindInputInvalid, "invalid %s", field).WithDetail("field", field)
}

// hasControlChars reports whether s contains C0 controls other than HT/LF.
func hasControlChars(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 && c != '\t' && c != '\n' {
			return true
		}
	}
	return false
}

// Subject checks a typed identifier such as "user:alice_123".
func Subject(s string) error {
	if hasControlChars(s) || !subjectRE.MatchString(s) {
		return invalid("subject")
	}
	return nil
}

// Predicate checks a lowercase snake-case predicate.
func Predicate(p string) error {
	if hasControlChars(p) || !predicateRE.MatchString(p) {
		return invalid("predicate")
	}
	return nil
}

// Object accepts a typed identifier, a typed value, or any string up to
// MaxObjectLen without control characters.
func Object(o string) error {
	if len(o) > MaxObjectLen || hasControlChars(o) {
		return invalid("object")
	}
	return nil
}

// Namespace checks a non-empty dotted path. The pattern already forbids
// leading, trailing, and consecutive dots; the explicit traversal check is
// kept as a belt against pattern drift.
func Namespace(n string) error {
	if n == "" || len(n) > MaxNamespaceLen || hasControlChars(n) {
		return invalid("namespace")
	}
	if strings.Contains(n, "..") || strings.HasPrefix(n, ".") || strings.HasSuffix(n, ".") {
		return invalid("namespace")
	}
	if !namespaceRE.MatchString(n) {
		return invalid("namespace")
	}
	return nil
}

// Threshold checks 1 <= t <= len(witnesses).
func Threshold(t int, witnesses []string) error {
	if t < 1 || t > len(witnesses) {
		return dgerr.New(dgerr.KindInputInvalid, "threshold out of range").
			WithDetail("field", "threshold")
	}
	return nil
}
