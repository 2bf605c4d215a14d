package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisiongraph/core/pkg/dgerr"
)

func TestSubject(t *testing.T) {
	valid := []string{
		"user:alice_123",
		"doc:7",
		"ns:corp.finance",
		"device:rack-4/slot-2",
		"account:a.b-c_d/e",
	}
	for _, s := range valid {
		assert.NoError(t, Subject(s), s)
	}

	invalid := []string{
		"",
		"noprefix",
		"User:alice",
		"user:",
		"user:ALICE",
		"user:" + strings.Repeat("a", 129),
		"user:alice;drop",
		"user:ali ce",
		"user:a\x00b",
	}
	for _, s := range invalid {
		err := Subject(s)
		require.Error(t, err, s)
		assert.Equal(t, dgerr.KindInputInvalid, dgerr.KindOf(err))
	}
}

func TestPredicate(t *testing.T) {
	assert.NoError(t, Predicate("can_access"))
	assert.NoError(t, Predicate("_internal"))
	assert.NoError(t, Predicate("x"))
	assert.NoError(t, Predicate("a"+strings.Repeat("b", 63)))

	for _, p := range []string{
		"",
		"can;drop table",
		"Can_Access",
		"1starts_with_digit",
		"a" + strings.Repeat("b", 64),
		"has space",
		"has\nnewline",
	} {
		err := Predicate(p)
		require.Error(t, err, p)
		assert.Equal(t, dgerr.KindInputInvalid, dgerr.KindOf(err))
	}
}

func TestObject(t *testing.T) {
	assert.NoError(t, Object(""))
	assert.NoError(t, Object("doc:7"))
	assert.NoError(t, Object(strings.Repeat("x", MaxObjectLen)))
	assert.NoError(t, Object("multi\nline\tok"))

	assert.Error(t, Object(strings.Repeat("x", MaxObjectLen+1)))
	assert.Error(t, Object("bell\x07"))
	assert.Error(t, Object("cr\r"))
}

func TestNamespace(t *testing.T) {
	valid := []string{"corp", "corp.hr", "corp.hr.payroll", "_x", "a1.b2"}
	for _, n := range valid {
		assert.NoError(t, Namespace(n), n)
	}

	invalid := []string{
		"",
		"corp..hr",
		".corp",
		"corp.",
		"Corp",
		"corp/hr",
		"corp.hr-payroll",
		"corp .hr",
		"corp.1x",
		strings.Repeat("a", MaxNamespaceLen+1),
	}
	for _, n := range invalid {
		err := Namespace(n)
		require.Error(t, err, n)
		var de *dgerr.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "namespace", de.Details["field"])
	}
}

func TestThreshold(t *testing.T) {
	witnesses := []string{"alice", "bob", "carol"}
	assert.NoError(t, Threshold(1, witnesses))
	assert.NoError(t, Threshold(3, witnesses))
	assert.Error(t, Threshold(0, witnesses))
	assert.Error(t, Threshold(4, witnesses))
	assert.Error(t, Threshold(1, nil))
}
