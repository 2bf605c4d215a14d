package dgerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInputInvalid, KindOf(New(KindInputInvalid, "bad field")))
	assert.Equal(t, KindInternal, KindOf(errors.New("raw")))

	wrapped := Wrap(KindUnauthorized, "visibility", errors.New("inner"))
	assert.Equal(t, KindUnauthorized, KindOf(wrapped))
	assert.ErrorContains(t, wrapped, "visibility")
	assert.NotNil(t, errors.Unwrap(wrapped))
}

func TestEnvelopeHidesInternalCauses(t *testing.T) {
	env := ToEnvelope(Wrap(KindInternal, "database exploded at 10.0.0.7", errors.New("secret")))
	assert.Equal(t, "DG_INTERNAL_ERROR", env.Code)
	assert.Equal(t, "internal error", env.Message)
}

func TestEnvelopeCarriesDetailsAndRequestID(t *testing.T) {
	err := New(KindInputInvalid, "invalid predicate").
		WithDetail("field", "predicate").
		WithRequestID("req-1")
	env := ToEnvelope(err)
	assert.Equal(t, "DG_INPUT_INVALID", env.Code)
	assert.Equal(t, "predicate", env.Details["field"])
	assert.Equal(t, "req-1", env.RequestID)
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindSchemaInvalid))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindInputInvalid))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindUnauthorized))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindIntegrityFail))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindSignatureInvalid))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
