package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCodeThroughWrapping(t *testing.T) {
	base := New(CodeNotFound, "credential not found")
	wrapped := fmt.Errorf("lookup: %w", base)

	assert.True(t, HasCode(wrapped, CodeNotFound))
	assert.False(t, HasCode(wrapped, CodeConflict))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "failed to load profile")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load profile: connection reset", err.Error())
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(cause))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthorized:         http.StatusForbidden,
		CodeUnauthenticated:      http.StatusUnauthorized,
		CodeNotFound:             http.StatusNotFound,
		CodeUnknownRequest:       http.StatusNotFound,
		CodeProfileUninitialized: http.StatusConflict,
		CodeInvalidProof:         http.StatusConflict,
		CodeAlreadyRevealed:      http.StatusConflict,
		CodeInvalidAttestation:   http.StatusBadRequest,
		CodeBadRequest:           http.StatusBadRequest,
		CodeInternal:             http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), "code %s", code)
	}
}
