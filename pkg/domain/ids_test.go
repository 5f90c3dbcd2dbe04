package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credrep/pkg/domain-errors"
)

// TestParseAddress_Invariants validates the parsing invariant:
// "principals must be well-formed, non-zero addresses"
//
// Justification: This is a pure function enforcing a domain invariant
// at trust boundaries.
func TestParseAddress_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseAddress("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects missing prefix", func(t *testing.T) {
		_, err := ParseAddress("1111111111111111111111111111111111111111")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects short address", func(t *testing.T) {
		_, err := ParseAddress("0x1234")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects zero address", func(t *testing.T) {
		_, err := ParseAddress("0x0000000000000000000000000000000000000000")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts mixed case", func(t *testing.T) {
		addr, err := ParseAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
		require.NoError(t, err)
		assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", strings.ToLower(addr.Hex()))
	})
}

func TestParseSequenceIDs(t *testing.T) {
	t.Run("credential id must be positive", func(t *testing.T) {
		_, err := ParseCredentialID("0")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("proof id rejects garbage", func(t *testing.T) {
		_, err := ParseProofID("12abc")
		require.Error(t, err)
	})

	t.Run("request id zero is parseable", func(t *testing.T) {
		reqID, err := ParseRequestID("0")
		require.NoError(t, err)
		assert.True(t, reqID.IsNil())
	})

	t.Run("round trips", func(t *testing.T) {
		credID, err := ParseCredentialID("42")
		require.NoError(t, err)
		assert.Equal(t, "42", credID.String())
	})
}
