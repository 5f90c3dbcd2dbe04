package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	id "credrep/pkg/domain"
	"credrep/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) { return s.claims, s.err }

type stubRevocations map[string]bool

func (s stubRevocations) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	if jti == "broken" {
		return false, errors.New("store down")
	}
	return s[jti], nil
}

var caller = id.Address{0xca}

func serve(t *testing.T, v JWTValidator, rc TokenRevocationChecker, header string) (*httptest.ResponseRecorder, id.Address) {
	t.Helper()
	var seen id.Address
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := RequireAuth(v, rc, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.Caller(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/proofs", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireAuth(t *testing.T) {
	valid := stubValidator{claims: &JWTClaims{Caller: caller, JTI: "j1", APIVersion: id.APIVersionV1}}

	t.Run("missing header", func(t *testing.T) {
		rec, _ := serve(t, valid, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec, _ := serve(t, stubValidator{err: errors.New("bad")}, nil, "Bearer x")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token sets caller", func(t *testing.T) {
		rec, seen := serve(t, valid, nil, "Bearer x")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, caller, seen)
	})

	t.Run("revoked token", func(t *testing.T) {
		rec, _ := serve(t, valid, stubRevocations{"j1": true}, "Bearer x")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("revocation store failure", func(t *testing.T) {
		broken := stubValidator{claims: &JWTClaims{Caller: caller, JTI: "broken"}}
		rec, _ := serve(t, broken, stubRevocations{}, "Bearer x")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
