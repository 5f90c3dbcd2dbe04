package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"credrep/internal/credential/service"
	"credrep/internal/fhe/local"
	"credrep/internal/ledger/memory"
	id "credrep/pkg/domain"
	"credrep/pkg/testutil"
)

const (
	adminAddr   = "0x00000000000000000000000000000000000000a1"
	issuerAddr  = "0x00000000000000000000000000000000000000b2"
	subjectAddr = "0x00000000000000000000000000000000000000c3"
)

type CredentialHandlerSuite struct {
	suite.Suite
	router http.Handler
}

func TestCredentialHandlerSuite(t *testing.T) {
	suite.Run(t, new(CredentialHandlerSuite))
}

func (s *CredentialHandlerSuite) SetupTest() {
	cp, err := local.New(local.NewInMemoryStore())
	s.Require().NoError(err)
	admin, err := id.ParseAddress(adminAddr)
	s.Require().NoError(err)
	svc, err := service.New(memory.New(), cp, admin)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	New(svc, logger).Register(r, testutil.HeaderAuth)
	s.router = r
}

func (s *CredentialHandlerSuite) do(method, path, caller string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	if caller != "" {
		req.Header.Set(testutil.HeaderCaller, caller)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *CredentialHandlerSuite) authorizeIssuer() {
	rr := s.do(http.MethodPost, "/issuers", adminAddr, map[string]string{"address": issuerAddr})
	testutil.AssertStatusOK(s.T(), rr)
}

func (s *CredentialHandlerSuite) issue(score uint32) CredentialResponse {
	typ, weight := uint32(1), uint32(2)
	rr := s.do(http.MethodPost, "/credentials", issuerAddr, map[string]any{
		"subject": subjectAddr, "type": typ, "score": score, "weight": weight,
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	return *testutil.UnmarshalResponse[CredentialResponse](s.T(), rr)
}

func (s *CredentialHandlerSuite) TestIssuerLifecycle() {
	s.Run("mutations need a caller", func() {
		rr := s.do(http.MethodPost, "/issuers", "", map[string]string{"address": issuerAddr})
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})
	s.Run("non-admin cannot authorize", func() {
		rr := s.do(http.MethodPost, "/issuers", issuerAddr, map[string]string{"address": issuerAddr})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized")
	})
	s.Run("malformed address", func() {
		rr := s.do(http.MethodPost, "/issuers", adminAddr, map[string]string{"address": "nope"})
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
	s.Run("admin authorizes and lists", func() {
		s.authorizeIssuer()
		rr := s.do(http.MethodGet, "/issuers", "", nil)
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[IssuerListResponse](s.T(), rr)
		s.Len(list.Issuers, 1)
	})
	s.Run("admin revokes", func() {
		rr := s.do(http.MethodDelete, "/issuers/"+issuerAddr, adminAddr, nil)
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
		rr = s.do(http.MethodDelete, "/issuers/"+issuerAddr, adminAddr, nil)
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}

func (s *CredentialHandlerSuite) TestIssueGetRevoke() {
	s.authorizeIssuer()
	cred := s.issue(80)
	s.True(cred.Active)
	s.Equal(uint64(1), cred.ID)

	rr := s.do(http.MethodGet, "/credentials/1", "", nil)
	testutil.AssertStatusOK(s.T(), rr)

	rr = s.do(http.MethodGet, "/subjects/"+subjectAddr+"/credentials", "", nil)
	list := testutil.UnmarshalResponse[CredentialListResponse](s.T(), rr)
	s.Len(list.Credentials, 1)

	rr = s.do(http.MethodPost, "/credentials/1/revoke", subjectAddr, nil)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized")

	rr = s.do(http.MethodPost, "/credentials/1/revoke", issuerAddr, nil)
	testutil.AssertStatusOK(s.T(), rr)
	revoked := testutil.UnmarshalResponse[CredentialResponse](s.T(), rr)
	s.False(revoked.Active)
	s.NotNil(revoked.RevokedAt)
}

func (s *CredentialHandlerSuite) TestIssueValidation() {
	s.authorizeIssuer()

	rr := s.do(http.MethodPost, "/credentials", issuerAddr, map[string]any{"subject": subjectAddr, "score": 1})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = s.do(http.MethodPost, "/credentials", issuerAddr, map[string]any{"subject": subjectAddr, "type": 1, "score": 1, "weight": 1, "extra": true})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = s.do(http.MethodPost, "/credentials", subjectAddr, map[string]any{"subject": subjectAddr, "type": 1, "score": 1, "weight": 1})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized")
}

func (s *CredentialHandlerSuite) TestGetErrors() {
	rr := s.do(http.MethodGet, "/credentials/99", "", nil)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = s.do(http.MethodGet, "/credentials/abc", "", nil)
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}
