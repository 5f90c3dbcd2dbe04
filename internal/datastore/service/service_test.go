package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"credrep/internal/datastore/store"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/requestcontext"
)

type downStore struct{ *store.InMemoryStore }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

// =============================================================================
// Data Service Test Suite
// =============================================================================
// Justification: the frontend relies on unknown keys reading as empty and on
// writes being bounded and attributable.

type DataServiceSuite struct {
	suite.Suite
	service *Service
	caller  context.Context
}

func TestDataServiceSuite(t *testing.T) {
	suite.Run(t, new(DataServiceSuite))
}

func (s *DataServiceSuite) SetupTest() {
	svc, err := New(store.NewInMemoryStore())
	s.Require().NoError(err)
	s.service = svc
	s.caller = requestcontext.WithCaller(context.Background(), id.Address{0x42})
}

func (s *DataServiceSuite) TestNewRequiresStore() {
	_, err := New(nil)
	s.ErrorContains(err, "data store is required")
}

func (s *DataServiceSuite) TestGetUnknownKeyIsEmpty() {
	v, err := s.service.GetData(context.Background(), "nothing-here")
	s.Require().NoError(err)
	s.NotNil(v)
	s.Empty(v)
}

func (s *DataServiceSuite) TestSetThenGet() {
	s.Require().NoError(s.service.SetData(s.caller, "profile:0x42", []byte(`{"x":1}`)))
	v, err := s.service.GetData(context.Background(), "profile:0x42")
	s.Require().NoError(err)
	s.Equal(`{"x":1}`, string(v))
}

func (s *DataServiceSuite) TestSetValidation() {
	s.Run("anonymous caller", func() {
		err := s.service.SetData(context.Background(), "k", []byte("v"))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})
	s.Run("empty key", func() {
		err := s.service.SetData(s.caller, "", []byte("v"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("key too long", func() {
		err := s.service.SetData(s.caller, strings.Repeat("k", MaxKeyLength+1), []byte("v"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("value too large", func() {
		err := s.service.SetData(s.caller, "k", bytes.Repeat([]byte{1}, MaxValueLength+1))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("value at the limit", func() {
		s.NoError(s.service.SetData(s.caller, strings.Repeat("k", MaxKeyLength), bytes.Repeat([]byte{1}, MaxValueLength)))
	})
}

func (s *DataServiceSuite) TestIsAvailable() {
	s.True(s.service.IsAvailable(context.Background()))

	down, err := New(downStore{store.NewInMemoryStore()})
	s.Require().NoError(err)
	s.False(down.IsAvailable(context.Background()))
}
