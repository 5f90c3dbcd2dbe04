// Package service is the generic key/value surface the credential-submission
// frontend reads and writes. It sits beside the ledger and never touches it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"credrep/internal/platform/tracing"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/sentinel"
	"credrep/pkg/requestcontext"
)

const (
	MaxKeyLength   = 256
	MaxValueLength = 64 << 10
)

// Store is the blob backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
}

type Service struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("data store is required")
	}
	s := &Service{store: store, tracer: tracing.Tracer("datastore")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetData returns the stored bytes, or an empty slice for an unknown key.
func (s *Service) GetData(ctx context.Context, key string) (_ []byte, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "datastore.get")
	defer func() { tracing.End(span, err) }()

	if err := validateKey(key); err != nil {
		return nil, err
	}
	v, err := s.store.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read data")
	}
	return v, nil
}

// SetData overwrites key. Only authenticated callers may write.
func (s *Service) SetData(ctx context.Context, key string, value []byte) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "datastore.set",
		attribute.Int("value_bytes", len(value)))
	defer func() { tracing.End(span, err) }()

	caller := requestcontext.Caller(ctx)
	if id.IsZeroAddress(caller) {
		return dErrors.New(dErrors.CodeUnauthenticated, "caller is required")
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if len(value) > MaxValueLength {
		return dErrors.New(dErrors.CodeValidation, "value exceeds 64 KiB")
	}
	if err := s.store.Set(ctx, key, value); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write data")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "data_written",
			"key", key,
			"bytes", len(value),
			"caller", caller.Hex(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return nil
}

// IsAvailable reports whether the backend answers.
func (s *Service) IsAvailable(ctx context.Context) bool {
	if err := s.store.Ping(ctx); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "data store unavailable", "error", err)
		}
		return false
	}
	return true
}

func validateKey(key string) error {
	n := utf8.RuneCountInString(key)
	if n == 0 || n > MaxKeyLength {
		return dErrors.New(dErrors.CodeValidation, "key must be 1 to 256 characters")
	}
	return nil
}
