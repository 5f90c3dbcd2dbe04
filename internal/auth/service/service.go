// Package service mints and revokes caller tokens. It stands in for wallet
// signatures: an operator holding the admin token vouches for an address.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"credrep/internal/auth/models"
	jwttoken "credrep/internal/jwt_token"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/requestcontext"
)

// TokenRevocationList is the subset of the revocation store the service uses.
type TokenRevocationList interface {
	RevokeTokens(ctx context.Context, jtis []string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// TRLFailureMode decides what a revocation check does when the list is unreachable.
type TRLFailureMode string

const (
	TRLFailureModeFail TRLFailureMode = "fail"
	TRLFailureModeOpen TRLFailureMode = "open"
)

// MaxRevokeBatch bounds one revocation call.
const MaxRevokeBatch = 100

type Service struct {
	jwt            *jwttoken.JWTService
	trl            TokenRevocationList
	TokenTTL       time.Duration
	TRLFailureMode TRLFailureMode
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTRLFailureMode(mode TRLFailureMode) Option {
	return func(s *Service) {
		s.TRLFailureMode = mode
	}
}

func New(jwt *jwttoken.JWTService, trl TokenRevocationList, tokenTTL time.Duration, opts ...Option) (*Service, error) {
	if jwt == nil {
		return nil, errors.New("jwt service is required")
	}
	if trl == nil {
		return nil, errors.New("token revocation list is required")
	}
	if tokenTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	s := &Service{
		jwt:            jwt,
		trl:            trl,
		TokenTTL:       tokenTTL,
		TRLFailureMode: TRLFailureModeFail,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MintCallerToken issues a token whose subject is caller.
func (s *Service) MintCallerToken(ctx context.Context, caller id.Address) (*models.IssuedToken, error) {
	token, expiresAt, err := s.jwt.GenerateCallerToken(caller, id.DefaultVersion(), s.TokenTTL)
	if err != nil {
		return nil, err
	}
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "minted token does not validate")
	}
	s.logAudit(ctx, "caller_token_minted",
		"caller", caller.Hex(),
		"jti", claims.ID,
	)
	return &models.IssuedToken{
		Token:     token,
		TokenID:   claims.ID,
		Caller:    caller,
		ExpiresAt: expiresAt,
	}, nil
}

// RevokeTokens adds the ids to the revocation list for one token lifetime.
func (s *Service) RevokeTokens(ctx context.Context, jtis []string) error {
	if len(jtis) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "at least one token id is required")
	}
	if len(jtis) > MaxRevokeBatch {
		return dErrors.New(dErrors.CodeBadRequest, "too many token ids")
	}
	if err := s.trl.RevokeTokens(ctx, jtis, s.TokenTTL); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to add tokens to revocation list")
	}
	s.logAudit(ctx, "caller_tokens_revoked", "count", len(jtis))
	return nil
}

// IsTokenRevoked backs the auth middleware.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	revoked, err := s.trl.IsRevoked(ctx, jti)
	if err != nil {
		s.logger.ErrorContext(ctx, "token revocation check failed", "error", err, "jti", jti)
		if s.TRLFailureMode == TRLFailureModeOpen {
			return false, nil
		}
		return false, err
	}
	return revoked, nil
}

func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	args := append(attrs,
		"request_id", requestcontext.RequestID(ctx),
		"client_ip", requestcontext.ClientIP(ctx),
		"log_type", "audit",
	)
	s.logger.InfoContext(ctx, event, args...)
}
