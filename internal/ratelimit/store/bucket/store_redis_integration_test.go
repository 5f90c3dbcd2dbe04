//go:build integration

package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credrep/internal/auth/store/revocation"
	"credrep/pkg/testutil/containers"
)

// RedisBucketSuite runs the sliding window against a real Redis so the
// MULTI/EXEC pipeline and key expiry are exercised end to end.
type RedisBucketSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisBucketStore
}

func TestRedisBucketSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketSuite))
}

func (s *RedisBucketSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = NewRedisBucketStore(s.redis.Client)
}

func (s *RedisBucketSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisBucketSuite) TestRejectsOverBudgetAndRecovers() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := s.store.Allow(ctx, "ip:10.0.0.1:write", 3, 500*time.Millisecond)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
	}

	res, err := s.store.Allow(ctx, "ip:10.0.0.1:write", 3, 500*time.Millisecond)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.GreaterOrEqual(res.RetryAfter, 1)

	s.Eventually(func() bool {
		res, err := s.store.Allow(ctx, "ip:10.0.0.1:write", 3, 500*time.Millisecond)
		return err == nil && res.Allowed
	}, 3*time.Second, 100*time.Millisecond)
}

func (s *RedisBucketSuite) TestResetClearsKey() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "ip:10.0.0.2:read", 1, time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(ctx, "ip:10.0.0.2:read"))

	res, err := s.store.Allow(ctx, "ip:10.0.0.2:read", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *RedisBucketSuite) TestRevocationListSharesTheInstance() {
	ctx := context.Background()
	trl := revocation.NewRedisTRL(s.redis.Client)

	s.Require().NoError(trl.RevokeTokens(ctx, []string{"jti-a", "jti-b"}, time.Minute))

	revoked, err := trl.IsRevoked(ctx, "jti-a")
	s.Require().NoError(err)
	s.True(revoked)

	revoked, err = trl.IsRevoked(ctx, "jti-c")
	s.Require().NoError(err)
	s.False(revoked)
}
