package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credrep/pkg/platform/sentinel"
)

func TestInMemoryTRL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trl := NewInMemoryTRL(func() time.Time { return now })

	t.Run("unknown jti is not revoked", func(t *testing.T) {
		revoked, err := trl.IsRevoked(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("revoked until ttl elapses", func(t *testing.T) {
		require.NoError(t, trl.RevokeTokens(ctx, []string{"a", "", "b"}, time.Minute))

		revoked, err := trl.IsRevoked(ctx, "a")
		require.NoError(t, err)
		assert.True(t, revoked)

		now = now.Add(2 * time.Minute)
		revoked, err = trl.IsRevoked(ctx, "b")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("non-positive ttl is rejected", func(t *testing.T) {
		err := trl.RevokeToken(ctx, "c", 0)
		assert.True(t, errors.Is(err, sentinel.ErrInvalidState))
	})
}

func TestRedisTRL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	trl := NewRedisTRL(client)

	require.NoError(t, trl.RevokeToken(ctx, "jti-1", time.Minute))
	require.NoError(t, trl.RevokeTokens(ctx, []string{"jti-2", "jti-3"}, time.Minute))

	for _, jti := range []string{"jti-1", "jti-2", "jti-3"} {
		revoked, err := trl.IsRevoked(ctx, jti)
		require.NoError(t, err)
		assert.True(t, revoked, jti)
	}

	mr.FastForward(2 * time.Minute)
	revoked, err := trl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "expired with the token")

	revoked, err = trl.IsRevoked(ctx, "")
	require.NoError(t, err)
	assert.False(t, revoked)
}
