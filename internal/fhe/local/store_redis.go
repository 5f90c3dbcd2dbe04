package local

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"credrep/internal/fhe"
	"credrep/pkg/platform/sentinel"
)

const ciphertextKeyPrefix = "credrep:ct:"

// RedisStore persists ciphertext entries so that handles survive restarts and
// can be shared between server replicas.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, h fhe.Handle, e Entry) error {
	var buf [9]byte
	buf[0] = byte(e.Type)
	binary.BigEndian.PutUint64(buf[1:], e.Value)
	if err := s.client.Set(ctx, ciphertextKey(h), buf[:], 0).Err(); err != nil {
		return fmt.Errorf("redis set ciphertext: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, h fhe.Handle) (Entry, error) {
	raw, err := s.client.Get(ctx, ciphertextKey(h)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get ciphertext: %w", err)
	}
	if len(raw) != 9 {
		return Entry{}, fmt.Errorf("corrupt ciphertext entry for %s", h.Hex())
	}
	return Entry{
		Type:  fhe.EncryptedType(raw[0]),
		Value: binary.BigEndian.Uint64(raw[1:]),
	}, nil
}

func ciphertextKey(h fhe.Handle) string {
	return ciphertextKeyPrefix + h.Hex()
}
