package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// GetBytes reads a raw cache value. A miss returns (nil, nil).
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SetBytes writes a raw cache value with a TTL.
func (s *Store) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
