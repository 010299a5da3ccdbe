package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCmds is the part of the go-redis client RedisStore uses.
type RedisCmds interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisStore keeps objects as plain string values. Writes use SETNX so the
// first writer of a key wins and later writers are no-ops.
type RedisStore struct {
	client RedisCmds
	bucket string
}

func NewRedisStore(client RedisCmds, bucket string) *RedisStore {
	return &RedisStore{client: client, bucket: bucket}
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.dataKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.client.SetNX(ctx, s.dataKey(key), data, 0).Err(); err != nil {
		return "", fmt.Errorf("redis setnx: %w", err)
	}
	if err := s.client.SetNX(ctx, s.dataKey(key)+":content_type", contentType, 0).Err(); err != nil {
		return "", fmt.Errorf("redis setnx content type: %w", err)
	}
	return s.URI(key), nil
}

func (s *RedisStore) URI(key string) string {
	return fmt.Sprintf("redis://%s/%s", s.bucket, key)
}

func (s *RedisStore) dataKey(key string) string {
	return "blob:" + s.bucket + ":" + key
}
