package blobstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("object not found")

// Store is a content-addressable object store. Keys are derived from content
// by the caller, so a key is only ever written with one payload.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Put stores data under key and returns the object URI.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// URI returns the scheme://bucket/key reference for key.
	URI(key string) string
}

const (
	BackendGCS    = "gcs"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendMemory = "memory"
)

type Options struct {
	Backend string
	Bucket  string
	// Dir is the root directory of the file backend.
	Dir   string
	GCS   *storage.Client
	Redis *redis.Client
}

// Open returns the store for opts.Backend. Clients for remote backends are
// owned by the caller.
func Open(opts Options) (Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	switch opts.Backend {
	case BackendGCS:
		if opts.GCS == nil {
			return nil, fmt.Errorf("gcs backend requires a storage client")
		}
		return NewGCSStore(opts.GCS, opts.Bucket), nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		return NewRedisStore(opts.Redis, opts.Bucket), nil
	case BackendFile:
		fs, err := NewFileStore(opts.Dir, opts.Bucket)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case BackendMemory:
		return NewMemoryStore(opts.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", opts.Backend)
	}
}
