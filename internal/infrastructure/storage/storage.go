// Package storage provides the durable key-value media behind the manifest
// cache, the permission store and the digest store.
//
// Keys have the form "{namespace}/{app-id}" (see paths.Key). Three backends
// implement KV:
//   - FileKV: one JSON file per key, written with temp file + fsync + rename
//   - RedisKV: one redis string per key under a configurable prefix
//   - MemoryKV: process memory, for tests and ephemeral hosts
//
// Every backend guarantees read-after-write consistency for a single key and
// never exposes a partially written value.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotExist is returned by Get when the key has never been written
var ErrNotExist = errors.New("storage: key does not exist")

// KV is a durable key-value medium
type KV interface {
	// Get returns the value stored for key or ErrNotExist
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the value atomically; it is durable when Put returns
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	// List returns the app ids stored under namespace
	List(ctx context.Context, namespace string) ([]string, error)
	// Locate returns where key lives (file path or redis key)
	Locate(key string) string
	// Close releases backend resources
	Close() error
}

// Backend names accepted by Open
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend
type Options struct {
	Backend     string
	Dir         string
	RedisURL    string
	RedisPrefix string
}

// Open builds the backend described by opts
func Open(ctx context.Context, opts Options, logger *zap.Logger) (KV, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch opts.Backend {
	case BackendFile, "":
		kv, err := NewFileKV(opts.Dir)
		if err != nil {
			return nil, err
		}
		logger.Info("Using file storage", zap.String("dir", opts.Dir))
		return kv, nil
	case BackendRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("Using redis storage", zap.String("addr", redisOpts.Addr), zap.String("prefix", opts.RedisPrefix))
		return NewRedisKV(client, opts.RedisPrefix), nil
	case BackendMemory:
		logger.Warn("Using in-memory storage, state is lost on restart")
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
