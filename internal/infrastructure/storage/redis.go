package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisKV
const DefaultRedisPrefix = "miniapp:"

// RedisKV stores each key as a redis string under prefix
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV creates a store from an existing Redis client
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisKV{
		client: client,
		prefix: prefix,
	}
}

// Locate returns the redis key for key
func (s *RedisKV) Locate(key string) string {
	return s.prefix + key
}

// Get reads the value for key
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.Locate(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put replaces the value for key. A redis SET is atomic; durability follows
// the server's persistence settings.
func (s *RedisKV) Put(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.Locate(key), data, 0).Err()
}

// Delete removes key
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.Locate(key)).Err()
}

// List scans the namespace and returns the stored app ids, sorted
func (s *RedisKV) List(ctx context.Context, namespace string) ([]string, error) {
	match := s.prefix + namespace + "/*"
	head := s.prefix + namespace + "/"

	var ids []string
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), head))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	sort.Strings(ids)
	return ids, nil
}

// Ping checks connectivity
func (s *RedisKV) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisKV) Close() error {
	return s.client.Close()
}
