// Package redisstore implements a shared cache tier on Redis. Values are
// stored as JSON under a key prefix so several caches can share a database.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/tiercache/internal/cache"
	"github.com/redis/go-redis/v9"
)

const scanCount = 100

// clearTimeout bounds Clear, which has no caller context.
const clearTimeout = 10 * time.Second

// Store is a Redis-backed cache.Cache keyed by string.
type Store[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *log.Logger
}

// Connect opens a client and checks that the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// New creates a store. Entries expire after ttl; zero keeps them forever.
func New[V any](client *redis.Client, prefix string, ttl time.Duration) *Store[V] {
	return &Store[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: log.Default(),
	}
}

// KeyValues scans every key under the prefix. Keys that vanish or fail to
// decode between the scan and the read are skipped.
func (s *Store[V]) KeyValues(ctx context.Context) ([]cache.Pair[string, V], error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget error: %w", err)
	}

	pairs := make([]cache.Pair[string, V], 0, len(keys))
	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v V
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			s.logger.Debug("skipping undecodable redis value", "key", keys[i], "error", err)
			continue
		}
		pairs = append(pairs, cache.Pair[string, V]{Key: strings.TrimPrefix(keys[i], s.prefix), Value: v})
	}
	return pairs, nil
}

// Get retrieves a value from Redis.
func (s *Store[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V

	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, cache.ErrNotFound
		}
		return zero, fmt.Errorf("redis get error: %w", err)
	}

	var v V
	if err := json.Unmarshal(val, &v); err != nil {
		return zero, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return v, nil
}

// Set stores a value in Redis with the store's TTL.
func (s *Store[V]) Set(ctx context.Context, key string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a key from Redis.
func (s *Store[V]) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	if n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// Clear removes every key under the prefix. Failures are logged.
func (s *Store[V]) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), clearTimeout)
	defer cancel()

	keys, err := s.scan(ctx)
	if err != nil {
		s.logger.Warn("failed to scan redis keys", "prefix", s.prefix, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("failed to clear redis keys", "prefix", s.prefix, "error", err)
	}
}

// OnMemoryWarning does nothing. The memory in question is the server's.
func (s *Store[V]) OnMemoryWarning() {}

// Ping checks if Redis is reachable.
func (s *Store[V]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store[V]) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan error: %w", err)
	}
	return keys, nil
}
