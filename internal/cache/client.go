// Package cache provides the parse-result cache and its backing stores.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client is a byte-oriented backing store keyed by document ID.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// RedisClient implements Client using Redis.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisClient creates a Redis-backed client and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "parse:"
	}

	return &RedisClient{client: client, prefix: prefix}, nil
}

// Get retrieves a value from Redis.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value, replacing any previous one. A zero ttl never expires.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value from Redis.
func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

const memoryShards = 32

// MemoryClient is an in-process store split into independently locked
// shards, so writes for different documents rarely contend.
type MemoryClient struct {
	shards   [memoryShards]*memoryShard
	perShard int
	prefix   string
	now      func() time.Time
}

type memoryShard struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero never expires
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryClient creates an in-memory client holding at most maxEntries
// values, spread across shards.
func NewMemoryClient(maxEntries int, prefix string) *MemoryClient {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	perShard := maxEntries / memoryShards
	if perShard < 1 {
		perShard = 1
	}

	c := &MemoryClient{perShard: perShard, prefix: prefix, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &memoryShard{data: make(map[string]cacheEntry)}
	}
	return c
}

func (c *MemoryClient) shard(key string) *memoryShard {
	return c.shards[xxhash.Sum64String(key)%memoryShards]
}

// Get retrieves a value from memory.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	key = c.prefix + key
	s := c.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data[key]
	if !ok || entry.expired(c.now()) {
		return nil, ErrCacheMiss
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a copy of value. A zero ttl never expires.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	key = c.prefix + key
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	if _, exists := s.data[key]; !exists && len(s.data) >= c.perShard {
		s.evict(now, c.perShard)
	}

	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.data[key] = entry
	return nil
}

// Delete removes a value from memory.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	key = c.prefix + key
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryClient) Len() int {
	now := c.now()
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.data {
			if !e.expired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// Close is a no-op for the memory client.
func (c *MemoryClient) Close() error {
	return nil
}

// evict drops expired entries and, if the shard is still full, the entry
// expiring soonest. Entries without expiry go last. Caller holds the lock.
func (s *memoryShard) evict(now time.Time, limit int) {
	for key, entry := range s.data {
		if entry.expired(now) {
			delete(s.data, key)
		}
	}
	if len(s.data) < limit {
		return
	}

	var victim string
	var victimExp time.Time
	for key, entry := range s.data {
		switch {
		case victim == "":
		case entry.expiresAt.IsZero():
			continue
		case !victimExp.IsZero() && !entry.expiresAt.Before(victimExp):
			continue
		}
		victim, victimExp = key, entry.expiresAt
	}
	delete(s.data, victim)
}
