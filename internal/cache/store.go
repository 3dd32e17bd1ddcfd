package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/domain"
)

// ResultStore reads and writes parse results keyed by document ID. It is the
// only component aware of the legacy payload shape.
type ResultStore struct {
	client Client
	ttl    time.Duration
}

// NewResultStore wraps a backing client. A zero ttl keeps entries until they
// are invalidated or removed by the document store.
func NewResultStore(client Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

// Get returns the cached result for documentID. ok is false on a miss.
// Undecodable entries are reported as errors so callers can log and re-parse.
func (s *ResultStore) Get(ctx context.Context, documentID string) (*domain.ParseResult, bool, error) {
	data, err := s.client.Get(ctx, documentID)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.CacheError("cache read failed", err)
	}

	p, err := decodePayload(data)
	if err != nil {
		return nil, false, domain.CacheError(fmt.Sprintf("cache entry for %s is unreadable", documentID), err)
	}

	return &domain.ParseResult{
		DocumentID: documentID,
		Pages:      p.Pages,
		Tables:     p.Tables,
		Method:     p.Method,
		Cached:     true,
	}, true, nil
}

// Put overwrites the entry for documentID with result.
func (s *ResultStore) Put(ctx context.Context, documentID string, result *domain.ParseResult) error {
	data, err := encodePayload(result)
	if err != nil {
		return domain.CacheError("encode cache payload", err)
	}
	if err := s.client.Set(ctx, documentID, data, s.ttl); err != nil {
		return domain.CacheError("cache write failed", err)
	}
	return nil
}

// Invalidate removes the entry for documentID. Normal deletion happens by
// cascade in the document store; this serves manual maintenance.
func (s *ResultStore) Invalidate(ctx context.Context, documentID string) error {
	if err := s.client.Delete(ctx, documentID); err != nil {
		return domain.CacheError("cache delete failed", err)
	}
	return nil
}

// Close releases the backing client.
func (s *ResultStore) Close() error {
	return s.client.Close()
}

// NewClient builds the backing client selected by cfg.Driver.
func NewClient(ctx context.Context, cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryClient(cfg.MaxEntries, cfg.KeyPrefix), nil
	case "redis":
		return NewRedisClient(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.KeyPrefix,
		})
	case "sqlite":
		return NewSQLClient(ctx, SQLConfig{
			Dialect:      DialectSQLite,
			DSN:          cfg.SQLite.Path,
			CascadeTable: cfg.CascadeTable,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			JournalMode:  cfg.SQLite.JournalMode,
		})
	case "postgres":
		return NewSQLClient(ctx, SQLConfig{
			Dialect:         DialectPostgres,
			DSN:             cfg.Postgres.DSN,
			CascadeTable:    cfg.CascadeTable,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
	}
	return nil, domain.ConfigError(fmt.Sprintf("unsupported cache driver: %s", cfg.Driver), nil)
}

// NewStore builds a ResultStore from configuration.
func NewStore(ctx context.Context, cfg config.CacheConfig) (*ResultStore, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewResultStore(client, cfg.TTL), nil
}
