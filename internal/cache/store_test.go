package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/domain"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func sampleResult(id string) *domain.ParseResult {
	return &domain.ParseResult{
		DocumentID: id,
		Pages: []domain.Page{
			{PageNumber: 1, Section: strPtr("1. Intro"), Text: "hello"},
			{PageNumber: 2, Section: strPtr("1. Intro"), Text: "world"},
			{PageNumber: 3, Section: nil, Text: "", OCRFailed: true},
		},
		Tables: []domain.Table{{
			TableIndex: 0,
			SourcePage: intPtr(2),
			Columns:    []string{"Item", "Qty"},
			Rows:       []map[string]string{{"Item": "bolt", "Qty": "4"}},
			RowCount:   1,
		}},
		Method: domain.MethodFallback,
	}
}

func TestResultStore_RoundTripMarksCached(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(NewMemoryClient(100, "parse:"), 0)

	want := sampleResult("doc-1")
	require.NoError(t, store.Put(ctx, "doc-1", want))

	got, ok, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Cached)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, want.Pages, got.Pages)
	assert.Equal(t, want.Tables, got.Tables)
	assert.Equal(t, domain.MethodFallback, got.Method)
}

func TestResultStore_Miss(t *testing.T) {
	store := NewResultStore(NewMemoryClient(100, ""), 0)
	got, ok, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestResultStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(NewMemoryClient(100, ""), 0)

	require.NoError(t, store.Put(ctx, "doc", sampleResult("doc")))
	replacement := &domain.ParseResult{
		Pages:  []domain.Page{{PageNumber: 1, Text: "only"}},
		Method: domain.MethodOCR,
	}
	require.NoError(t, store.Put(ctx, "doc", replacement))

	got, ok, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Pages, 1)
	assert.Empty(t, got.Tables)
	assert.NotNil(t, got.Tables)
	assert.Equal(t, domain.MethodOCR, got.Method)
}

func TestResultStore_LegacyPayload(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient(100, "")
	legacy := `[{"page":1,"section":null,"text":"a"},{"page":2,"section":"INTRO","text":"b"}]`
	require.NoError(t, client.Set(ctx, "old", []byte(legacy), 0))

	got, ok, err := NewResultStore(client, 0).Get(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Pages, 2)
	assert.Nil(t, got.Pages[0].Section)
	assert.Equal(t, "INTRO", *got.Pages[1].Section)
	assert.NotNil(t, got.Tables)
	assert.Empty(t, got.Tables)
	assert.Equal(t, domain.MethodPrimary, got.Method)
	assert.True(t, got.Cached)
}

func TestResultStore_CurrentPayloadWithoutMethod(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient(100, "")
	current := `{"pages":[{"page":1,"section":null,"text":"x"}],"tables":[{"table_index":0,"columns":["a"],"data":[{"a":"1"},{"a":"2"}],"row_count":7}]}`
	require.NoError(t, client.Set(ctx, "cur", []byte(current), 0))

	got, ok, err := NewResultStore(client, 0).Get(ctx, "cur")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MethodPrimary, got.Method)
	require.Len(t, got.Tables, 1)
	assert.Equal(t, 2, got.Tables[0].RowCount)
	assert.Nil(t, got.Tables[0].SourcePage)
}

func TestResultStore_NonStringCells(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient(100, "")
	current := `{"pages":[{"page":1,"section":null,"text":"x"}],"tables":[{"table_index":0,"columns":["a","b","c"],"data":[{"a":1,"b":null,"c":2.50},{"a":"x","b":true,"c":""}]}],"method":"primary"}`
	require.NoError(t, client.Set(ctx, "cells", []byte(current), 0))

	got, ok, err := NewResultStore(client, 0).Get(ctx, "cells")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Tables, 1)
	assert.Equal(t, []map[string]string{
		{"a": "1", "b": "", "c": "2.50"},
		{"a": "x", "b": "true", "c": ""},
	}, got.Tables[0].Rows)
	assert.Equal(t, 2, got.Tables[0].RowCount)
}

func TestResultStore_UnreadableEntry(t *testing.T) {
	ctx := context.Background()
	for name, raw := range map[string]string{
		"garbage":        `not json`,
		"bad method":     `{"pages":[],"tables":[],"method":"magic"}`,
		"gapped pages":   `[{"page":1,"text":""},{"page":3,"text":""}]`,
		"truncated json": `{"pages":[`,
		"nested cell":    `{"pages":[],"tables":[{"table_index":0,"columns":["a"],"data":[{"a":{"x":1}}]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			client := NewMemoryClient(100, "")
			require.NoError(t, client.Set(ctx, "k", []byte(raw), 0))
			_, ok, err := NewResultStore(client, 0).Get(ctx, "k")
			assert.False(t, ok)
			assert.True(t, domain.IsType(err, domain.ErrorTypeCache))
		})
	}
}

type failingClient struct{ err error }

func (f failingClient) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingClient) Set(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f failingClient) Delete(context.Context, string) error { return f.err }
func (f failingClient) Close() error                         { return nil }

func TestResultStore_BackendErrorsAreCacheErrors(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(failingClient{err: errors.New("connection refused")}, 0)

	_, _, err := store.Get(ctx, "x")
	assert.True(t, domain.IsType(err, domain.ErrorTypeCache))

	err = store.Put(ctx, "x", sampleResult("x"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeCache))

	err = store.Invalidate(ctx, "x")
	assert.True(t, domain.IsType(err, domain.ErrorTypeCache))
}

func TestResultStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(NewMemoryClient(100, ""), 0)
	require.NoError(t, store.Put(ctx, "doc", sampleResult("doc")))
	require.NoError(t, store.Invalidate(ctx, "doc"))

	_, ok, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryClient_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(100, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_BoundedPerShard(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(memoryShards, "")
	for i := 0; i < 500; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("doc-%d", i), []byte("v"), 0))
	}
	assert.LessOrEqual(t, c.Len(), memoryShards)
}

func TestMemoryClient_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10, "")
	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, 0))
	buf[0] = 'z'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryClient_ConcurrentDistinctKeys(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(NewMemoryClient(10000, ""), 0)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("doc-%d", i)
			assert.NoError(t, store.Put(ctx, id, sampleResult(id)))
			got, ok, err := store.Get(ctx, id)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, id, got.DocumentID)
		}(i)
	}
	wg.Wait()
}

func newSQLiteClient(t *testing.T, cascade string) *SQLClient {
	t.Helper()
	c, err := NewSQLClient(context.Background(), SQLConfig{
		Dialect:      DialectSQLite,
		DSN:          filepath.Join(t.TempDir(), "cache.db"),
		CascadeTable: cascade,
		MaxOpenConns: 1,
		JournalMode:  "WAL",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLClient_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteClient(t, "")
	store := NewResultStore(c, 0)

	_, ok, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "doc", sampleResult("doc")))
	require.NoError(t, store.Put(ctx, "doc", sampleResult("doc")))

	got, ok, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Pages, 3)

	var rows int
	require.NoError(t, c.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM parse_cache`).Scan(&rows))
	assert.Equal(t, 1, rows)

	require.NoError(t, store.Invalidate(ctx, "doc"))
	_, ok, err = store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLClient_SQLiteExpiry(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteClient(t, "")
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte(`[]`), time.Second))
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSQLClient_SQLiteCascadeDelete(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteClient(t, "documents")
	db := c.DB()

	_, err := db.ExecContext(ctx, `CREATE TABLE documents (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO documents (id) VALUES ($1)`, "doc-9")
	require.NoError(t, err)

	store := NewResultStore(c, 0)
	require.NoError(t, store.Put(ctx, "doc-9", sampleResult("doc-9")))

	_, err = db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, "doc-9")
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "doc-9")
	require.NoError(t, err)
	assert.False(t, ok)

	// Without a parent row the foreign key rejects the write.
	assert.Error(t, store.Put(ctx, "orphan", sampleResult("orphan")))
}

func TestNewSQLClient_RejectsBadIdentifiers(t *testing.T) {
	_, err := NewSQLClient(context.Background(), SQLConfig{
		Dialect:      DialectSQLite,
		DSN:          ":memory:",
		CascadeTable: "documents; DROP TABLE x",
	})
	assert.Error(t, err)

	_, err = NewSQLClient(context.Background(), SQLConfig{Dialect: "oracle"})
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on", sqliteDSN("", "WAL"))
	assert.Equal(t, "/tmp/a.db?_foreign_keys=on&_journal_mode=WAL", sqliteDSN("/tmp/a.db", "WAL"))
	assert.Equal(t, "file:a.db?cache=shared&_foreign_keys=on", sqliteDSN("file:a.db?cache=shared", "WAL"))
}

func TestNewClient_Drivers(t *testing.T) {
	ctx := context.Background()

	c, err := NewClient(ctx, config.CacheConfig{Driver: "memory", MaxEntries: 10})
	require.NoError(t, err)
	assert.IsType(t, &MemoryClient{}, c)

	cfg := config.DefaultConfig().Cache
	cfg.Driver = "sqlite"
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "c.db")
	c, err = NewClient(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLClient{}, c)
	require.NoError(t, c.Close())

	_, err = NewClient(ctx, config.CacheConfig{Driver: "etcd"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}
