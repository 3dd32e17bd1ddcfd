package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/ocr/tesseract"
)

func newTestClient(t *testing.T, mutate func(*config.Config)) *Client {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	c, err := NewClientWithConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientWithConfig_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Extraction.Strategies = []string{"acrobat"}

	_, err := NewClientWithConfig(context.Background(), cfg, nil)
	assert.Equal(t, domain.ErrorTypeConfig, ErrorTypeOf(err))
}

func TestNewClientWithConfig_OCRFollowsBuild(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Output: &buf})
	c, err := NewClientWithConfig(context.Background(), config.DefaultConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var ready map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(line, &m))
		if m["message"] == "Ingestion client ready" {
			ready = m
		}
	}
	require.NotNil(t, ready)
	assert.Equal(t, tesseract.Available, ready["ocr"])
}

func TestClient_DefaultOptionsCarryConfiguredPatterns(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) {
		cfg.Sections.CustomPatterns = []string{`^(Annex [A-Z])`}
	})

	opts := c.DefaultOptions()
	assert.True(t, opts.EnableOCR)
	assert.True(t, opts.EnableTables)
	assert.True(t, opts.EnableParallel)
	assert.Equal(t, []string{`^(Annex [A-Z])`}, opts.CustomPatterns)
}

func TestClient_ValidatePatterns(t *testing.T) {
	c := newTestClient(t, nil)

	assert.NoError(t, c.ValidatePatterns([]string{`^(Article \d+)`}))
	err := c.ValidatePatterns([]string{`(a+)+`})
	assert.Equal(t, domain.ErrorTypePatternRejected, ErrorTypeOf(err))
}

func TestClient_CacheMaintenance(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)

	_, ok, err := c.CachedResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, "doc-1"))
}

func TestClient_CacheDisabled(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) { cfg.Cache.Enabled = false })

	_, _, err := c.CachedResult(context.Background(), "doc-1")
	assert.Equal(t, domain.ErrorTypeConfig, ErrorTypeOf(err))
	assert.Equal(t, domain.ErrorTypeConfig, ErrorTypeOf(c.Invalidate(context.Background(), "doc-1")))
}

func TestClient_SQLiteCache(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) {
		cfg.Cache.Driver = "sqlite"
		cfg.Cache.SQLite.Path = filepath.Join(t.TempDir(), "cache.db")
	})

	_, ok, err := c.CachedResult(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_RejectsNonPDF(t *testing.T) {
	c := newTestClient(t, nil)

	_, err := c.ParseBytes(context.Background(), "doc-1", "org", "notes.txt", []byte("plain text"), c.DefaultOptions())
	assert.Equal(t, domain.ErrorTypeCorrupt, ErrorTypeOf(err))
}

func TestClient_MissingFile(t *testing.T) {
	c := newTestClient(t, nil)

	_, err := c.ParseFile(context.Background(), "doc-1", "", filepath.Join(t.TempDir(), "nope.pdf"), c.DefaultOptions())
	assert.Equal(t, domain.ErrorTypeNotFound, ErrorTypeOf(err))
}

func TestClient_PatternRejectedBeforeFileAccess(t *testing.T) {
	c := newTestClient(t, nil)
	opts := c.DefaultOptions()
	opts.CustomPatterns = []string{"[unterminated"}

	_, err := c.ParseFile(context.Background(), "doc-1", "", "/does/not/exist.pdf", opts)
	assert.Equal(t, domain.ErrorTypePatternRejected, ErrorTypeOf(err))
}
