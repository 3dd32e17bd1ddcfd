package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects SQL flavour details for SQLClient.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DefaultTable is the cache table name used when none is configured.
const DefaultTable = "parse_cache"

// SQLConfig configures a SQL-backed cache client.
type SQLConfig struct {
	Dialect Dialect
	DSN     string
	Table   string
	// CascadeTable, when set, makes each row reference CascadeTable(id) so
	// deleting a document there removes its cache entry.
	CascadeTable string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	JournalMode     string
}

// SQLClient stores payloads in a single table keyed by document_id.
// Expiry is stored as unix milliseconds; NULL never expires.
type SQLClient struct {
	db      *sql.DB
	table   string
	dialect Dialect
	now     func() time.Time
}

// NewSQLClient opens the database and ensures the cache table exists.
func NewSQLClient(ctx context.Context, cfg SQLConfig) (*SQLClient, error) {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("invalid cache table name: %q", table)
	}
	if cfg.CascadeTable != "" && !validIdentifier(cfg.CascadeTable) {
		return nil, fmt.Errorf("invalid cascade table name: %q", cfg.CascadeTable)
	}

	var driver, dsn string
	switch cfg.Dialect {
	case DialectSQLite:
		driver, dsn = "sqlite3", sqliteDSN(cfg.DSN, cfg.JournalMode)
	case DialectPostgres:
		driver, dsn = "postgres", cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", cfg.Dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	c := &SQLClient{db: db, table: table, dialect: cfg.Dialect, now: time.Now}
	if err := c.migrate(ctx, cfg.CascadeTable); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLClient) migrate(ctx context.Context, cascadeTable string) error {
	payloadType := "TEXT"
	if c.dialect == DialectPostgres {
		payloadType = "JSONB"
	}

	ref := ""
	if cascadeTable != "" {
		ref = fmt.Sprintf(" REFERENCES %s(id) ON DELETE CASCADE", cascadeTable)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT PRIMARY KEY%s,
			payload     %s NOT NULL,
			expires_at  BIGINT,
			updated_at  BIGINT NOT NULL
		)
	`, c.table, ref, payloadType)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

// Get retrieves the payload stored for key.
func (c *SQLClient) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload, expires_at FROM %s WHERE document_id = $1`, c.table)

	var payload string
	var expiresAt sql.NullInt64
	err := c.db.QueryRowContext(ctx, query, key).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sql cache get: %w", err)
	}
	if expiresAt.Valid && c.now().UnixMilli() > expiresAt.Int64 {
		return nil, ErrCacheMiss
	}
	return []byte(payload), nil
}

// Set upserts the payload for key. A zero ttl never expires.
func (c *SQLClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, c.table)

	if _, err := c.db.ExecContext(ctx, query, key, string(value), expiresAt, now.UnixMilli()); err != nil {
		return fmt.Errorf("sql cache set: %w", err)
	}
	return nil
}

// Delete removes the row for key.
func (c *SQLClient) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, c.table)
	if _, err := c.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("sql cache delete: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for maintenance and tests.
func (c *SQLClient) DB() *sql.DB {
	return c.db
}

// Close closes the database.
func (c *SQLClient) Close() error {
	return c.db.Close()
}

// sqliteDSN enables foreign keys so cascade deletes fire, and applies the
// journal mode when the path carries no explicit options.
func sqliteDSN(path, journalMode string) string {
	if path == "" {
		path = ":memory:"
	}
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=on"
	}
	dsn := path + "?_foreign_keys=on"
	if journalMode != "" && path != ":memory:" {
		dsn += "&_journal_mode=" + journalMode
	}
	return dsn
}

func validIdentifier(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
