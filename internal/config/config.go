// Package config provides unified configuration loading for the ingestion pipeline.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion pipeline.
type Config struct {
	Cache         CacheConfig         `yaml:"cache"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	OCR           OCRConfig           `yaml:"ocr"`
	Tables        TablesConfig        `yaml:"tables"`
	Sections      SectionsConfig      `yaml:"sections"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// CacheConfig holds parse-result cache settings.
type CacheConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Driver     string         `yaml:"driver"` // memory, redis, sqlite or postgres
	TTL        time.Duration  `yaml:"ttl"`    // 0 keeps entries until invalidated
	KeyPrefix  string         `yaml:"key_prefix"`
	MaxEntries int            `yaml:"max_entries"`
	Redis      RedisConfig    `yaml:"redis"`
	SQLite     SQLiteConfig   `yaml:"sqlite"`
	Postgres   PostgresConfig `yaml:"postgres"`
	// CascadeTable, when set, adds a foreign key from cache rows to
	// <CascadeTable>(id) with ON DELETE CASCADE.
	CascadeTable string `yaml:"cascade_table"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ExtractionConfig holds text-extraction settings.
type ExtractionConfig struct {
	// Strategies is the ordered extractor chain; the first entry is primary.
	Strategies       []string `yaml:"strategies"`
	OCRCharThreshold int      `yaml:"ocr_char_threshold"`
	ParallelWorkers  int      `yaml:"parallel_workers"`
	ParallelMinPages int      `yaml:"parallel_min_pages"`
	MaxFileSize      int64    `yaml:"max_file_size"`
}

// OCRConfig holds OCR settings.
type OCRConfig struct {
	Languages   []string      `yaml:"languages"`
	Workers     int           `yaml:"workers"`
	PageTimeout time.Duration `yaml:"page_timeout"`
	// FixedDPI disables the memory-based resolution policy when > 0.
	FixedDPI float64   `yaml:"fixed_dpi"`
	DPITiers []DPITier `yaml:"dpi_tiers"`
}

// DPITier selects DPI when at least MinAvailableMB of memory is free.
type DPITier struct {
	MinAvailableMB uint64  `yaml:"min_available_mb"`
	DPI            float64 `yaml:"dpi"`
}

// TablesConfig holds table-detection settings.
type TablesConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinRows       int     `yaml:"min_rows"`
	MinCols       int     `yaml:"min_cols"`
}

// SectionsConfig holds section-detection settings.
type SectionsConfig struct {
	MaxPatternLength  int           `yaml:"max_pattern_length"`
	ValidationTimeout time.Duration `yaml:"validation_timeout"`
	ScanTimeout       time.Duration `yaml:"scan_timeout"`
	CustomPatterns    []string      `yaml:"custom_patterns"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Known extractor strategy names.
const (
	StrategyMuPDF      = "mupdf"
	StrategyPDFCPU     = "pdfcpu"
	StrategyLedongthuc = "ledongthuc"
)

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled:    true,
			Driver:     "memory",
			KeyPrefix:  "parse:",
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
			SQLite: SQLiteConfig{
				Path:         "/tmp/doc-ingest.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Extraction: ExtractionConfig{
			Strategies:       []string{StrategyMuPDF, StrategyPDFCPU},
			OCRCharThreshold: 100,
			ParallelWorkers:  4,
			ParallelMinPages: 8,
			MaxFileSize:      100 * 1024 * 1024,
		},
		OCR: OCRConfig{
			Languages:   []string{"eng"},
			Workers:     2,
			PageTimeout: 60 * time.Second,
			DPITiers: []DPITier{
				{MinAvailableMB: 4096, DPI: 300},
				{MinAvailableMB: 2048, DPI: 200},
				{MinAvailableMB: 1024, DPI: 150},
				{MinAvailableMB: 0, DPI: 100},
			},
		},
		Tables: TablesConfig{
			MinConfidence: 0.5,
			MinRows:       2,
			MinCols:       2,
		},
		Sections: SectionsConfig{
			MaxPatternLength:  1000,
			ValidationTimeout: 100 * time.Millisecond,
			ScanTimeout:       250 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "doc-ingest",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case "memory", "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Cache.Driver == "postgres" && c.Cache.Postgres.DSN == "" {
		return fmt.Errorf("postgres cache driver requires a dsn")
	}

	if len(c.Extraction.Strategies) == 0 {
		return fmt.Errorf("at least one extraction strategy is required")
	}
	seen := make(map[string]bool, len(c.Extraction.Strategies))
	for _, s := range c.Extraction.Strategies {
		switch s {
		case StrategyMuPDF, StrategyPDFCPU, StrategyLedongthuc:
		default:
			return fmt.Errorf("unknown extraction strategy: %s", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate extraction strategy: %s", s)
		}
		seen[s] = true
	}

	if c.Extraction.OCRCharThreshold < 0 {
		return fmt.Errorf("ocr_char_threshold must be >= 0")
	}

	if c.Extraction.ParallelWorkers < 1 || c.Extraction.ParallelWorkers > 64 {
		return fmt.Errorf("parallel_workers must be between 1 and 64")
	}

	if c.OCR.Workers < 1 {
		return fmt.Errorf("ocr workers must be >= 1")
	}

	if c.OCR.PageTimeout <= 0 {
		return fmt.Errorf("ocr page_timeout must be positive")
	}

	if c.OCR.FixedDPI < 0 {
		return fmt.Errorf("ocr fixed_dpi must be >= 0")
	}

	if c.OCR.FixedDPI == 0 && len(c.OCR.DPITiers) == 0 {
		return fmt.Errorf("ocr requires fixed_dpi or dpi_tiers")
	}

	if c.Sections.MaxPatternLength < 1 {
		return fmt.Errorf("max_pattern_length must be positive")
	}

	return nil
}

// DatabaseDSN returns the connection string for SQL cache drivers.
func (c *Config) DatabaseDSN() string {
	if c.Cache.Driver == "sqlite" {
		return c.Cache.SQLite.Path
	}
	return c.Cache.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOC_INGEST_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}

	if v := os.Getenv("DOC_INGEST_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = b
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Cache.Driver = "sqlite"
			cfg.Cache.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Cache.Driver = "postgres"
			cfg.Cache.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		cfg.OCR.Languages = strings.Split(v, "+")
	}

	if v := os.Getenv("OCR_FIXED_DPI"); v != "" {
		if dpi, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OCR.FixedDPI = dpi
		}
	}

	if v := os.Getenv("OCR_CHAR_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extraction.OCRCharThreshold = n
		}
	}

	if v := os.Getenv("PARALLEL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extraction.ParallelWorkers = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
