// Package ingest is the public entry point for parsing compliance documents
// into page text, section labels and tables.
package ingest

import (
	"context"
	"path/filepath"

	"github.com/spherical/doc-ingest/internal/cache"
	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/extract"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/ocr"
	"github.com/spherical/doc-ingest/internal/ocr/tesseract"
	"github.com/spherical/doc-ingest/internal/patterns"
	"github.com/spherical/doc-ingest/internal/pdf"
	"github.com/spherical/doc-ingest/internal/pipeline"
	"github.com/spherical/doc-ingest/internal/sections"
	"github.com/spherical/doc-ingest/internal/tables"
)

// Re-export result types for the public API
type (
	ParseResult  = domain.ParseResult
	Page         = domain.Page
	Table        = domain.Table
	Method       = domain.Method
	DocumentRef  = domain.DocumentRef
	Options      = pipeline.Options
	Stage        = pipeline.Stage
	ProgressFunc = ocr.ProgressFunc
	ErrorType    = domain.ErrorType
)

// Method constants
const (
	MethodPrimary         = domain.MethodPrimary
	MethodFallback        = domain.MethodFallback
	MethodOCR             = domain.MethodOCR
	MethodPrimaryParallel = domain.MethodPrimaryParallel
)

// Client is the main entry point for the ingestion library
type Client struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	store     *cache.ResultStore
	validator *patterns.Validator
	closers   []func() error
	logger    *observability.Logger
}

// NewClient creates a client from configuration files and the environment.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, domain.ConfigError("load configuration", err)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	return NewClientWithConfig(ctx, cfg, logger)
}

// NewClientWithConfig wires every component from cfg.
func NewClientWithConfig(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("invalid configuration", err)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &Client{
		cfg:       cfg,
		validator: patterns.NewValidator(cfg.Sections.MaxPatternLength, cfg.Sections.ValidationTimeout, cfg.Sections.ScanTimeout),
		logger:    logger,
	}

	strategies, err := extract.NewStrategies(cfg.Extraction.Strategies)
	if err != nil {
		return nil, err
	}
	chain := extract.NewChain(strategies,
		extract.NewScheduler(cfg.Extraction.ParallelWorkers, cfg.Extraction.ParallelMinPages), logger)

	deps := pipeline.Deps{
		Validator:        pdf.NewValidator(logger),
		Chain:            chain,
		Tables:           tables.NewExtractor(tables.NewTabulaDetector(cfg.Tables, logger), logger),
		Sections:         sections.NewDetector(patterns.DefaultSet(cfg.Sections.ScanTimeout), logger),
		Patterns:         c.validator,
		OCRCharThreshold: cfg.Extraction.OCRCharThreshold,
		MaxFileSize:      cfg.Extraction.MaxFileSize,
	}

	if tesseract.Available {
		rec, err := tesseract.New(cfg.OCR.Languages)
		if err != nil {
			return nil, domain.ConfigError("initialise OCR", err)
		}
		c.closers = append(c.closers, rec.Close)
		deps.OCR = ocr.NewEngine(pdf.NewMuPDFRenderer(), rec, ocr.Options{
			Workers:     cfg.OCR.Workers,
			PageTimeout: cfg.OCR.PageTimeout,
			DPI:         ocr.PolicyFromConfig(cfg.OCR),
			Logger:      logger,
		})
	} else {
		logger.Debug().Msg("OCR support not compiled in; sparse documents keep their extracted text")
	}

	if cfg.Cache.Enabled {
		store, err := cache.NewStore(ctx, cfg.Cache)
		if err != nil {
			c.close()
			return nil, err
		}
		c.store = store
		c.closers = append(c.closers, store.Close)
		deps.Cache = store
	}

	c.pipeline = pipeline.New(deps, logger)

	logger.Info().
		Strs("strategies", chain.Strategies()).
		Str("cache_driver", cacheDriver(cfg)).
		Bool("ocr", deps.OCR != nil).
		Msg("Ingestion client ready")
	return c, nil
}

// DefaultOptions returns pipeline defaults with the configured custom
// patterns applied.
func (c *Client) DefaultOptions() Options {
	opts := pipeline.DefaultOptions()
	opts.CustomPatterns = append([]string(nil), c.cfg.Sections.CustomPatterns...)
	return opts
}

// Parse runs the pipeline for ref.
func (c *Client) Parse(ctx context.Context, ref DocumentRef, opts Options) (*ParseResult, error) {
	return c.pipeline.Parse(ctx, ref, opts)
}

// ParseFile parses a local PDF.
func (c *Client) ParseFile(ctx context.Context, documentID, organizationID, path string, opts Options) (*ParseResult, error) {
	return c.Parse(ctx, DocumentRef{
		DocumentID:     documentID,
		OrganizationID: organizationID,
		Source:         domain.FileSource(filepath.Clean(path)),
	}, opts)
}

// ParseBytes parses a PDF already held in memory.
func (c *Client) ParseBytes(ctx context.Context, documentID, organizationID, name string, data []byte, opts Options) (*ParseResult, error) {
	return c.Parse(ctx, DocumentRef{
		DocumentID:     documentID,
		OrganizationID: organizationID,
		Source:         domain.BytesSource{Label: name, Data: data},
	}, opts)
}

// CachedResult returns the cached result for documentID without parsing.
func (c *Client) CachedResult(ctx context.Context, documentID string) (*ParseResult, bool, error) {
	if c.store == nil {
		return nil, false, domain.ConfigError("cache is disabled", nil)
	}
	return c.store.Get(ctx, documentID)
}

// Invalidate drops the cached result for documentID.
func (c *Client) Invalidate(ctx context.Context, documentID string) error {
	if c.store == nil {
		return domain.ConfigError("cache is disabled", nil)
	}
	return c.store.Invalidate(ctx, documentID)
}

// ValidatePatterns checks custom section patterns without touching any
// document.
func (c *Client) ValidatePatterns(srcs []string) error {
	if _, err := c.validator.ValidateAll(srcs); err != nil {
		return domain.PatternRejectedError("custom section pattern rejected", err)
	}
	return nil
}

// Close releases the cache connection and OCR resources.
func (c *Client) Close() error {
	return c.close()
}

func (c *Client) close() error {
	var first error
	for _, fn := range c.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// ErrorTypeOf returns the taxonomy kind of err, or "" for foreign errors.
func ErrorTypeOf(err error) ErrorType {
	return domain.TypeOf(err)
}

func cacheDriver(cfg *config.Config) string {
	if !cfg.Cache.Enabled {
		return "disabled"
	}
	return cfg.Cache.Driver
}
