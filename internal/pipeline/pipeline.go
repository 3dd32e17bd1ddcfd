// Package pipeline orchestrates a single document parse from cache lookup to
// cache write.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/extract"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/ocr"
	"github.com/spherical/doc-ingest/internal/patterns"
	"github.com/spherical/doc-ingest/internal/sections"
)

// Stage names a step of a parse, reported through Options.OnStage.
type Stage string

const (
	StageCacheCheck     Stage = "cache_check"
	StageValidate       Stage = "validate"
	StageExtractText    Stage = "extract_text"
	StageOCR            Stage = "ocr"
	StageExtractTables  Stage = "extract_tables"
	StageDetectSections Stage = "detect_sections"
	StageCacheWrite     Stage = "cache_write"
)

// Options controls one parse.
type Options struct {
	EnableOCR      bool
	EnableTables   bool
	EnableParallel bool
	// CustomPatterns are extra heading regexes tried after the defaults.
	CustomPatterns []string
	// Progress receives OCR page progress.
	Progress ocr.ProgressFunc
	// OnStage is called as the parse enters each stage.
	OnStage func(Stage)
}

// DefaultOptions enables OCR, tables and parallel extraction.
func DefaultOptions() Options {
	return Options{EnableOCR: true, EnableTables: true, EnableParallel: true}
}

func (o Options) stage(s Stage) {
	if o.OnStage != nil {
		o.OnStage(s)
	}
}

// ResultCache is the cache adapter the pipeline reads and writes.
type ResultCache interface {
	Get(ctx context.Context, documentID string) (*domain.ParseResult, bool, error)
	Put(ctx context.Context, documentID string, result *domain.ParseResult) error
}

// DocumentValidator rejects encrypted or non-PDF input before extraction.
type DocumentValidator interface {
	Validate(ctx context.Context, doc *domain.Document) error
}

// TextChain runs the ordered text extractors.
type TextChain interface {
	Run(ctx context.Context, doc *domain.Document, parallel bool) (*extract.Result, error)
}

// OCREngine recognises text from rendered pages.
type OCREngine interface {
	Extract(ctx context.Context, doc *domain.Document, progress ocr.ProgressFunc) ([]domain.PageText, error)
}

// TableExtractor returns the document's tables and never fails.
type TableExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) []domain.Table
}

// Deps are the components a Pipeline drives. Cache, OCR and Tables may be nil.
type Deps struct {
	Cache            ResultCache
	Validator        DocumentValidator
	Chain            TextChain
	OCR              OCREngine
	Tables           TableExtractor
	Sections         *sections.Detector
	Patterns         *patterns.Validator
	OCRCharThreshold int
	MaxFileSize      int64
}

// Pipeline parses documents. It holds no per-document state and is safe for
// concurrent use across documents.
type Pipeline struct {
	deps   Deps
	logger *observability.Logger
}

// New creates a pipeline.
func New(deps Deps, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if deps.Sections == nil {
		deps.Sections = sections.NewDetector(nil, logger)
	}
	if deps.Patterns == nil {
		deps.Patterns = patterns.NewValidator(0, 0, 0)
	}
	return &Pipeline{deps: deps, logger: logger}
}

// Parse runs the full parse for ref. It returns either a complete result or
// one error from the domain taxonomy.
func (p *Pipeline) Parse(ctx context.Context, ref domain.DocumentRef, opts Options) (*domain.ParseResult, error) {
	if ref.DocumentID == "" {
		return nil, domain.ValidationError("document id is required", nil)
	}
	if observability.TraceIDFromContext(ctx) == "" {
		ctx = observability.ContextWithTraceID(ctx, uuid.NewString())
	}
	log := p.logger.WithContext(ctx).
		WithDocument(ref.DocumentID).
		WithOrganization(ref.OrganizationID).
		WithOperation("parse")
	start := time.Now()

	custom, err := p.deps.Patterns.ValidateAll(opts.CustomPatterns)
	if err != nil {
		log.Warn().Err(err).Msg("Custom section pattern rejected")
		return nil, domain.PatternRejectedError("custom section pattern rejected", err)
	}

	if p.deps.Cache != nil {
		opts.stage(StageCacheCheck)
		cached, ok, err := p.deps.Cache.Get(ctx, ref.DocumentID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Cache read failed; parsing from source")
		case ok:
			log.Info().
				Int("pages", len(cached.Pages)).
				Str("method", string(cached.Method)).
				Msg("Cache hit")
			return cached, nil
		}
	}

	doc, err := domain.Load(ctx, ref, p.deps.MaxFileSize)
	if err != nil {
		return nil, err
	}

	opts.stage(StageValidate)
	if err := p.deps.Validator.Validate(ctx, doc); err != nil {
		log.Warn().Err(err).Msg("Document rejected")
		return nil, err
	}

	tctx, cancelTables := context.WithCancel(ctx)
	defer cancelTables()
	var g errgroup.Group
	var tables []domain.Table
	if opts.EnableTables && p.deps.Tables != nil {
		opts.stage(StageExtractTables)
		g.Go(func() error {
			tables = p.deps.Tables.Extract(tctx, doc)
			return nil
		})
	}

	opts.stage(StageExtractText)
	pages, method, err := p.extractText(ctx, doc, opts, log)
	if err != nil {
		cancelTables()
		_ = g.Wait()
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("Parse failed")
		return nil, err
	}
	_ = g.Wait()
	if tables == nil {
		tables = []domain.Table{}
	}

	opts.stage(StageDetectSections)
	inputs := make([]sections.Input, len(pages))
	for i, pt := range pages {
		inputs[i] = sections.Input{PageNumber: i + 1, Text: pt.Text, OCRFailed: pt.OCRFailed}
	}

	result := &domain.ParseResult{
		DocumentID: ref.DocumentID,
		Pages:      p.deps.Sections.Detect(inputs, custom),
		Tables:     tables,
		Method:     method,
	}

	if p.deps.Cache != nil {
		opts.stage(StageCacheWrite)
		if err := p.deps.Cache.Put(ctx, ref.DocumentID, result); err != nil {
			log.Warn().Err(err).Msg("Cache write failed; returning uncached result")
		}
	}

	log.Info().
		Str("method", string(method)).
		Int("pages", len(result.Pages)).
		Int("tables", len(result.Tables)).
		Dur("duration", time.Since(start)).
		Msg("Parse complete")
	return result, nil
}

// extractText runs the text chain and switches to OCR when the chain is
// exhausted or its text falls below the character threshold.
func (p *Pipeline) extractText(ctx context.Context, doc *domain.Document, opts Options, log *observability.Logger) ([]domain.PageText, domain.Method, error) {
	ocrAvailable := opts.EnableOCR && p.deps.OCR != nil

	res, err := p.deps.Chain.Run(ctx, doc, opts.EnableParallel)
	if err != nil {
		if !ocrAvailable || !domain.IsType(err, domain.ErrorTypeExtractionExhausted) {
			return nil, "", err
		}
		log.Info().Err(err).Msg("Text extractors exhausted; trying OCR")
		return p.runOCR(ctx, doc, opts)
	}

	if ocrAvailable && ocr.NeedsOCR(res.Pages, p.deps.OCRCharThreshold) {
		log.Info().
			Int("chars", domain.CharCount(res.Pages)).
			Int("threshold", p.deps.OCRCharThreshold).
			Msg("Extracted text below threshold; running OCR")
		return p.runOCR(ctx, doc, opts)
	}
	return res.Pages, res.Method, nil
}

func (p *Pipeline) runOCR(ctx context.Context, doc *domain.Document, opts Options) ([]domain.PageText, domain.Method, error) {
	opts.stage(StageOCR)
	pages, err := p.deps.OCR.Extract(ctx, doc, opts.Progress)
	if err != nil {
		return nil, "", err
	}
	return pages, domain.MethodOCR, nil
}
