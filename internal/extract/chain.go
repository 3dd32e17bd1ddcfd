// Package extract runs text extraction strategies in order and classifies
// their failures.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// Extractor turns document bytes into one text blob per physical page.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error)
}

// RangeExtractor can extract a sub-range of pages independently, which
// lets the Scheduler fan work out.
type RangeExtractor interface {
	Extractor
	PageCount(ctx context.Context, doc *domain.Document) (int, error)
	ExtractRange(ctx context.Context, doc *domain.Document, r domain.PageRange) ([]domain.PageText, error)
}

// Attempt records one strategy invocation.
type Attempt struct {
	Strategy string
	Parallel bool
	Duration time.Duration
	Err      error
}

// Result is the output of a successful chain run.
type Result struct {
	Pages    []domain.PageText
	Method   domain.Method
	Strategy string
	Attempts []Attempt
}

// Chain tries strategies in order until one yields pages. The first
// strategy is primary; every later one is a fallback.
type Chain struct {
	strategies []Extractor
	scheduler  *Scheduler
	logger     *observability.Logger
}

// NewChain creates a chain. A nil scheduler disables parallel mode.
func NewChain(strategies []Extractor, scheduler *Scheduler, logger *observability.Logger) *Chain {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Chain{strategies: strategies, scheduler: scheduler, logger: logger}
}

// Strategies returns the strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run executes the chain. When every strategy fails the error is
// CorruptDocument if all failures were structural, otherwise
// ExtractionExhausted.
func (c *Chain) Run(ctx context.Context, doc *domain.Document, parallel bool) (*Result, error) {
	if len(c.strategies) == 0 {
		return nil, domain.ConfigError("no extraction strategies configured", nil)
	}

	log := c.logger.WithDocument(doc.ID)
	attempts := make([]Attempt, 0, len(c.strategies))

	for i, s := range c.strategies {
		start := time.Now()
		pages, usedParallel, err := c.runOne(ctx, doc, s, parallel)
		if err == nil && len(pages) == 0 {
			err = fmt.Errorf("%s: %w: zero pages", s.Name(), domain.ErrNoText)
		}
		attempt := Attempt{Strategy: s.Name(), Parallel: usedParallel, Duration: time.Since(start), Err: err}
		attempts = append(attempts, attempt)
		attemptLog := log.WithStrategy(s.Name())

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			attemptLog.Warn().
				Err(err).
				Dur("duration", attempt.Duration).
				Msg("Extraction strategy failed")
			continue
		}

		method := domain.MethodFallback
		if i == 0 {
			method = domain.MethodPrimary
			if usedParallel {
				method = domain.MethodPrimaryParallel
			}
		}

		attemptLog.Info().
			Str("method", string(method)).
			Int("pages", len(pages)).
			Bool("parallel", usedParallel).
			Dur("duration", attempt.Duration).
			Msg("Text extracted")

		return &Result{Pages: pages, Method: method, Strategy: s.Name(), Attempts: attempts}, nil
	}

	return nil, classify(attempts)
}

func (c *Chain) runOne(ctx context.Context, doc *domain.Document, s Extractor, parallel bool) ([]domain.PageText, bool, error) {
	re, ok := s.(RangeExtractor)
	if !parallel || c.scheduler == nil || !ok {
		pages, err := s.Extract(ctx, doc)
		return pages, false, err
	}

	count, err := re.PageCount(ctx, doc)
	if err != nil {
		return nil, false, err
	}
	if count == 0 {
		return nil, false, fmt.Errorf("%s: %w: document has no pages", s.Name(), domain.ErrNoText)
	}
	if !c.scheduler.ShouldRun(count) {
		pages, err := s.Extract(ctx, doc)
		return pages, false, err
	}

	pages, err := c.scheduler.RunParallel(ctx, doc, re, count)
	return pages, true, err
}

func classify(attempts []Attempt) error {
	errs := make([]error, 0, len(attempts))
	structural := true
	for _, a := range attempts {
		errs = append(errs, a.Err)
		if !errors.Is(a.Err, domain.ErrMalformed) {
			structural = false
		}
	}
	joined := errors.Join(errs...)

	if structural {
		return domain.CorruptDocumentError(
			fmt.Sprintf("document is unreadable by all %d extractors", len(attempts)), joined)
	}
	return domain.ExtractionExhaustedError(
		fmt.Sprintf("all %d extractors failed to produce text", len(attempts)), joined)
}
