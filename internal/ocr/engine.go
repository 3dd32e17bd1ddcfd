// Package ocr recognises text from rendered page images when text
// extraction yields too little content.
package ocr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// Renderer opens a document for page rasterisation.
type Renderer interface {
	Open(ctx context.Context, doc *domain.Document) (PageRenderer, error)
}

// PageRenderer renders pages of one opened document. Pages are 1-indexed.
type PageRenderer interface {
	NumPages() int
	RenderPNG(ctx context.Context, page int, dpi float64) ([]byte, error)
	Close() error
}

// Recognizer turns a PNG image into text.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// ProgressFunc is called after each page finishes, successfully or not.
type ProgressFunc func(done, total int)

// NeedsOCR reports whether extracted text is too sparse to trust. A
// non-positive threshold disables the trigger.
func NeedsOCR(pages []domain.PageText, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return domain.CharCount(pages) < threshold
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Workers     int
	PageTimeout time.Duration
	DPI         DPIPolicy
	Memory      MemoryProbe
	Logger      *observability.Logger
}

// Engine renders and recognises pages with a bounded worker pool.
type Engine struct {
	renderer    Renderer
	recognizer  Recognizer
	workers     int
	pageTimeout time.Duration
	dpi         DPIPolicy
	memory      MemoryProbe
	logger      *observability.Logger
}

// NewEngine creates an OCR engine.
func NewEngine(renderer Renderer, recognizer Recognizer, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 60 * time.Second
	}
	if opts.DPI == nil {
		opts.DPI = FixedDPI(150)
	}
	if opts.Memory == nil {
		opts.Memory = SystemMemory
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Engine{
		renderer:    renderer,
		recognizer:  recognizer,
		workers:     opts.Workers,
		pageTimeout: opts.PageTimeout,
		dpi:         opts.DPI,
		memory:      opts.Memory,
		logger:      opts.Logger,
	}
}

// Extract recognises every page. A page that fails or exceeds its time
// budget is returned empty with OCRFailed set; only when every page fails
// does Extract return an OcrFailed error.
func (e *Engine) Extract(ctx context.Context, doc *domain.Document, progress ProgressFunc) ([]domain.PageText, error) {
	pages, err := e.renderer.Open(ctx, doc)
	if err != nil {
		return nil, domain.OCRFailedError("cannot open document for rendering", err)
	}

	var inflight sync.WaitGroup
	defer func() {
		// Timed-out pages may still be rendering; close once they drain.
		go func() {
			inflight.Wait()
			if err := pages.Close(); err != nil {
				e.logger.Warn().Err(err).Msg("Failed to close rendered document")
			}
		}()
	}()

	total := pages.NumPages()
	if total == 0 {
		return nil, domain.OCRFailedError("document has no pages to render", nil)
	}

	dpi := e.chooseDPI()
	log := e.logger.WithDocument(doc.ID)
	log.Info().
		Int("pages", total).
		Float64("dpi", dpi).
		Int("workers", e.workers).
		Msg("Starting OCR")

	results := make([]domain.PageText, total)
	sem := semaphore.NewWeighted(int64(e.workers))
	var wg sync.WaitGroup
	var done, failed atomic.Int64

	for page := 1; page <= total; page++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			defer sem.Release(1)

			text, err := e.recognizePage(ctx, pages, page, dpi, &inflight)
			if err != nil {
				failed.Add(1)
				results[page-1] = domain.PageText{OCRFailed: true}
				log.Warn().
					Err(err).
					Int("page", page).
					Msg("OCR failed for page")
			} else {
				results[page-1] = domain.PageText{Text: domain.CleanText(text)}
			}

			n := int(done.Add(1))
			if progress != nil {
				progress(n, total)
			}
		}(page)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if int(failed.Load()) == total {
		return nil, domain.OCRFailedError(fmt.Sprintf("OCR failed on all %d pages", total), nil)
	}

	log.Info().
		Int("pages", total).
		Int64("failed_pages", failed.Load()).
		Msg("OCR complete")
	return results, nil
}

func (e *Engine) chooseDPI() float64 {
	available, err := e.memory()
	if err != nil {
		e.logger.Warn().Err(err).Msg("Cannot read available memory; using lowest DPI tier")
		available = 0
	}
	return e.dpi(available)
}

type pageResult struct {
	text string
	err  error
}

// recognizePage renders and recognises one page under the page time budget.
// The work runs in its own goroutine so a stuck engine call cannot hold the
// worker past the deadline.
func (e *Engine) recognizePage(ctx context.Context, pages PageRenderer, page int, dpi float64, inflight *sync.WaitGroup) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, e.pageTimeout)
	defer cancel()

	ch := make(chan pageResult, 1)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		img, err := pages.RenderPNG(pctx, page, dpi)
		if err != nil {
			ch <- pageResult{err: err}
			return
		}
		text, err := e.recognizer.Recognize(pctx, img)
		ch <- pageResult{text: text, err: err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-pctx.Done():
		return "", fmt.Errorf("page %d: %w", page, pctx.Err())
	}
}
