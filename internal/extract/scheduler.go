package extract

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/doc-ingest/internal/domain"
)

// Scheduler fans page ranges out to a bounded worker pool and merges the
// results back into physical order.
type Scheduler struct {
	Workers  int
	MinPages int
}

// NewScheduler creates a scheduler. Documents with fewer than minPages pages
// are extracted sequentially.
func NewScheduler(workers, minPages int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if minPages < 1 {
		minPages = 1
	}
	return &Scheduler{Workers: workers, MinPages: minPages}
}

// ShouldRun reports whether a document of pageCount pages is worth
// scheduling in parallel.
func (s *Scheduler) ShouldRun(pageCount int) bool {
	return s.Workers > 1 && pageCount >= s.MinPages
}

// RunParallel extracts pageCount pages with at most Workers concurrent range calls.
func (s *Scheduler) RunParallel(ctx context.Context, doc *domain.Document, ex RangeExtractor, pageCount int) ([]domain.PageText, error) {
	chunks := Chunks(pageCount, s.Workers)

	// Each worker writes only the indices of its own chunk.
	merged := make([]domain.PageText, pageCount)
	writes := make([]uint8, pageCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			pages, err := ex.ExtractRange(gctx, doc, chunk)
			if err != nil {
				return fmt.Errorf("pages %d-%d: %w", chunk.First, chunk.Last, err)
			}
			if len(pages) != chunk.Len() {
				return fmt.Errorf("%s: pages %d-%d: got %d page texts, want %d",
					ex.Name(), chunk.First, chunk.Last, len(pages), chunk.Len())
			}
			for i, p := range pages {
				idx := chunk.First - 1 + i
				merged[idx] = p
				writes[idx]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, n := range writes {
		if n != 1 {
			panic(fmt.Sprintf("extract: page %d merged %d times", i+1, n))
		}
	}
	return merged, nil
}

// Chunks splits pages 1..pageCount into at most workers contiguous ranges
// whose sizes differ by at most one.
func Chunks(pageCount, workers int) []domain.PageRange {
	if pageCount <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > pageCount {
		workers = pageCount
	}

	base, extra := pageCount/workers, pageCount%workers
	out := make([]domain.PageRange, 0, workers)
	first := 1
	for i := 0; i < workers; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, domain.PageRange{First: first, Last: first + size - 1})
		first += size
	}
	return out
}
