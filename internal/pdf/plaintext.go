package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	lpdf "github.com/ledongthuc/pdf"

	"github.com/spherical/doc-ingest/internal/domain"
)

// PlainTextExtractor uses the pure-Go ledongthuc reader. It needs no cgo and
// is available as an extra strategy.
type PlainTextExtractor struct{}

// NewPlainTextExtractor creates a ledongthuc text extractor.
func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

// Name returns the strategy name.
func (e *PlainTextExtractor) Name() string { return "ledongthuc" }

// Extract returns one text blob per physical page. The reader panics on some
// malformed inputs; those are reported as structural failures.
func (e *PlainTextExtractor) Extract(ctx context.Context, doc *domain.Document) (pages []domain.PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("ledongthuc: %w: reader panic: %v", domain.ErrMalformed, r)
		}
	}()

	r, err := lpdf.NewReader(bytes.NewReader(doc.Data), doc.Size())
	if err != nil {
		return nil, fmt.Errorf("ledongthuc: %w: %v", domain.ErrMalformed, err)
	}

	n := r.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("ledongthuc: %w: document has no pages", domain.ErrNoText)
	}

	pages = make([]domain.PageText, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, domain.PageText{})
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("ledongthuc: %w: page %d: %v", domain.ErrMalformed, i, err)
		}
		pages = append(pages, domain.PageText{Text: domain.CleanText(joinRows(rows))})
	}
	return pages, nil
}

// joinRows keeps one output line per baseline, top to bottom.
func joinRows(rows lpdf.Rows) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var sb strings.Builder
		for _, t := range row.Content {
			sb.WriteString(t.S)
		}
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n")
}
