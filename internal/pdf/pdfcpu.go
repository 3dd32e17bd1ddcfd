package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/doc-ingest/internal/domain"
)

// pdfcpu otherwise writes a config directory under the user's home on first use.
func init() {
	api.DisableConfigDir()
}

// PDFCPUExtractor reads page content streams with pdfcpu and decodes the
// text-showing operators. It is the default fallback strategy.
type PDFCPUExtractor struct{}

// NewPDFCPUExtractor creates a pdfcpu text extractor.
func NewPDFCPUExtractor() *PDFCPUExtractor {
	return &PDFCPUExtractor{}
}

// Name returns the strategy name.
func (e *PDFCPUExtractor) Name() string { return "pdfcpu" }

// Extract returns one text blob per physical page.
func (e *PDFCPUExtractor) Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error) {
	pctx, err := readContext(doc)
	if err != nil {
		return nil, err
	}
	if pctx.PageCount == 0 {
		return nil, fmt.Errorf("pdfcpu: %w: document has no pages", domain.ErrNoText)
	}
	return pageTexts(ctx, pctx, domain.PageRange{First: 1, Last: pctx.PageCount})
}

// PageCount returns the number of physical pages.
func (e *PDFCPUExtractor) PageCount(ctx context.Context, doc *domain.Document) (int, error) {
	pctx, err := readContext(doc)
	if err != nil {
		return 0, err
	}
	return pctx.PageCount, nil
}

// ExtractRange extracts text for an inclusive, 1-indexed page range.
func (e *PDFCPUExtractor) ExtractRange(ctx context.Context, doc *domain.Document, r domain.PageRange) ([]domain.PageText, error) {
	pctx, err := readContext(doc)
	if err != nil {
		return nil, err
	}
	if r.First < 1 || r.Last > pctx.PageCount || r.Len() == 0 {
		return nil, fmt.Errorf("pdfcpu: page range %d-%d outside 1-%d", r.First, r.Last, pctx.PageCount)
	}
	return pageTexts(ctx, pctx, r)
}

func readContext(doc *domain.Document) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(doc.Data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu: %w: %v", domain.ErrMalformed, err)
	}
	return pctx, nil
}

func pageTexts(ctx context.Context, pctx *model.Context, r domain.PageRange) ([]domain.PageText, error) {
	out := make([]domain.PageText, 0, r.Len())
	for page := r.First; page <= r.Last; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rd, err := pdfcpu.ExtractPageContent(pctx, page)
		if err != nil {
			return nil, fmt.Errorf("pdfcpu: %w: page %d content: %v", domain.ErrMalformed, page, err)
		}
		// Pages without a content stream are blank, not malformed.
		if rd == nil {
			out = append(out, domain.PageText{})
			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return nil, fmt.Errorf("pdfcpu: read page %d content: %w", page, err)
		}
		text, err := textFromContentStream(data)
		if err != nil {
			return nil, fmt.Errorf("pdfcpu: %w: page %d: %v", domain.ErrMalformed, page, err)
		}
		out = append(out, domain.PageText{Text: text})
	}
	return out, nil
}
