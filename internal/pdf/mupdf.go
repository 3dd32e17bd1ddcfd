// Package pdf wraps the PDF engines used for validation, text extraction
// and page rendering.
package pdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/ocr"
)

// MuPDFExtractor extracts page text with MuPDF. It is the primary strategy.
type MuPDFExtractor struct{}

// NewMuPDFExtractor creates a MuPDF text extractor.
func NewMuPDFExtractor() *MuPDFExtractor {
	return &MuPDFExtractor{}
}

// Name returns the strategy name.
func (e *MuPDFExtractor) Name() string { return "mupdf" }

// Extract returns one text blob per physical page.
func (e *MuPDFExtractor) Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error) {
	fd, err := openFitz(doc)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	n := fd.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("mupdf: %w: document has no pages", domain.ErrNoText)
	}
	return textRange(ctx, fd, domain.PageRange{First: 1, Last: n})
}

// PageCount returns the number of physical pages.
func (e *MuPDFExtractor) PageCount(ctx context.Context, doc *domain.Document) (int, error) {
	fd, err := openFitz(doc)
	if err != nil {
		return 0, err
	}
	defer fd.Close()
	return fd.NumPage(), nil
}

// ExtractRange extracts text for an inclusive, 1-indexed page range. Each
// call opens its own MuPDF document so ranges can run concurrently.
func (e *MuPDFExtractor) ExtractRange(ctx context.Context, doc *domain.Document, r domain.PageRange) ([]domain.PageText, error) {
	fd, err := openFitz(doc)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	if r.First < 1 || r.Last > fd.NumPage() || r.Len() == 0 {
		return nil, fmt.Errorf("mupdf: page range %d-%d outside 1-%d", r.First, r.Last, fd.NumPage())
	}
	return textRange(ctx, fd, r)
}

func textRange(ctx context.Context, fd *fitz.Document, r domain.PageRange) ([]domain.PageText, error) {
	out := make([]domain.PageText, 0, r.Len())
	for page := r.First; page <= r.Last; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := fd.Text(page - 1)
		if err != nil {
			return nil, fmt.Errorf("mupdf: %w: page %d: %v", domain.ErrMalformed, page, err)
		}
		out = append(out, domain.PageText{Text: domain.CleanText(text)})
	}
	return out, nil
}

func openFitz(doc *domain.Document) (*fitz.Document, error) {
	fd, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("mupdf: %w: %v", domain.ErrMalformed, err)
	}
	return fd, nil
}

// MuPDFRenderer rasterises pages for OCR.
type MuPDFRenderer struct{}

// NewMuPDFRenderer creates a MuPDF page renderer.
func NewMuPDFRenderer() *MuPDFRenderer {
	return &MuPDFRenderer{}
}

// Open prepares doc for rendering. The returned pages must be closed.
func (r *MuPDFRenderer) Open(ctx context.Context, doc *domain.Document) (ocr.PageRenderer, error) {
	fd, err := openFitz(doc)
	if err != nil {
		return nil, err
	}
	return &mupdfPages{doc: fd}, nil
}

type mupdfPages struct {
	doc *fitz.Document
}

func (p *mupdfPages) NumPages() int {
	return p.doc.NumPage()
}

// RenderPNG renders a 1-indexed page. MuPDF serialises calls on one
// document internally.
func (p *mupdfPages) RenderPNG(ctx context.Context, page int, dpi float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := p.doc.ImagePNG(page-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d at %.0f dpi: %w", page, dpi, err)
	}
	return img, nil
}

func (p *mupdfPages) Close() error {
	return p.doc.Close()
}
