package tables

import (
	"context"
	"fmt"
	"os"

	"github.com/tsawler/tabula/model"
	"github.com/tsawler/tabula/reader"
	tabtables "github.com/tsawler/tabula/tables"

	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// Detector finds raw cell grids in a document.
type Detector interface {
	Detect(ctx context.Context, doc *domain.Document) ([]RawTable, error)
}

// TabulaDetector runs tabula's geometric detector over each page's
// positioned text fragments.
type TabulaDetector struct {
	cfg    tabtables.Config
	logger *observability.Logger
}

// NewTabulaDetector creates a detector with thresholds from cfg.
func NewTabulaDetector(cfg config.TablesConfig, logger *observability.Logger) *TabulaDetector {
	tc := tabtables.DefaultConfig()
	if cfg.MinRows > 0 {
		tc.MinRows = cfg.MinRows
	}
	if cfg.MinCols > 0 {
		tc.MinCols = cfg.MinCols
	}
	if cfg.MinConfidence > 0 {
		tc.MinConfidence = cfg.MinConfidence
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TabulaDetector{cfg: tc, logger: logger}
}

// Detect returns grids in page order. tabula reads from a file, so documents
// loaded from memory are spilled to a temporary file first.
func (d *TabulaDetector) Detect(ctx context.Context, doc *domain.Document) ([]RawTable, error) {
	path := doc.Path
	if path == "" {
		tmp, cleanup, err := spill(doc)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = tmp
	}

	r, err := reader.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tabula open: %w", err)
	}
	defer r.Close()

	count, err := r.PageCount()
	if err != nil {
		return nil, fmt.Errorf("tabula page count: %w", err)
	}

	det := tabtables.NewGeometricDetector()
	if err := det.Configure(d.cfg); err != nil {
		return nil, fmt.Errorf("configure detector: %w", err)
	}

	var out []RawTable
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageNumber := i + 1

		page, err := r.GetPage(i)
		if err != nil {
			d.logger.Warn().Err(err).Int("page", pageNumber).Msg("Skipping page in table detection")
			continue
		}
		frags, err := r.ExtractTextFragments(page)
		if err != nil {
			d.logger.Warn().Err(err).Int("page", pageNumber).Msg("Skipping page in table detection")
			continue
		}
		if len(frags) == 0 {
			continue
		}

		mp := &model.Page{Number: pageNumber, RawText: make([]model.TextFragment, 0, len(frags))}
		for _, f := range frags {
			mp.RawText = append(mp.RawText, model.TextFragment{
				Text:     f.Text,
				BBox:     model.BBox{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height},
				FontSize: f.FontSize,
				FontName: f.FontName,
			})
		}

		found, err := det.Detect(mp)
		if err != nil {
			d.logger.Warn().Err(err).Int("page", pageNumber).Msg("Table detection failed on page")
			continue
		}
		for _, t := range found {
			out = append(out, RawTable{Page: intPtr(pageNumber), Cells: gridText(t)})
		}
	}
	return out, nil
}

// gridText copies cell text and drops columns that are empty in every row,
// which the geometric grid produces between text edges.
func gridText(t *model.Table) [][]string {
	width := 0
	for _, row := range t.Rows {
		if len(row) > width {
			width = len(row)
		}
	}
	keep := make([]bool, width)
	for _, row := range t.Rows {
		for j, c := range row {
			if c.Text != "" {
				keep[j] = true
			}
		}
	}

	cells := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		out := make([]string, 0, width)
		for j := 0; j < width; j++ {
			if !keep[j] {
				continue
			}
			if j < len(row) {
				out = append(out, row[j].Text)
			} else {
				out = append(out, "")
			}
		}
		cells = append(cells, out)
	}
	return cells
}

func spill(doc *domain.Document) (string, func(), error) {
	f, err := os.CreateTemp("", "doc-ingest-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(doc.Data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func intPtr(i int) *int { return &i }
