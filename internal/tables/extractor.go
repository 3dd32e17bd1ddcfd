// Package tables extracts structured tables from documents. Extraction is
// best effort: failures degrade to an empty table list.
package tables

import (
	"context"
	"fmt"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// Extractor wraps a Detector and never fails.
type Extractor struct {
	detector Detector
	logger   *observability.Logger
}

// NewExtractor creates a table extractor. A nil detector disables tables.
func NewExtractor(detector Detector, logger *observability.Logger) *Extractor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Extractor{detector: detector, logger: logger}
}

// Extract returns normalised tables, or an empty slice when the detector is
// unavailable, errors or panics.
func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (tables []domain.Table) {
	tables = []domain.Table{}
	if e.detector == nil {
		return tables
	}

	log := e.logger.WithDocument(doc.ID)
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Err(fmt.Errorf("panic: %v", r)).
				Msg("Table extraction panicked; continuing without tables")
			tables = []domain.Table{}
		}
	}()

	raw, err := e.detector.Detect(ctx, doc)
	if err != nil {
		log.Warn().Err(err).Msg("Table extraction failed; continuing without tables")
		return tables
	}

	tables = Normalize(raw)
	log.Debug().Int("tables", len(tables)).Msg("Tables extracted")
	return tables
}
