package extract

import (
	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/pdf"
)

// NewStrategy returns the extractor registered under name.
func NewStrategy(name string) (Extractor, error) {
	switch name {
	case config.StrategyMuPDF:
		return pdf.NewMuPDFExtractor(), nil
	case config.StrategyPDFCPU:
		return pdf.NewPDFCPUExtractor(), nil
	case config.StrategyLedongthuc:
		return pdf.NewPlainTextExtractor(), nil
	}
	return nil, domain.ConfigError("unknown extraction strategy: "+name, nil)
}

// NewStrategies builds the ordered strategy list from configuration.
func NewStrategies(names []string) ([]Extractor, error) {
	out := make([]Extractor, 0, len(names))
	for _, name := range names {
		s, err := NewStrategy(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
