// Package sections assigns persistent section labels to ordered pages.
package sections

import (
	"strings"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/patterns"
)

// Input is one page handed to the detector, already in physical order.
type Input struct {
	PageNumber int
	Text       string
	OCRFailed  bool
}

// Detector labels pages with the most recent heading seen. It holds only
// the default pattern set and is safe for concurrent use.
type Detector struct {
	defaults []*patterns.Pattern
	logger   *observability.Logger
}

// NewDetector creates a detector over the given default patterns. A nil
// set selects patterns.DefaultSet.
func NewDetector(defaults []*patterns.Pattern, logger *observability.Logger) *Detector {
	if defaults == nil {
		defaults = patterns.DefaultSet(0)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Detector{defaults: defaults, logger: logger}
}

// Detect folds over pages in order, carrying the current section across
// page boundaries until a new heading replaces it. Custom patterns are
// tried after the defaults on every line.
func (d *Detector) Detect(pages []Input, custom []*patterns.Pattern) []domain.Page {
	active := make([]*patterns.Pattern, 0, len(d.defaults)+len(custom))
	active = append(active, d.defaults...)
	active = append(active, custom...)

	out := make([]domain.Page, len(pages))
	var current *string
	for i, p := range pages {
		if heading, ok := d.firstHeading(p, active); ok {
			h := heading
			current = &h
		}
		out[i] = domain.Page{
			PageNumber: p.PageNumber,
			Section:    current,
			Text:       p.Text,
			OCRFailed:  p.OCRFailed,
		}
	}
	return out
}

// firstHeading scans page lines top to bottom; on each line the patterns are
// tried in precedence order and the first hit wins.
func (d *Detector) firstHeading(p Input, active []*patterns.Pattern) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(p.Text, "\r\n", "\n"), "\n")
	for i := range lines {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		for _, pat := range active {
			candidate := line
			if pat.Window() == 2 {
				if i+1 >= len(lines) {
					continue
				}
				candidate = line + "\n" + strings.TrimSpace(lines[i+1])
			}
			heading, ok, err := pat.Match(candidate)
			if err != nil {
				d.logger.Warn().
					Err(err).
					Int("page", p.PageNumber).
					Str("pattern_kind", pat.Kind.String()).
					Msg("Heading pattern timed out; treating line as no match")
				continue
			}
			if ok {
				return heading, true
			}
		}
	}
	return "", false
}
