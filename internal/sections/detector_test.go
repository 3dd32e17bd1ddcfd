package sections

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/patterns"
)

func sectionOf(p domain.Page) string {
	if p.Section == nil {
		return "<nil>"
	}
	return *p.Section
}

func inputs(texts ...string) []Input {
	out := make([]Input, len(texts))
	for i, t := range texts {
		out[i] = Input{PageNumber: i + 1, Text: t}
	}
	return out
}

func TestDetect_SectionPersistsAcrossPages(t *testing.T) {
	d := NewDetector(nil, nil)
	pages := d.Detect(inputs(
		"1. Intro\nThis document describes things.",
		"continued body text with no heading at all",
		"2. Methods\nWe measured the things.",
	), nil)

	require.Len(t, pages, 3)
	assert.Equal(t, "1. Intro", sectionOf(pages[0]))
	assert.Equal(t, "1. Intro", sectionOf(pages[1]))
	assert.Equal(t, "2. Methods", sectionOf(pages[2]))
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
	}
}

func TestDetect_UnsectionedUntilFirstHeading(t *testing.T) {
	d := NewDetector(nil, nil)
	pages := d.Detect(inputs(
		"cover page",
		"",
		"SCOPE OF SUPPLY\nitems",
	), nil)

	assert.Nil(t, pages[0].Section)
	assert.Nil(t, pages[1].Section)
	assert.Equal(t, "SCOPE OF SUPPLY", sectionOf(pages[2]))
}

func TestDetect_FirstMatchOnPageWins(t *testing.T) {
	d := NewDetector(nil, nil)
	pages := d.Detect(inputs("body\n3.1 Safety\nmore\n3.2 Hazards"), nil)
	assert.Equal(t, "3.1 Safety", sectionOf(pages[0]))
}

func TestDetect_BareNumbersAreBodyText(t *testing.T) {
	d := NewDetector(nil, nil)
	pages := d.Detect(inputs(
		"4. Physical Security\nBadges are required.",
		"Head office: 100 Main Street\n100 Main Street\n3 Controls were tested",
	), nil)

	require.Len(t, pages, 2)
	assert.Equal(t, "4. Physical Security", sectionOf(pages[1]))
}

func TestDetect_PrecedenceWithinLine(t *testing.T) {
	set := patterns.DefaultSet(0)
	// A custom pattern that also matches the numbered line must lose to the
	// numbered default, which is tried first.
	v := patterns.NewValidator(0, 50*time.Millisecond, 0)
	custom, err := v.Validate(`^\d+\.`)
	require.NoError(t, err)

	d := NewDetector(set, nil)
	pages := d.Detect(inputs("4. Records"), []*patterns.Pattern{custom})
	assert.Equal(t, "4. Records", sectionOf(pages[0]))
}

func TestDetect_UnderlinedHeading(t *testing.T) {
	d := NewDetector(nil, nil)
	pages := d.Detect(inputs(
		"Background\n==========\nSome text",
		"plain",
	), nil)
	assert.Equal(t, "Background", sectionOf(pages[0]))
	assert.Equal(t, "Background", sectionOf(pages[1]))
}

func TestDetect_CustomPatterns(t *testing.T) {
	v := patterns.NewValidator(0, 50*time.Millisecond, 0)
	custom, err := v.Validate(`^(Article \d+)`)
	require.NoError(t, err)

	d := NewDetector(nil, nil)
	pages := d.Detect(inputs(
		"preamble",
		"Article 7 Obligations of the supplier",
		"text",
	), []*patterns.Pattern{custom})

	assert.Nil(t, pages[0].Section)
	assert.Equal(t, "Article 7", sectionOf(pages[1]))
	assert.Equal(t, "Article 7", sectionOf(pages[2]))
}

func TestDetect_Deterministic(t *testing.T) {
	d := NewDetector(nil, nil)
	in := inputs("1. A\nx", "y", "APPENDIX\nz", "w")
	first := d.Detect(in, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Detect(in, nil))
	}
}

func TestDetect_CarriesOCRFlag(t *testing.T) {
	d := NewDetector(nil, nil)
	pages := d.Detect([]Input{{PageNumber: 1, Text: "", OCRFailed: true}}, nil)
	assert.True(t, pages[0].OCRFailed)
	assert.Empty(t, pages[0].Text)
}

func TestDetect_SectionPointersAreIndependent(t *testing.T) {
	d := NewDetector(nil, nil)
	pages := d.Detect(inputs("1. One", "2. Two"), nil)
	*pages[0].Section = "mutated"
	assert.Equal(t, "2. Two", sectionOf(pages[1]))
}
