package domain

import (
	"strings"
	"unicode"
)

// Method records which extraction path produced a result's page text.
type Method string

const (
	MethodPrimary         Method = "primary"
	MethodFallback        Method = "fallback"
	MethodOCR             Method = "ocr"
	MethodPrimaryParallel Method = "primary_parallel"
)

// Valid reports whether m is one of the known extraction methods.
func (m Method) Valid() bool {
	switch m {
	case MethodPrimary, MethodFallback, MethodOCR, MethodPrimaryParallel:
		return true
	}
	return false
}

// DocumentRef identifies a document to parse. OrganizationID is carried for
// logging and never interpreted.
type DocumentRef struct {
	DocumentID     string
	OrganizationID string
	Source         Source
}

// Document is a loaded, immutable PDF handed to extractors. Path is set when
// the bytes came from the local filesystem.
type Document struct {
	ID             string
	OrganizationID string
	Name           string
	Path           string
	Data           []byte
}

// Size returns the document length in bytes.
func (d *Document) Size() int64 {
	return int64(len(d.Data))
}

// PageText is the raw text one extractor produced for one physical page.
type PageText struct {
	Text      string
	OCRFailed bool
}

// PageRange is an inclusive, 1-indexed range of physical pages.
type PageRange struct {
	First int
	Last  int
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

// Page is one physical page of a parse result.
type Page struct {
	PageNumber int     `json:"page"`
	Section    *string `json:"section"`
	Text       string  `json:"text"`
	OCRFailed  bool    `json:"ocr_failed,omitempty"`
}

// Table is one structured table discovered in the document.
type Table struct {
	TableIndex int                 `json:"table_index"`
	SourcePage *int                `json:"source_page,omitempty"`
	Columns    []string            `json:"columns"`
	Rows       []map[string]string `json:"data"`
	RowCount   int                 `json:"row_count"`
}

// ParseResult is the output contract of the pipeline.
type ParseResult struct {
	DocumentID string  `json:"document_id"`
	Pages      []Page  `json:"pages"`
	Tables     []Table `json:"tables"`
	Method     Method  `json:"method"`
	Cached     bool    `json:"cached"`
}

// CharCount returns the number of non-whitespace runes across all pages.
func CharCount(pages []PageText) int {
	n := 0
	for _, p := range pages {
		for _, r := range p.Text {
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	return n
}

// PagesFromStrings wraps raw per-page strings as PageText values.
func PagesFromStrings(texts []string) []PageText {
	out := make([]PageText, len(texts))
	for i, t := range texts {
		out[i] = PageText{Text: t}
	}
	return out
}

// CleanText normalises line endings and trims trailing whitespace on each line.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
