package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/cache"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/extract"
	"github.com/spherical/doc-ingest/internal/ocr"
	"github.com/spherical/doc-ingest/internal/pdf"
	"github.com/spherical/doc-ingest/internal/tables"
)

const pdfBytes = "%PDF-1.7\n% test document\n"

// countingSource serves fixed bytes and counts how often it was opened.
type countingSource struct {
	opens atomic.Int32
}

func (s *countingSource) Name() string { return "test.pdf" }

func (s *countingSource) Open(ctx context.Context) (io.ReadCloser, error) {
	s.opens.Add(1)
	return io.NopCloser(strings.NewReader(pdfBytes)), nil
}

type stubExtractor struct {
	name  string
	texts []string
	err   error
	calls atomic.Int32
}

func (e *stubExtractor) Name() string { return e.name }

func (e *stubExtractor) Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return domain.PagesFromStrings(e.texts), nil
}

func (e *stubExtractor) PageCount(ctx context.Context, doc *domain.Document) (int, error) {
	return len(e.texts), nil
}

func (e *stubExtractor) ExtractRange(ctx context.Context, doc *domain.Document, r domain.PageRange) ([]domain.PageText, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return domain.PagesFromStrings(e.texts[r.First-1 : r.Last]), nil
}

type stubOCR struct {
	pages []domain.PageText
	err   error
	calls atomic.Int32
}

func (o *stubOCR) Extract(ctx context.Context, doc *domain.Document, progress ocr.ProgressFunc) ([]domain.PageText, error) {
	o.calls.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	for i := range o.pages {
		if progress != nil {
			progress(i+1, len(o.pages))
		}
	}
	return o.pages, nil
}

type stubTables struct {
	raw   []tables.RawTable
	err   error
	calls atomic.Int32
}

func (d *stubTables) Detect(ctx context.Context, doc *domain.Document) ([]tables.RawTable, error) {
	d.calls.Add(1)
	return d.raw, d.err
}

type failingClient struct{}

func (failingClient) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (failingClient) Delete(ctx context.Context, key string) error { return nil }
func (failingClient) Close() error                                 { return nil }

type harness struct {
	primary  *stubExtractor
	fallback *stubExtractor
	ocr      *stubOCR
	tables   *stubTables
	store    *cache.ResultStore
	client   cache.Client
	probe    pdf.ProbeFunc
	workers  int
}

func newHarness() *harness {
	client := cache.NewMemoryClient(0, "")
	return &harness{
		primary:  &stubExtractor{name: "primary", texts: []string{"1. Intro\nScope of this policy.", "No heading on this page.", "2. Methods\nSampling approach."}},
		fallback: &stubExtractor{name: "fallback", texts: []string{"FALLBACK TEXT\nwith enough characters to clear the OCR threshold easily, and then some more."}},
		ocr:      &stubOCR{pages: []domain.PageText{{Text: "ocr page one"}, {OCRFailed: true}}},
		tables:   &stubTables{raw: []tables.RawTable{{Cells: [][]string{{"Control", "Owner"}, {"AC-1", "IT"}}}}},
		client:   client,
		store:    cache.NewResultStore(client, 0),
		probe:    func([]byte) error { return nil },
		workers:  1,
	}
}

func (h *harness) pipeline(threshold int) *Pipeline {
	return New(Deps{
		Cache:            h.store,
		Validator:        pdf.NewValidatorWithProbe(h.probe, nil),
		Chain:            extract.NewChain([]extract.Extractor{h.primary, h.fallback}, extract.NewScheduler(h.workers, 2), nil),
		OCR:              h.ocr,
		Tables:           tables.NewExtractor(h.tables, nil),
		OCRCharThreshold: threshold,
	}, nil)
}

func ref(id string) domain.DocumentRef {
	return domain.DocumentRef{DocumentID: id, OrganizationID: "org-1", Source: domain.BytesSource{Label: id, Data: []byte(pdfBytes)}}
}

func TestParse_PrimaryWithSectionsAndTables(t *testing.T) {
	h := newHarness()
	res, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, domain.MethodPrimary, res.Method)
	assert.False(t, res.Cached)
	require.Len(t, res.Pages, 3)
	for i, p := range res.Pages {
		assert.Equal(t, i+1, p.PageNumber)
	}
	require.NotNil(t, res.Pages[1].Section)
	assert.Equal(t, "1. Intro", *res.Pages[0].Section)
	assert.Equal(t, "1. Intro", *res.Pages[1].Section)
	assert.Equal(t, "2. Methods", *res.Pages[2].Section)

	require.Len(t, res.Tables, 1)
	assert.Equal(t, []string{"Control", "Owner"}, res.Tables[0].Columns)
	assert.Equal(t, 1, res.Tables[0].RowCount)
	assert.Zero(t, h.ocr.calls.Load())
}

func TestParse_CachedSecondCallIsIdentical(t *testing.T) {
	h := newHarness()
	p := h.pipeline(10)

	first, err := p.Parse(context.Background(), ref("doc-1"), DefaultOptions())
	require.NoError(t, err)
	calls := h.primary.calls.Load()

	second, err := p.Parse(context.Background(), ref("doc-1"), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, calls, h.primary.calls.Load())
	assert.Equal(t, int32(1), h.tables.calls.Load())

	want := *first
	want.Cached = true
	assert.Equal(t, &want, second)
}

func TestParse_CacheHitSkipsSourceRead(t *testing.T) {
	h := newHarness()
	src := &countingSource{}
	r := domain.DocumentRef{DocumentID: "doc-1", Source: src}

	_, err := h.pipeline(10).Parse(context.Background(), r, DefaultOptions())
	require.NoError(t, err)
	_, err = h.pipeline(10).Parse(context.Background(), r, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.opens.Load())
}

func TestParse_LegacyCacheEntry(t *testing.T) {
	h := newHarness()
	legacy := `[{"page":1,"section":"1. Intro","text":"hello"},{"page":2,"section":null,"text":""}]`
	require.NoError(t, h.client.Set(context.Background(), "legacy", []byte(legacy), 0))

	res, err := h.pipeline(10).Parse(context.Background(), ref("legacy"), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, []domain.Table{}, res.Tables)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, "hello", res.Pages[0].Text)
	assert.Nil(t, res.Pages[1].Section)
	assert.Zero(t, h.primary.calls.Load())
}

func TestParse_FallbackMethod(t *testing.T) {
	h := newHarness()
	h.primary.err = errors.New("primary crashed")

	res, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodFallback, res.Method)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, h.fallback.texts[0], res.Pages[0].Text)
}

func TestParse_OCRThreshold(t *testing.T) {
	text := func(n int) []string { return []string{strings.Repeat("x", n)} }

	t.Run("below threshold runs OCR", func(t *testing.T) {
		h := newHarness()
		h.primary.texts = text(99)
		var progress atomic.Int32
		opts := DefaultOptions()
		opts.Progress = func(done, total int) { progress.Add(1) }

		res, err := h.pipeline(100).Parse(context.Background(), ref("scan"), opts)
		require.NoError(t, err)
		assert.Equal(t, domain.MethodOCR, res.Method)
		require.Len(t, res.Pages, 2)
		assert.True(t, res.Pages[1].OCRFailed)
		assert.Empty(t, res.Pages[1].Text)
		assert.Equal(t, int32(2), progress.Load())
	})

	t.Run("at threshold keeps text", func(t *testing.T) {
		h := newHarness()
		h.primary.texts = text(100)

		res, err := h.pipeline(100).Parse(context.Background(), ref("text"), DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, domain.MethodPrimary, res.Method)
		assert.Zero(t, h.ocr.calls.Load())
	})

	t.Run("disabled OCR keeps sparse text", func(t *testing.T) {
		h := newHarness()
		h.primary.texts = text(5)
		opts := DefaultOptions()
		opts.EnableOCR = false

		res, err := h.pipeline(100).Parse(context.Background(), ref("sparse"), opts)
		require.NoError(t, err)
		assert.Equal(t, domain.MethodPrimary, res.Method)
		assert.Zero(t, h.ocr.calls.Load())
	})
}

func TestParse_ExhaustedChainFallsThroughToOCR(t *testing.T) {
	h := newHarness()
	h.primary.err = fmt.Errorf("primary: %w", domain.ErrNoText)
	h.fallback.err = errors.New("fallback timed out")

	res, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodOCR, res.Method)
	assert.Equal(t, int32(1), h.ocr.calls.Load())
}

func TestParse_ExhaustedWithoutOCR(t *testing.T) {
	h := newHarness()
	h.primary.err = errors.New("a")
	h.fallback.err = errors.New("b")
	opts := DefaultOptions()
	opts.EnableOCR = false

	_, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), opts)
	assert.True(t, domain.IsType(err, domain.ErrorTypeExtractionExhausted))
}

func TestParse_CorruptDocumentSkipsOCR(t *testing.T) {
	h := newHarness()
	h.primary.err = fmt.Errorf("primary: %w", domain.ErrMalformed)
	h.fallback.err = fmt.Errorf("fallback: %w", domain.ErrMalformed)

	_, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), DefaultOptions())
	assert.True(t, domain.IsType(err, domain.ErrorTypeCorrupt))
	assert.Zero(t, h.ocr.calls.Load())
}

func TestParse_OCRFailedIsFatal(t *testing.T) {
	h := newHarness()
	h.primary.texts = []string{""}
	h.ocr.err = domain.OCRFailedError("OCR failed on all 1 pages", nil)

	res, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), DefaultOptions())
	assert.Nil(t, res)
	assert.True(t, domain.IsType(err, domain.ErrorTypeOCRFailed))

	_, ok, _ := h.store.Get(context.Background(), "doc-1")
	assert.False(t, ok)
}

func TestParse_PatternRejectedBeforeIO(t *testing.T) {
	for name, pattern := range map[string]string{
		"invalid":  "(unclosed",
		"too long": strings.Repeat("a", 1001),
		"nested":   "(a+)+$",
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			src := &countingSource{}
			opts := DefaultOptions()
			opts.CustomPatterns = []string{`^(Article \d+)`, pattern}

			_, err := h.pipeline(10).Parse(context.Background(), domain.DocumentRef{DocumentID: "d", Source: src}, opts)
			assert.True(t, domain.IsType(err, domain.ErrorTypePatternRejected))
			assert.Zero(t, src.opens.Load())
			assert.Zero(t, h.primary.calls.Load())
		})
	}
}

func TestParse_CustomPatternLabelsSections(t *testing.T) {
	h := newHarness()
	h.primary.texts = []string{"Article 7\nScope", "continued"}
	opts := DefaultOptions()
	opts.CustomPatterns = []string{`^(Article \d+)`}

	res, err := h.pipeline(1).Parse(context.Background(), ref("doc-1"), opts)
	require.NoError(t, err)
	require.NotNil(t, res.Pages[1].Section)
	assert.Equal(t, "Article 7", *res.Pages[1].Section)
}

func TestParse_ParallelMatchesSequential(t *testing.T) {
	texts := make([]string, 17)
	for i := range texts {
		texts[i] = fmt.Sprintf("%d. Heading %d\nbody of page %d", i+1, i+1, i+1)
	}

	run := func(parallel bool) *domain.ParseResult {
		h := newHarness()
		h.primary.texts = texts
		h.workers = 4
		opts := DefaultOptions()
		opts.EnableParallel = parallel
		res, err := h.pipeline(10).Parse(context.Background(), ref("doc"), opts)
		require.NoError(t, err)
		return res
	}

	seq, par := run(false), run(true)
	assert.Equal(t, domain.MethodPrimary, seq.Method)
	assert.Equal(t, domain.MethodPrimaryParallel, par.Method)
	assert.Equal(t, seq.Pages, par.Pages)
}

func TestParse_TableDegradation(t *testing.T) {
	t.Run("detector failure", func(t *testing.T) {
		h := newHarness()
		h.tables.err = errors.New("tabula exploded")

		res, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, []domain.Table{}, res.Tables)
		assert.Equal(t, domain.MethodPrimary, res.Method)
		assert.Len(t, res.Pages, 3)
	})

	t.Run("disabled", func(t *testing.T) {
		h := newHarness()
		opts := DefaultOptions()
		opts.EnableTables = false

		res, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), opts)
		require.NoError(t, err)
		assert.Equal(t, []domain.Table{}, res.Tables)
		assert.Zero(t, h.tables.calls.Load())
		assert.Len(t, res.Pages, 3)
	})
}

func TestParse_EncryptedDocument(t *testing.T) {
	h := newHarness()
	h.probe = func([]byte) error { return pdf.ErrNeedsPassword }

	_, err := h.pipeline(10).Parse(context.Background(), ref("locked"), DefaultOptions())
	assert.True(t, domain.IsType(err, domain.ErrorTypeEncrypted))
	assert.Zero(t, h.ocr.calls.Load())
	assert.Zero(t, h.tables.calls.Load())
	assert.Zero(t, h.primary.calls.Load())
}

func TestParse_NotPDF(t *testing.T) {
	h := newHarness()
	r := domain.DocumentRef{DocumentID: "zip", Source: domain.BytesSource{Data: []byte("PK\x03\x04")}}

	_, err := h.pipeline(10).Parse(context.Background(), r, DefaultOptions())
	assert.True(t, domain.IsType(err, domain.ErrorTypeCorrupt))
	assert.Zero(t, h.primary.calls.Load())
}

func TestParse_NotFound(t *testing.T) {
	h := newHarness()
	r := domain.DocumentRef{DocumentID: "gone", Source: domain.FileSource(t.TempDir() + "/missing.pdf")}

	_, err := h.pipeline(10).Parse(context.Background(), r, DefaultOptions())
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
}

func TestParse_MissingDocumentID(t *testing.T) {
	_, err := newHarness().pipeline(10).Parse(context.Background(), ref(""), DefaultOptions())
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestParse_CacheFailuresAreNotFatal(t *testing.T) {
	h := newHarness()
	h.store = cache.NewResultStore(failingClient{}, 0)

	res, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, res.Pages, 3)
}

func TestParse_WithoutCache(t *testing.T) {
	h := newHarness()
	p := New(Deps{
		Validator: pdf.NewValidatorWithProbe(h.probe, nil),
		Chain:     extract.NewChain([]extract.Extractor{h.primary}, nil, nil),
	}, nil)

	for i := 0; i < 2; i++ {
		res, err := p.Parse(context.Background(), ref("doc-1"), DefaultOptions())
		require.NoError(t, err)
		assert.False(t, res.Cached)
		assert.Equal(t, []domain.Table{}, res.Tables)
	}
	assert.Equal(t, int32(2), h.primary.calls.Load())
}

func TestParse_ReportsStages(t *testing.T) {
	h := newHarness()
	var stages []Stage
	opts := DefaultOptions()
	opts.OnStage = func(s Stage) { stages = append(stages, s) }

	_, err := h.pipeline(10).Parse(context.Background(), ref("doc-1"), opts)
	require.NoError(t, err)
	assert.Equal(t, []Stage{
		StageCacheCheck, StageValidate, StageExtractTables, StageExtractText,
		StageDetectSections, StageCacheWrite,
	}, stages)
}
