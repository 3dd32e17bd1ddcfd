package pdf

import (
	"bytes"
	"context"
	"errors"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// headerWindow is how far into the file the %PDF- marker may appear.
// Readers tolerate a short junk prefix before it.
const headerWindow = 1024

var pdfMagic = []byte("%PDF-")

// ErrNeedsPassword is returned by an encryption probe for a locked document.
var ErrNeedsPassword = errors.New("document requires a password")

// ProbeFunc opens the document far enough to learn whether it is locked.
type ProbeFunc func(data []byte) error

// Validator checks file integrity before any extraction work.
type Validator struct {
	probe  ProbeFunc
	logger *observability.Logger
}

// NewValidator creates a validator using MuPDF as the encryption probe.
func NewValidator(logger *observability.Logger) *Validator {
	return NewValidatorWithProbe(MuPDFProbe, logger)
}

// NewValidatorWithProbe creates a validator with a custom encryption probe.
func NewValidatorWithProbe(probe ProbeFunc, logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Validator{probe: probe, logger: logger}
}

// Validate rejects empty, non-PDF and password-protected input. Other open
// failures are left for the extractor chain to classify.
func (v *Validator) Validate(ctx context.Context, doc *domain.Document) error {
	if doc == nil || len(doc.Data) == 0 {
		return domain.CorruptDocumentError("document is empty", nil)
	}
	if !HasPDFHeader(doc.Data) {
		return domain.CorruptDocumentError("missing %PDF- header", nil)
	}

	if v.probe == nil {
		return nil
	}
	if err := v.probe(doc.Data); err != nil {
		if errors.Is(err, ErrNeedsPassword) {
			return domain.EncryptedDocumentError("document requires a password", err)
		}
		v.logger.Debug().
			Err(err).
			Str("document_id", doc.ID).
			Msg("Encryption probe could not open document; deferring to extractors")
	}
	return nil
}

// HasPDFHeader reports whether data carries the %PDF- marker near its start.
func HasPDFHeader(data []byte) bool {
	head := data
	if len(head) > headerWindow {
		head = head[:headerWindow]
	}
	return bytes.Contains(head, pdfMagic)
}

// MuPDFProbe opens data with MuPDF and maps its password error.
func MuPDFProbe(data []byte) error {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return ErrNeedsPassword
		}
		return err
	}
	return doc.Close()
}
