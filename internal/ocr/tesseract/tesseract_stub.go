//go:build !ocr

// Package tesseract recognises page images with Tesseract via gosseract.
//
// This is the stub compiled when the "ocr" build tag is not set. Rebuild
// with -tags ocr and Tesseract installed to enable recognition.
package tesseract

import (
	"context"
	"errors"
)

// Available reports whether real OCR support was compiled in.
const Available = false

// ErrOCRNotEnabled is returned when OCR support was not compiled in.
var ErrOCRNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")

// Recognizer is a stub that fails every recognition.
type Recognizer struct{}

// New returns a recognizer whose calls fail with ErrOCRNotEnabled. Callers
// check Available first and skip the OCR stage when it is false.
func New(languages []string) (*Recognizer, error) {
	return &Recognizer{}, nil
}

// Recognize returns ErrOCRNotEnabled.
func (r *Recognizer) Recognize(ctx context.Context, png []byte) (string, error) {
	return "", ErrOCRNotEnabled
}

// Close is a no-op for the stub recognizer.
func (r *Recognizer) Close() error {
	return nil
}
