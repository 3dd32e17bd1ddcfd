//go:build ocr

// Package tesseract recognises page images with Tesseract via gosseract.
//
// It requires Tesseract and its language data to be installed. Without the
// "ocr" build tag a stub is compiled that reports ErrOCRNotEnabled.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Available reports whether real OCR support was compiled in.
const Available = true

// Recognizer runs one Tesseract client per call so pages can be recognised
// concurrently.
type Recognizer struct {
	languages []string
	newClient func() *gosseract.Client
}

// New creates a Tesseract recognizer for the given languages.
func New(languages []string) (*Recognizer, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Recognizer{languages: languages, newClient: gosseract.NewClient}, nil
}

// Recognize performs OCR on PNG image data.
func (r *Recognizer) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := r.newClient()
	defer c.Close()

	if err := c.SetLanguage(r.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close releases resources held by the recognizer.
func (r *Recognizer) Close() error {
	return nil
}
