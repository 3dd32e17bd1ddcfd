package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/doc-ingest/cmd/doc-ingest/ui"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/pkg/ingest"
)

func newClient(ctx context.Context) (*ingest.Client, error) {
	return ingest.NewClientWithConfig(ctx, cfg, logger)
}

// defaultDocumentID derives a stable id from the file's absolute path so
// repeated runs hit the cache.
func defaultDocumentID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String(), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func summaryRows(result *ingest.ParseResult, elapsed time.Duration) [][]string {
	sections := map[string]bool{}
	for _, p := range result.Pages {
		if p.Section != nil {
			sections[*p.Section] = true
		}
	}
	return [][]string{
		{"Document", result.DocumentID},
		{"Method", string(result.Method)},
		{"Pages", strconv.Itoa(len(result.Pages))},
		{"Sections", strconv.Itoa(len(sections))},
		{"Tables", strconv.Itoa(len(result.Tables))},
		{"Cached", strconv.FormatBool(result.Cached)},
		{"Duration", ui.FormatDuration(elapsed)},
	}
}

func showParseError(err error) {
	title, hint := "Parse failed", ""
	switch ingest.ErrorTypeOf(err) {
	case domain.ErrorTypeEncrypted:
		title, hint = "Encrypted document", "The PDF requires a password. Remove the protection and retry."
	case domain.ErrorTypeCorrupt:
		title, hint = "Corrupt document", "No extractor could read the file. Check it is a valid PDF."
	case domain.ErrorTypeNotFound:
		title, hint = "Document not found", "Check the --file path."
	case domain.ErrorTypeExtractionExhausted:
		title, hint = "No text extracted", "Every text extractor failed. Enable OCR or try another strategy order."
	case domain.ErrorTypeOCRFailed:
		title, hint = "OCR failed", "Every page failed recognition. Try a higher ocr.page_timeout or fixed_dpi."
	case domain.ErrorTypePatternRejected:
		title, hint = "Pattern rejected", "Run 'doc-ingest patterns check' to see why."
	}
	if hint == "" {
		return
	}
	ui.ErrorBox(title, hint)
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	switch ingest.ErrorTypeOf(err) {
	case domain.ErrorTypeNotFound:
		return 3
	case domain.ErrorTypeEncrypted, domain.ErrorTypeCorrupt:
		return 4
	case domain.ErrorTypeExtractionExhausted, domain.ErrorTypeOCRFailed:
		return 5
	case domain.ErrorTypePatternRejected, domain.ErrorTypeValidation, domain.ErrorTypeConfig:
		return 2
	}
	return 1
}
