package domain

import (
	"errors"
	"fmt"
)

// ErrorType classifies domain errors. The fatal parse taxonomy is the first
// block; the rest are ambient failures from configuration and I/O.
type ErrorType string

const (
	ErrorTypeEncrypted           ErrorType = "encrypted_document"
	ErrorTypeCorrupt             ErrorType = "corrupt_document"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeExtractionExhausted ErrorType = "extraction_exhausted"
	ErrorTypeOCRFailed           ErrorType = "ocr_failed"
	ErrorTypePatternRejected     ErrorType = "pattern_rejected"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeCache      ErrorType = "cache"
)

// Sentinels wrapped by extractors so the chain can classify failures
// without knowing which engine produced them.
var (
	// ErrMalformed marks a structural failure: the engine could not parse the file.
	ErrMalformed = errors.New("malformed document")
	// ErrNoText marks a capability that opened the file but produced no pages or text.
	ErrNoText = errors.New("no text extracted")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the ErrorType of the first DomainError in err's chain,
// or the empty string when there is none.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// IsType reports whether err carries a DomainError of the given type.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

func EncryptedDocumentError(message string, err error) *DomainError {
	return NewError(ErrorTypeEncrypted, message, err)
}

func CorruptDocumentError(message string, err error) *DomainError {
	return NewError(ErrorTypeCorrupt, message, err)
}

func NotFoundError(message string, err error) *DomainError {
	return NewError(ErrorTypeNotFound, message, err)
}

func ExtractionExhaustedError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtractionExhausted, message, err)
}

func OCRFailedError(message string, err error) *DomainError {
	return NewError(ErrorTypeOCRFailed, message, err)
}

func PatternRejectedError(message string, err error) *DomainError {
	return NewError(ErrorTypePatternRejected, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func CacheError(message string, err error) *DomainError {
	return NewError(ErrorTypeCache, message, err)
}
