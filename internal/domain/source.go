package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Source is a readable document byte source supplied by an external store.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Open returns a reader over the document bytes. A missing document
	// yields an error matching fs.ErrNotExist.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a document from the local filesystem.
type FileSource string

func (s FileSource) Name() string { return string(s) }

func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(string(s))
}

// BytesSource serves a document already held in memory.
type BytesSource struct {
	Label string
	Data  []byte
}

func (s BytesSource) Name() string {
	if s.Label == "" {
		return "<bytes>"
	}
	return s.Label
}

func (s BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.Data == nil {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

// Load reads ref's source into an immutable Document. Reads beyond maxSize
// bytes are rejected; maxSize <= 0 disables the check.
func Load(ctx context.Context, ref DocumentRef, maxSize int64) (*Document, error) {
	if ref.Source == nil {
		return nil, NotFoundError("document has no byte source", nil)
	}

	rc, err := ref.Source.Open(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NotFoundError(fmt.Sprintf("document source not found: %s", ref.Source.Name()), err)
		}
		return nil, IOError(fmt.Sprintf("cannot open document source: %s", ref.Source.Name()), err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxSize > 0 {
		r = io.LimitReader(rc, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, IOError(fmt.Sprintf("read document source: %s", ref.Source.Name()), err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, ValidationError(fmt.Sprintf("document exceeds %d bytes", maxSize), nil)
	}

	doc := &Document{
		ID:             ref.DocumentID,
		OrganizationID: ref.OrganizationID,
		Name:           ref.Source.Name(),
		Data:           data,
	}
	if fsrc, ok := ref.Source.(FileSource); ok {
		if abs, err := filepath.Abs(string(fsrc)); err == nil {
			doc.Path = abs
		}
	}
	return doc, nil
}
