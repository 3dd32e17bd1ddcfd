//go:build !ocr

package tesseract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubRecognizer(t *testing.T) {
	assert.False(t, Available)

	r, err := New([]string{"eng"})
	require.NoError(t, err)

	text, err := r.Recognize(context.Background(), []byte("png"))
	assert.ErrorIs(t, err, ErrOCRNotEnabled)
	assert.Empty(t, text)
	assert.NoError(t, r.Close())
}
