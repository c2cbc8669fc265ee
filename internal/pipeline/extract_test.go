package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainTextPassthrough(t *testing.T) {
	e := NewExtractor(nil)

	result, err := e.Extract(context.Background(), []byte("hello world"), "text/plain", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Nil(t, result.Structured)
}

func TestExtract_MarkdownPassthrough(t *testing.T) {
	e := NewExtractor(nil)

	result, err := e.Extract(context.Background(), []byte("# Title\n\nbody"), "text/markdown", "a.md")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", result.Text)
}

func TestExtract_UnsupportedType(t *testing.T) {
	e := NewExtractor(nil)

	_, err := e.Extract(context.Background(), []byte("data"), "image/png", "a.png")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Contains(t, err.Error(), "image/png")
}

func TestExtract_BlankContent(t *testing.T) {
	e := NewExtractor(nil)

	_, err := e.Extract(context.Background(), []byte("  \n\t  "), "text/plain", "a.txt")
	assert.ErrorIs(t, err, ErrEmptyContent)
}
