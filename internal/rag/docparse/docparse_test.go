package docparse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractReadsPlainTextVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello from a text file"), 0o644))

	text, fileType, err := Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "text", fileType)
	assert.Equal(t, "hello from a text file", text)
}

func TestExtractRejectsMissingFile(t *testing.T) {
	_, _, err := Extract(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
