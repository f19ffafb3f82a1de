package inkdex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

func TestWordsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.words")

	words, err := readWords(fs.Default, path)
	require.NoError(t, err)
	assert.Empty(t, words)

	want := map[string]int{"fox": 2, "quick": 0, "straße": 7, "": 3}
	require.NoError(t, writeWords(fs.Default, path, want))

	got, err := readWords(fs.Default, path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	b := encodeWords(want)
	for _, n := range []int{1, 3, len(b) - 1} {
		require.NoError(t, fs.WriteFileAtomic(fs.Default, path, b[:n]))
		_, err := readWords(fs.Default, path)
		assert.True(t, storeerr.Corrupt.Has(err), "truncated at %d", n)
	}
}
