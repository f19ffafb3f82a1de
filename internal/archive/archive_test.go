package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/inkdex/internal/storeerr"
)

func TestArchive_AppendRead(t *testing.T) {
	a, err := Open(t.TempDir(), "docs")
	require.NoError(t, err)
	defer a.Close()

	n, err := a.Append([]byte("k1"), []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = a.Append([]byte("k2"), []byte(`{"a":1}`), FlagObject)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.Tombstone([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, a.Count())

	r, err := a.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), r.Key)
	assert.Equal(t, []byte("hello"), r.Data)
	assert.False(t, r.Deleted())

	r, err = a.Read(1)
	require.NoError(t, err)
	assert.Equal(t, FlagObject, r.Flags)

	r, err = a.Read(2)
	require.NoError(t, err)
	assert.True(t, r.Deleted())
	assert.Empty(t, r.Data)

	_, err = a.Read(3)
	assert.True(t, storeerr.Precondition.Has(err))
}

func TestArchive_Reopen(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, "docs")
	require.NoError(t, err)
	for i := range 10 {
		_, err := a.Append([]byte{byte(i)}, []byte(strings.Repeat("x", i)), 0)
		require.NoError(t, err)
	}
	require.NoError(t, a.Close())

	a, err = Open(dir, "docs")
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 10, a.Count())
	r, err := a.Read(7)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, r.Key)
	assert.Len(t, r.Data, 7)

	n, err := a.Append([]byte("next"), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestArchive_TornTail(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, "docs")
	require.NoError(t, err)
	_, err = a.Append([]byte("a"), []byte("one"), 0)
	require.NoError(t, err)
	_, err = a.Append([]byte("b"), []byte("two"), 0)
	require.NoError(t, err)
	size := a.Size()
	require.NoError(t, a.Close())

	// A half-written offset and a record cut short.
	offs, err := os.OpenFile(filepath.Join(dir, "docs"+offsetExt), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = offs.Write([]byte{byte(size), 0, 0, 0, 0, 0, 0, 0, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, offs.Close())

	data, err := os.OpenFile(filepath.Join(dir, "docs"+dataExt), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = data.Write([]byte{'R', 'C', 0, 1, 0, 200, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, data.Close())

	a, err = Open(dir, "docs")
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 2, a.Count())
	assert.Equal(t, size, a.Size())

	r, err := a.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), r.Data)
}

func TestArchive_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, "docs")
	require.NoError(t, err)
	_, err = a.Append([]byte("a"), []byte("payload"), 0)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	path := filepath.Join(dir, "docs"+dataExt)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	a, err = Open(dir, "docs")
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Read(0)
	assert.True(t, storeerr.Corrupt.Has(err))
}

func TestArchive_BadHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs"+dataExt), []byte("NOTANARCHIVE"), 0o644))

	_, err := Open(dir, "docs")
	assert.True(t, storeerr.Corrupt.Has(err))
}

func TestArchive_KeyTooLong(t *testing.T) {
	a, err := Open(t.TempDir(), "docs")
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Append(make([]byte, MaxKeyLen+1), nil, 0)
	assert.True(t, storeerr.Precondition.Has(err))
}
