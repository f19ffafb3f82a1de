package bitfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
	"github.com/hupe1980/inkdex/testutil"
)

func TestEncodeDecode(t *testing.T) {
	for _, offsets := range [][]int{nil, {3, 70000}, testutil.RandomOffsets(900, 1000)} {
		set := postings.FromOffsets(offsets...)
		got, err := Decode(Encode(set))
		require.NoError(t, err)
		assert.ElementsMatch(t, offsets, got.Slice())
	}
}

func TestDecode_LegacyWithoutKind(t *testing.T) {
	// A bare WAH literal with the first bit set.
	b := binary.LittleEndian.AppendUint32(nil, 1<<30)
	set, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, set.Slice())

	_, err = Decode([]byte{1, 2})
	assert.True(t, storeerr.Corrupt.Has(err))
	_, err = Decode([]byte{9, 0, 0, 0, 0})
	assert.True(t, storeerr.Corrupt.Has(err))
}

func TestFlags_Persist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "_deleted.idx")

	f, err := Open(path)
	require.NoError(t, err)
	assert.Zero(t, f.CountOnes())

	f.Set(4, true)
	f.Set(9, true)
	f.OrWith(postings.FromOffsets(100))
	assert.True(t, f.Get(9))
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 9, 100}, f.Bits().Slice())

	// Bits is a copy.
	bits := f.Bits()
	bits.Set(1, true)
	assert.False(t, f.Get(1))

	f.FreeMemory()
	assert.Equal(t, 3, f.CountOnes())
}

func TestFlags_SaveSkipsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags")
	f, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, f.Save())
	assert.False(t, fs.Exists(fs.Default, path))

	f.Set(1, true)
	require.NoError(t, f.Save())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestReadFile_Missing(t *testing.T) {
	set, ok, err := ReadFile(fs.Default, filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, set.IsEmpty())
}
