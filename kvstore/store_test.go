package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/inkdex/internal/blockfile"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

func smallBlocks(o *Options) {
	o.BlockSize = 512
	o.PageCapacity = 8
}

func TestStore_IncrementAndDelete(t *testing.T) {
	s, err := Open(t.TempDir(), smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", 5))
	n, err := s.Increment("k", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	n, err = s.Decrement("k", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), n)

	n, err = s.Increment("fresh", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	ok, err := s.Delete("k")
	require.NoError(t, err)
	assert.True(t, ok)

	var v int64
	ok, err = s.Get("k", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Delete("k")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_IncrementFloat(t *testing.T) {
	s, err := Open(t.TempDir(), smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("f", 1.5))
	f, err := s.IncrementFloat("f", 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 1.75, f, 1e-9)

	f, err = s.DecrementFloat("f", 2)
	require.NoError(t, err)
	assert.InDelta(t, -0.25, f, 1e-9)

	_, err = s.Increment("f", 1)
	assert.True(t, storeerr.Precondition.Has(err))
}

func TestStore_IncrementNonNumeric(t *testing.T) {
	s, err := Open(t.TempDir(), smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("name", "alice"))
	_, err = s.Increment("name", 1)
	require.Error(t, err)
	assert.True(t, storeerr.Precondition.Has(err))
	assert.ErrorIs(t, err, ErrNotNumeric)

	var v string
	ok, err := s.Get("name", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestStore_MultiBlockValue(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, smallBlocks)
	require.NoError(t, err)

	big := strings.Repeat("inverted index ", 400)
	require.NoError(t, s.Set("doc", big))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Greater(t, st.Blocks, 5)

	require.NoError(t, s.Close())

	s, err = Open(dir, smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	var got string
	ok, err := s.Get("doc", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, big, got)
}

func TestStore_CompressedValue(t *testing.T) {
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		t.Run(fmt.Sprint(c), func(t *testing.T) {
			s, err := Open(t.TempDir(), smallBlocks, func(o *Options) {
				o.CompressAbove = 64
				o.Compression = c
			})
			require.NoError(t, err)
			defer s.Close()

			value := bytes.Repeat([]byte("abcdefgh"), 1000)
			require.NoError(t, s.Set("blob", value))

			st, err := s.Stats()
			require.NoError(t, err)
			assert.Less(t, st.Blocks, 4)

			var got []byte
			ok, err := s.Get("blob", &got)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, value, got)
		})
	}
}

func TestStore_OverwriteReusesBlocks(t *testing.T) {
	s, err := Open(t.TempDir(), smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	big := strings.Repeat("x", 3000)
	for range 5 {
		require.NoError(t, s.Set("k", big))
	}

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Less(t, st.Blocks, 20)
	assert.Equal(t, 1, st.Keys)
}

func TestStore_KeyValidation(t *testing.T) {
	s, err := Open(t.TempDir(), smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	err = s.Set(strings.Repeat("k", MaxKeyLen+1), 1)
	assert.True(t, storeerr.Precondition.Has(err))
	assert.ErrorIs(t, err, ErrKeyTooLong)

	err = s.Set("", 1)
	assert.ErrorIs(t, err, ErrEmptyKey)

	require.NoError(t, s.Set(strings.Repeat("k", MaxKeyLen), 1))
}

func TestStore_RebuildAfterCrash(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, smallBlocks)
	require.NoError(t, err)

	big := strings.Repeat("y", 1200)
	require.NoError(t, s.Set("x", big))
	require.NoError(t, s.Set("y", 1))
	_, err = s.Delete("y")
	require.NoError(t, err)

	// x moves to a later block, is deleted there and then lands in a block
	// before its own tombstone.
	require.NoError(t, s.Set("x", "short"))
	_, err = s.Delete("x")
	require.NoError(t, err)
	require.NoError(t, s.Set("x", "again"))

	for i := range 20 {
		require.NoError(t, s.Set(fmt.Sprintf("key-%02d", i), i))
	}
	_, err = s.Delete("key-07")
	require.NoError(t, err)
	require.NoError(t, s.data.Sync())

	// The process dies without Close: the marker stays, the key index is
	// never saved.
	assert.True(t, fs.Exists(fs.Default, filepath.Join(dir, dirtyMarker)))

	s2, err := Open(dir, smallBlocks)
	require.NoError(t, err)

	var x string
	ok, err := s2.Get("x", &x)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "again", x)

	ok, err = s2.Contains("y")
	require.NoError(t, err)
	assert.False(t, ok)

	for i := range 20 {
		var v int
		ok, err := s2.Get(fmt.Sprintf("key-%02d", i), &v)
		require.NoError(t, err)
		if i == 7 {
			assert.False(t, ok)
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}

	count, err := s2.Count()
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	// Writes after the rebuild must not clobber live chains.
	require.NoError(t, s2.Set("z", big))
	ok, err = s2.Get("x", &x)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "again", x)

	require.NoError(t, s2.Close())
	assert.False(t, fs.Exists(fs.Default, filepath.Join(dir, dirtyMarker)))
}

func TestStore_RebuildPrefersNewerGeneration(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, smallBlocks)
	require.NoError(t, err)

	require.NoError(t, s.Set("pad", 1))
	require.NoError(t, s.Set("k", "old"))
	require.NoError(t, s.Set("pad", 2)) // frees block 0

	old, ok, err := s.keys.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	gen, err := s.generation(old)
	require.NoError(t, err)
	assert.Zero(t, gen)

	// An update of k dies after writing its new chain: the old chain is
	// never discarded and the new one reuses a lower block.
	value, err := s.opts.Codec.Marshal("new")
	require.NoError(t, err)
	payload := binary.LittleEndian.AppendUint64(nil, gen+1)
	head, err := s.data.WriteChain([]byte("k"), keyTypeString, blockfile.FlagBinary, append(payload, value...))
	require.NoError(t, err)
	require.Less(t, head, old)
	require.NoError(t, s.data.Sync())

	s2, err := Open(dir, smallBlocks)
	require.NoError(t, err)
	defer s2.Close()

	var got string
	ok, err = s2.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", got)

	// The stale chain is free again and the next write continues the
	// generation sequence.
	require.NoError(t, s2.Set("k", "newer"))
	cur, _, err := s2.keys.Get("k")
	require.NoError(t, err)
	gen, err = s2.generation(cur)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
}

func TestStore_OverwriteBumpsGeneration(t *testing.T) {
	s, err := Open(t.TempDir(), smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	for i := range 3 {
		require.NoError(t, s.Set("k", i))
	}
	head, _, err := s.keys.Get("k")
	require.NoError(t, err)
	gen, err := s.generation(head)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	_, err = s.Delete("k")
	require.NoError(t, err)
	require.NoError(t, s.Set("k", 9))
	head, _, err = s.keys.Get("k")
	require.NoError(t, err)
	gen, err = s.generation(head)
	require.NoError(t, err)
	assert.Zero(t, gen)
}

func TestStore_Compact(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, smallBlocks)
	require.NoError(t, err)

	value := strings.Repeat("v", 800)
	for i := range 40 {
		require.NoError(t, s.Set(fmt.Sprintf("k%02d", i), value))
	}
	for i := 0; i < 40; i += 2 {
		_, err := s.Delete(fmt.Sprintf("k%02d", i))
		require.NoError(t, err)
	}

	before, err := s.Stats()
	require.NoError(t, err)

	require.NoError(t, s.Compact(context.Background()))

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Less(t, after.Blocks, before.Blocks)
	assert.Zero(t, after.FreeBlocks)
	assert.Equal(t, 20, after.Keys)
	assert.False(t, fs.Exists(fs.Default, filepath.Join(dir, compactDir)))

	require.NoError(t, s.Set("new", 1))
	require.NoError(t, s.Close())

	s, err = Open(dir, smallBlocks)
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 21)
	for i := 1; i < 40; i += 2 {
		var got string
		ok, err := s.Get(fmt.Sprintf("k%02d", i), &got)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, value, got)
	}
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(t.TempDir(), smallBlocks)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Set("k", 1)
	assert.True(t, storeerr.Closed.Has(err))
	_, err = s.Get("k", new(int))
	assert.ErrorIs(t, err, ErrClosed)
}
