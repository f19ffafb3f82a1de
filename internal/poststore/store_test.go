package poststore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/testutil"
)

func openStore(t *testing.T, dir string, optFns ...func(o *Options)) *Store {
	t.Helper()
	s, err := Open(dir, "terms", optFns...)
	require.NoError(t, err)
	return s
}

func TestStore_CommitAndReopen(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	dense := testutil.RandomOffsets(2000, 3000)
	h1, err := s.FreeHandle()
	require.NoError(t, err)
	h2, err := s.FreeHandle()
	require.NoError(t, err)
	h3, err := s.FreeHandle()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, []int{h1, h2, h3})

	for _, o := range dense {
		require.NoError(t, s.SetDuplicate(h1, o))
	}
	require.NoError(t, s.SetDuplicate(h2, 42))
	require.NoError(t, s.Commit(true))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()

	assert.Equal(t, 3, s.Len())

	set, err := s.Get(h1)
	require.NoError(t, err)
	assert.Equal(t, dense, set.Slice())

	set, err = s.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, set.Slice())

	set, err = s.Get(h3)
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}

func TestStore_HandleOutOfRange(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	_, err := s.Get(0)
	assert.True(t, storeerr.Precondition.Has(err))
	_, err = s.Get(-1)
	assert.True(t, storeerr.Precondition.Has(err))
}

func TestStore_FreeMemoryKeepsDirty(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	clean, _ := s.FreeHandle()
	dirty, _ := s.FreeHandle()
	require.NoError(t, s.SetDuplicate(clean, 1))
	require.NoError(t, s.Commit(false))
	require.NoError(t, s.SetDuplicate(dirty, 2))

	s.FreeMemory()
	assert.Equal(t, 1, s.cache.Len())

	_, ok := s.cache.Get(dirty)
	assert.True(t, ok)

	set, err := s.Get(clean)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, set.Slice())
}

func TestStore_OptimizeCompacts(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	h, _ := s.FreeHandle()
	other, _ := s.FreeHandle()
	for i := range 50 {
		require.NoError(t, s.SetDuplicate(h, i*7))
		require.NoError(t, s.Commit(false))
	}
	require.NoError(t, s.SetDuplicate(other, 3))

	before := s.blobSize.Load()
	require.NoError(t, s.Optimize(t.Context()))
	assert.Less(t, s.blobSize.Load(), before)

	assert.False(t, fs.Exists(fs.Default, filepath.Join(dir, "terms$.mgbmp")))

	require.NoError(t, s.SetDuplicate(h, 1000))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()

	set, err := s.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 51, set.CountOnes())
	assert.True(t, set.Get(1000))

	set, err = s.Get(other)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, set.Slice())
}

func TestStore_OptimizeFailureLeavesFilesIntact(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	s := openStore(t, dir, func(o *Options) { o.FS = ffs })
	defer s.Close()

	h, _ := s.FreeHandle()
	for i := range 100 {
		require.NoError(t, s.SetDuplicate(h, i*3))
		require.NoError(t, s.Commit(false))
	}

	blobBefore, err := os.ReadFile(filepath.Join(dir, "terms.mgbmp"))
	require.NoError(t, err)
	offsBefore, err := os.ReadFile(filepath.Join(dir, "terms.mgbmr"))
	require.NoError(t, err)

	ffs.AddRule("terms$.mgbmp", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	require.Error(t, s.Optimize(t.Context()))

	blobAfter, err := os.ReadFile(filepath.Join(dir, "terms.mgbmp"))
	require.NoError(t, err)
	offsAfter, err := os.ReadFile(filepath.Join(dir, "terms.mgbmr"))
	require.NoError(t, err)
	assert.Equal(t, blobBefore, blobAfter)
	assert.Equal(t, offsBefore, offsAfter)
	assert.False(t, fs.Exists(fs.Default, filepath.Join(dir, "terms$.mgbmp")))

	// Still serving.
	s.FreeMemory()
	set, err := s.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 100, set.CountOnes())
}

func TestStore_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	h, _ := s.FreeHandle()
	require.NoError(t, s.SetDuplicate(h, 9))
	require.NoError(t, s.Close())

	blob := filepath.Join(dir, "terms.mgbmp")
	data, err := os.ReadFile(blob)
	require.NoError(t, err)
	data[0] = 'X'
	require.NoError(t, os.WriteFile(blob, data, 0o644))

	s = openStore(t, dir)
	defer s.Close()

	_, err = s.Get(h)
	assert.True(t, storeerr.Corrupt.Has(err))

	err = s.Optimize(t.Context())
	assert.True(t, storeerr.Corrupt.Has(err))

	after, err := os.ReadFile(blob)
	require.NoError(t, err)
	assert.Equal(t, data, after)
}

func TestStore_ConcurrentWithOptimize(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	const writers = 4
	handles := make([]int, writers)
	for i := range handles {
		handles[i], _ = s.FreeHandle()
	}

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				assert.NoError(t, s.SetDuplicate(handles[w], i))
				if i%50 == 0 {
					assert.NoError(t, s.Commit(false))
				}
			}
		}()
	}

	for range 5 {
		require.NoError(t, s.Optimize(t.Context()))
	}
	wg.Wait()

	for _, h := range handles {
		set, err := s.Get(h)
		require.NoError(t, err)
		assert.Equal(t, 200, set.CountOnes())
	}
}

func TestStore_Closed(t *testing.T) {
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.FreeHandle()
	assert.True(t, storeerr.Closed.Has(err))
}
