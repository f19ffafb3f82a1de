package pagefile

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

func TestFile_LeafRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.mgidx")

	f, err := Open[int64](path, keys.Int64{}, func(o *Options) { o.PageCapacity = 8 })
	require.NoError(t, err)

	n := f.NewPageNumber()
	assert.Equal(t, 1, n)

	page := NewPage[int64](n)
	page.Items[42] = KeyInfo{Rec: 1, Dup: -1}
	page.Items[-7] = KeyInfo{Rec: 2, Dup: 3}
	require.NoError(t, f.SavePage(page))
	assert.False(t, page.Dirty)

	require.NoError(t, f.SavePageList([]DirEntry[int64]{{Key: -7, Info: PageInfo{Page: n, UniqueCount: 2}}}))
	require.NoError(t, f.SetLastIndexed(9))
	require.NoError(t, f.Close())

	f, err = Open[int64](path, keys.Int64{})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, 8, f.PageCapacity())
	assert.Equal(t, 9, f.LastIndexed())

	dir, err := f.LoadPageList()
	require.NoError(t, err)
	require.Len(t, dir, 1)
	assert.Equal(t, int64(-7), dir[0].Key)
	assert.Equal(t, PageInfo{Page: n, UniqueCount: 2}, dir[0].Info)

	got, err := f.LoadPage(n)
	require.NoError(t, err)
	assert.Equal(t, map[int64]KeyInfo{42: {Rec: 1, Dup: -1}, -7: {Rec: 2, Dup: 3}}, got.Items)
	assert.Equal(t, -1, got.Right)
	assert.Equal(t, 2, f.NewPageNumber())
}

func TestFile_ExternalStringKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.mgidx")

	f, err := Open[string](path, keys.String{}, func(o *Options) { o.PageCapacity = 4 })
	require.NoError(t, err)

	page := NewPage[string](f.NewPageNumber())
	for i, w := range []string{"zebra", "apple", "a considerably longer key than four bytes"} {
		page.Items[w] = KeyInfo{Rec: i, Dup: -1}
	}
	require.NoError(t, f.SavePage(page))

	page.Items["mango"] = KeyInfo{Rec: 3, Dup: 5}
	require.NoError(t, f.SavePage(page))
	require.NoError(t, f.SavePageList([]DirEntry[string]{{Key: "", Info: PageInfo{Page: page.Number, UniqueCount: 4}}}))
	require.NoError(t, f.Close())

	_, err = os.Stat(filepath.Join(filepath.Dir(path), "words"+stringsExt))
	require.NoError(t, err)

	f, err = Open[string](path, keys.String{})
	require.NoError(t, err)
	defer f.Close()

	got, err := f.LoadPage(page.Number)
	require.NoError(t, err)
	assert.Equal(t, page.Items, got.Items)

	dir, err := f.LoadPageList()
	require.NoError(t, err)
	require.Len(t, dir, 1)
	assert.Equal(t, "", dir[0].Key)
}

func TestFile_PageListSpansPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.mgidx")

	f, err := Open[int32](path, keys.Int32{}, func(o *Options) { o.PageCapacity = 3 })
	require.NoError(t, err)

	var dir []DirEntry[int32]
	for i := range 10 {
		dir = append(dir, DirEntry[int32]{Key: int32(i * 10), Info: PageInfo{Page: 100 + i, UniqueCount: i}})
	}
	require.NoError(t, f.SavePageList(dir))
	require.NoError(t, f.SavePageList(dir[:4]))
	require.NoError(t, f.SavePageList(dir))
	require.NoError(t, f.Close())

	f, err = Open[int32](path, keys.Int32{})
	require.NoError(t, err)
	defer f.Close()

	got, err := f.LoadPageList()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestFile_CountExceedsCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.mgidx")

	f, err := Open[int32](path, keys.Int32{}, func(o *Options) { o.PageCapacity = 2 })
	require.NoError(t, err)
	page := NewPage[int32](f.NewPageNumber())
	page.Items[1] = KeyInfo{Rec: 1, Dup: -1}
	require.NoError(t, f.SavePage(page))
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	off := fileHeaderSize + 1*(pageHeaderSize+2*(1+4+8))
	raw[off+5] = 9
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	f, err = Open[int32](path, keys.Int32{})
	require.NoError(t, err)
	defer f.Close()

	_, err = f.LoadPage(1)
	assert.True(t, storeerr.Corrupt.Has(err), fmt.Sprint(err))
}

func TestOpen_KeyTypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.mgidx")

	f, err := Open[int32](path, keys.Int32{})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open[float64](path, keys.Float64{})
	assert.True(t, storeerr.Precondition.Has(err))

	require.NoError(t, os.WriteFile(path, []byte("XXXXXXXXXXXXXXXX"), 0o644))
	_, err = Open[int32](path, keys.Int32{})
	assert.True(t, storeerr.Corrupt.Has(err))
}

func TestSavePage_OverCapacity(t *testing.T) {
	f, err := Open[int32](filepath.Join(t.TempDir(), "idx.mgidx"), keys.Int32{}, func(o *Options) { o.PageCapacity = 1 })
	require.NoError(t, err)
	defer f.Close()

	page := NewPage[int32](f.NewPageNumber())
	page.Items[1] = KeyInfo{}
	page.Items[2] = KeyInfo{}
	assert.True(t, storeerr.Precondition.Has(f.SavePage(page)))
}
