package pageindex

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/pcg"

	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

func openInt(t *testing.T, dir string, optFns ...func(o *Options)) *Index[int32] {
	t.Helper()
	x, err := Open[int32](dir, "ints", keys.Int32{}, append([]func(o *Options){func(o *Options) { o.PageCapacity = 8 }}, optFns...)...)
	require.NoError(t, err)
	return x
}

func TestIndex_LatestValueWins(t *testing.T) {
	x := openInt(t, t.TempDir())
	defer x.Close()

	latest := map[int32]int{}
	for rec := range 500 {
		k := int32(pcg.Uint32n(60))
		require.NoError(t, x.Set(k, rec))
		latest[k] = rec
	}

	for k, want := range latest {
		got, ok, err := x.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got, "key %d", k)
	}

	_, ok, err := x.Get(1000)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := x.Count()
	require.NoError(t, err)
	assert.Equal(t, len(latest), n)
}

func TestIndex_RemoveKey(t *testing.T) {
	x := openInt(t, t.TempDir())
	defer x.Close()

	require.NoError(t, x.Set(5, 1))
	removed, err := x.RemoveKey(5)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := x.Get(5)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err = x.RemoveKey(5)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestIndex_SplitKeepsEveryKeyOnce(t *testing.T) {
	x := openInt(t, t.TempDir())
	defer x.Close()

	var all []int32
	for i := range 200 {
		k := int32(pcg.Uint32n(100000)) - 50000
		all = append(all, k)
		require.NoError(t, x.Set(k, i))
	}
	slices.Sort(all)
	all = slices.Compact(all)

	require.Greater(t, x.PageCount(), 1)

	seen := map[int32]int{}
	for i, e := range x.dir {
		page, err := x.page(i)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Items), x.capacity)
		assert.Equal(t, len(page.Items), e.Info.UniqueCount)

		ks := page.SortedKeys()
		if len(ks) > 0 && i > 0 {
			assert.Equal(t, e.Key, ks[0], "page %d first key", i)
		}
		if i+1 < len(x.dir) {
			for _, k := range ks {
				assert.Less(t, k, x.dir[i+1].Key)
			}
		}
		for _, k := range ks {
			seen[k]++
		}
	}

	assert.Len(t, seen, len(all))
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %d", k)
	}

	got, err := x.Keys()
	require.NoError(t, err)
	assert.Equal(t, all, got)
}

func TestIndex_RangeQueries(t *testing.T) {
	x := openInt(t, t.TempDir())
	defer x.Close()

	vals := map[int]int32{}
	for rec := range 300 {
		k := int32(pcg.Uint32n(120))
		vals[rec] = k
		require.NoError(t, x.Set(k, rec))
	}

	brute := func(op Op, key int32) []int {
		var out []int
		for rec := range 300 {
			v := vals[rec]
			var ok bool
			switch op {
			case Equal:
				ok = v == key
			case NotEqual:
				ok = v != key
			case Less:
				ok = v < key
			case LessEqual:
				ok = v <= key
			case Greater:
				ok = v > key
			case GreaterEqual:
				ok = v >= key
			}
			if ok {
				out = append(out, rec)
			}
		}
		return out
	}

	for _, op := range []Op{Equal, NotEqual, Less, LessEqual, Greater, GreaterEqual} {
		for _, key := range []int32{-5, 0, 17, 59, 60, 119, 500} {
			got, err := x.Query(op, key, 300)
			require.NoError(t, err)
			want := brute(op, key)
			if want == nil {
				want = []int{}
			}
			assert.Equal(t, want, got.Slice(), fmt.Sprintf("%s %d", op, key))
		}
	}

	got, err := x.Between(80, 20)
	require.NoError(t, err)
	var want []int
	for rec := range 300 {
		if v := vals[rec]; v >= 20 && v <= 80 {
			want = append(want, rec)
		}
	}
	assert.Equal(t, want, got.Slice())
}

func TestIndex_MissingKeyQueries(t *testing.T) {
	x := openInt(t, t.TempDir())
	defer x.Close()

	require.NoError(t, x.Set(1, 0))

	s, err := x.Query(Equal, 99, 10)
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())

	s, err = x.Query(NotEqual, 99, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, s.CountOnes())
}

func TestIndex_Duplicates(t *testing.T) {
	x := openInt(t, t.TempDir())
	defer x.Close()

	require.NoError(t, x.Set(7, 3))
	require.NoError(t, x.Set(8, 4))
	require.NoError(t, x.Set(7, 9))
	require.NoError(t, x.Set(7, 11))

	got, err := x.Duplicates(7)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 9, 11}, got)

	got, err = x.Duplicates(100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndex_Reopen(t *testing.T) {
	dir := t.TempDir()
	x := openInt(t, dir)
	for i := range 100 {
		require.NoError(t, x.Set(int32(i%40), i))
	}
	require.NoError(t, x.SaveLastIndexed(100))
	require.NoError(t, x.Close())

	x = openInt(t, dir)
	defer x.Close()

	assert.Equal(t, 100, x.LastIndexed())
	for k := range int32(40) {
		rec, ok, err := x.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		want := 40 + int(k)
		if k < 20 {
			want = 80 + int(k)
		}
		assert.Equal(t, want, rec)
	}

	got, err := x.Duplicates(3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 43, 83}, got)
}

func TestIndex_StringKeysWithoutDuplicates(t *testing.T) {
	dir := t.TempDir()
	open := func() *Index[string] {
		x, err := Open[string](dir, "words", keys.String{}, func(o *Options) {
			o.PageCapacity = 4
			o.AllowDuplicates = false
		})
		require.NoError(t, err)
		return x
	}

	x := open()
	words := []string{"pear", "apple", "fig", "kiwi", "banana", "cherry", "date", "grape", "lemon"}
	for i, w := range words {
		require.NoError(t, x.Set(w, i*10))
	}
	require.NoError(t, x.Set("fig", 99))
	require.NoError(t, x.Close())

	x = open()
	defer x.Close()

	rec, ok, err := x.Get("fig")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, rec)

	s, err := x.Query(Equal, "fig", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{99}, s.Slice())

	s, err = x.Query(Less, "cherry", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 40}, s.Slice())

	got, err := x.Keys()
	require.NoError(t, err)
	sorted := slices.Clone(words)
	slices.Sort(sorted)
	assert.Equal(t, sorted, got)
}

func TestIndex_FreeMemoryKeepsData(t *testing.T) {
	x := openInt(t, t.TempDir())
	defer x.Close()

	for i := range 50 {
		require.NoError(t, x.Set(int32(i), i))
	}
	require.NoError(t, x.SaveIndex())
	x.FreeMemory()
	assert.Zero(t, x.CacheStats().Entries)

	rec, ok, err := x.Get(42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, rec)
}

func TestIndex_Closed(t *testing.T) {
	x := openInt(t, t.TempDir())
	require.NoError(t, x.Close())
	require.NoError(t, x.Close())

	assert.True(t, storeerr.Closed.Has(x.Set(1, 1)))
	_, _, err := x.Get(1)
	assert.True(t, storeerr.Closed.Has(err))
}

func TestParseOp(t *testing.T) {
	for _, op := range []Op{Equal, NotEqual, Less, LessEqual, Greater, GreaterEqual} {
		got, err := ParseOp(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
	_, err := ParseOp("~")
	assert.Error(t, err)
}
