package postings

import (
	"sync"
	"testing"

	"github.com/hupe1980/inkdex/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_GetSet(t *testing.T) {
	s := New()
	assert.False(t, s.Get(5))

	s.Set(5, true)
	s.Set(64, true)
	s.Set(-1, true)
	assert.True(t, s.Get(5))
	assert.True(t, s.Get(64))
	assert.False(t, s.Get(6))
	assert.False(t, s.Get(-1))
	assert.Equal(t, KindSparse, s.Kind())
	assert.True(t, s.IsDirty())

	s.Set(5, false)
	assert.False(t, s.Get(5))
	assert.Equal(t, []int{64}, s.Slice())
}

func TestSet_SparsePromotion(t *testing.T) {
	dense := New()
	for i := range SparseSwitchOver + 1 {
		dense.Set(i, true)
	}
	assert.Equal(t, KindRaw, dense.Kind())
	assert.Equal(t, SparseSwitchOver+1, dense.CountOnes())

	spread := New()
	for i := range 50 {
		spread.Set(i*1000, true)
	}
	assert.Equal(t, KindSparse, spread.Kind())
	assert.Equal(t, 50, spread.CountOnes())
}

func TestFill(t *testing.T) {
	for _, n := range []int{0, 1, 31, 32, 33, 100} {
		s := Fill(n)
		assert.Equal(t, n, s.CountOnes(), "n=%d", n)
		if n > 0 {
			assert.True(t, s.Get(n-1))
		}
		assert.False(t, s.Get(n))
	}
}

func TestSet_Not(t *testing.T) {
	s := FromOffsets(1, 3, 40)
	assert.Equal(t, []int{0, 2, 4}, s.Not(5).Slice())
	assert.Equal(t, 40-2, s.Not(41).CountOnes())
	assert.Empty(t, s.Not(0).Slice())
}

func TestSet_BooleanOps(t *testing.T) {
	a := FromOffsets(1, 2, 3, 100)
	b := FromOffsets(2, 3, 4)

	assert.Equal(t, []int{2, 3}, a.And(b).Slice())
	assert.Equal(t, []int{1, 2, 3, 4, 100}, a.Or(b).Slice())
	assert.Equal(t, []int{1, 100}, a.AndNot(b).Slice())
	assert.Equal(t, []int{1, 4, 100}, a.Xor(b).Slice())

	// Operands are padded, so the order does not matter.
	assert.True(t, a.And(b).Equal(b.And(a)))
	assert.True(t, a.Or(b).Equal(b.Or(a)))
}

func TestSet_AndOrAndNotIdentity(t *testing.T) {
	for range 50 {
		a := FromOffsets(testutil.RandomOffsets(200, 5000)...)
		b := FromOffsets(testutil.RandomOffsets(300, 7000)...)

		// a∧b ∨ a∧¬b == a
		got := a.And(b).Or(a.AndNot(b))
		assert.True(t, got.Equal(a))
	}
}

func TestSet_MatchesOracle(t *testing.T) {
	left := testutil.RandomOffsets(500, 20000)
	right := testutil.ClusteredOffsets(30, 200, 800)

	a, b := FromOffsets(left...), FromOffsets(right...)
	oa, ob := testutil.Oracle(left), testutil.Oracle(right)

	oa2 := oa.Clone()
	oa2.And(ob)
	assert.Equal(t, testutil.OracleSlice(oa2), a.And(b).Slice())

	oa2 = oa.Clone()
	oa2.Or(ob)
	assert.Equal(t, testutil.OracleSlice(oa2), a.Or(b).Slice())

	oa2 = oa.Clone()
	oa2.AndNot(ob)
	assert.Equal(t, testutil.OracleSlice(oa2), a.AndNot(b).Slice())

	assert.Equal(t, testutil.OracleSlice(oa), testutil.OracleSlice(a.ToRoaring()))
	assert.True(t, FromRoaring(ob).Equal(b))
}

func TestSet_PersistedFormRoundTrip(t *testing.T) {
	inputs := map[string][]int{
		"empty":     nil,
		"sparse":    {7, 9000, 123456},
		"dense":     testutil.RandomOffsets(3000, 4000),
		"clustered": testutil.ClusteredOffsets(40, 500, 2000),
	}

	for name, offsets := range inputs {
		t.Run(name, func(t *testing.T) {
			s := FromOffsets(offsets...)
			kind, words := s.Words()
			got := FromWords(kind, words)
			assert.ElementsMatch(t, offsets, got.Slice())
			assert.Equal(t, len(offsets), got.CountOnes())

			raw := FromWords(KindRaw, got.rawCopy())
			assert.True(t, raw.Equal(s))
		})
	}
}

func TestSet_CompressDecompress(t *testing.T) {
	offsets := testutil.ClusteredOffsets(20, 300, 1000)
	s := FromOffsets(offsets...)
	s.Decompress()
	require.Equal(t, KindRaw, s.Kind())
	before := s.Slice()

	s.Compress()
	assert.Equal(t, KindWAH, s.Kind())
	assert.Equal(t, len(offsets), s.CountOnes())
	assert.Equal(t, before, s.Slice())
	assert.Equal(t, s.Len()-len(offsets), s.CountZeros())

	// Reads on a compressed set work without an explicit decompress.
	assert.True(t, s.Get(offsets[0]))
	s.FreeMemory()
	assert.Equal(t, KindWAH, s.Kind())
}

func TestSet_FirstAndCopy(t *testing.T) {
	assert.Equal(t, -1, New().First())

	s := FromOffsets(40, 7, 99)
	assert.Equal(t, 7, s.First())

	c := s.Copy()
	c.Set(1, true)
	assert.Equal(t, 1, c.First())
	assert.Equal(t, 7, s.First())
}

func TestSet_OrWith(t *testing.T) {
	s := FromOffsets(1)
	s.MarkClean()
	s.OrWith(FromOffsets(500, 2))
	assert.Equal(t, []int{1, 2, 500}, s.Slice())
	assert.True(t, s.IsDirty())
}

func TestSet_Concurrent(t *testing.T) {
	s := New()
	other := FromOffsets(testutil.RandomOffsets(100, 1000)...)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				s.Set(g*500+i, true)
				_ = s.And(other)
				_ = other.Or(s)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4000, s.CountOnes())
}
