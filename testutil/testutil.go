package testutil

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/zeebo/pcg"
)

// RandomOffsets returns n distinct sorted offsets below limit. It returns
// fewer than n offsets if limit is smaller than n.
func RandomOffsets(n int, limit uint32) []int {
	seen := make(map[uint32]struct{}, n)
	for len(seen) < n && len(seen) < int(limit) {
		seen[pcg.Uint32n(limit)] = struct{}{}
	}

	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, int(v))
	}
	slices.Sort(out)
	return out
}

// ClusteredOffsets returns runs of consecutive offsets separated by random
// gaps, the shape WAH compresses well.
func ClusteredOffsets(runs int, maxRun, maxGap uint32) []int {
	var out []int
	pos := 0
	for range runs {
		pos += int(pcg.Uint32n(maxGap))
		n := int(pcg.Uint32n(maxRun)) + 1
		for i := range n {
			out = append(out, pos+i)
		}
		pos += n
	}
	return out
}

// Oracle builds a roaring bitmap holding offsets.
func Oracle(offsets []int) *roaring.Bitmap {
	bm := roaring.New()
	for _, o := range offsets {
		bm.Add(uint32(o)) //nolint:gosec // G115: test offsets are small
	}
	return bm
}

// OracleSlice returns the oracle members as ints.
func OracleSlice(bm *roaring.Bitmap) []int {
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}
