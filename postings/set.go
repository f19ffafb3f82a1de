package postings

import (
	"iter"
	"math/bits"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Kind identifies a representation. The values are persisted.
type Kind uint8

const (
	KindRaw    Kind = 0
	KindWAH    Kind = 1
	KindSparse Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindWAH:
		return "wah"
	case KindSparse:
		return "sparse"
	default:
		return "unknown"
	}
}

// SparseSwitchOver is the cardinality a sparse set must exceed before it is
// considered for promotion to a raw bit array.
var SparseSwitchOver = 10

// Set is a thread-safe set of non-negative offsets.
type Set struct {
	mu     sync.Mutex
	kind   Kind
	words  []uint32 // raw or WAH words, depending on kind
	sparse []uint32 // sorted members while kind is KindSparse
	dirty  bool
}

// New returns an empty sparse set.
func New() *Set {
	return &Set{kind: KindSparse}
}

// FromWords builds a set from its persisted form. The set takes ownership of
// words.
func FromWords(kind Kind, words []uint32) *Set {
	switch kind {
	case KindSparse:
		if !slices.IsSorted(words) {
			slices.Sort(words)
		}
		return &Set{kind: KindSparse, sparse: slices.Compact(words)}
	case KindWAH:
		return &Set{kind: KindWAH, words: words}
	default:
		return &Set{kind: KindRaw, words: words}
	}
}

// FromOffsets returns a set holding offsets.
func FromOffsets(offsets ...int) *Set {
	s := New()
	for _, o := range offsets {
		s.Set(o, true)
	}
	s.dirty = false
	return s
}

// Fill returns a raw set with offsets 0..n-1.
func Fill(n int) *Set {
	if n <= 0 {
		return &Set{kind: KindRaw}
	}

	words := make([]uint32, (n+31)/32)
	full := n / 32
	for i := range full {
		words[i] = ^uint32(0)
	}
	if rem := n % 32; rem > 0 {
		words[full] = ^uint32(0) << (32 - rem)
	}
	return &Set{kind: KindRaw, words: words}
}

// FromRoaring converts a roaring bitmap.
func FromRoaring(bm *roaring.Bitmap) *Set {
	s := New()
	it := bm.Iterator()
	for it.HasNext() {
		s.Set(int(it.Next()), true)
	}
	s.dirty = false
	return s
}

// Kind returns the current representation.
func (s *Set) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Get reports whether offset i is a member.
func (s *Set) Get(i int) bool {
	if i < 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == KindSparse {
		_, ok := slices.BinarySearch(s.sparse, uint32(i)) //nolint:gosec // G115: non-negative
		return ok
	}

	raw := s.rawLocked()
	w := i / 32
	if w >= len(raw) {
		return false
	}
	return raw[w]&(1<<(31-i%32)) != 0
}

// Set adds or removes offset i. Negative offsets are ignored.
func (s *Set) Set(i int, v bool) {
	if i < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = true

	if s.kind == KindSparse {
		s.setSparse(uint32(i), v) //nolint:gosec // G115: non-negative
		return
	}

	raw := s.rawLocked()
	w := i / 32
	if w >= len(raw) {
		if !v {
			return
		}
		raw = append(raw, make([]uint32, w+1-len(raw))...)
		s.words = raw
	}

	mask := uint32(1) << (31 - i%32)
	if v {
		raw[w] |= mask
	} else {
		raw[w] &^= mask
	}
}

func (s *Set) setSparse(o uint32, v bool) {
	pos, found := slices.BinarySearch(s.sparse, o)
	switch {
	case v && !found:
		s.sparse = slices.Insert(s.sparse, pos, o)
	case !v && found:
		s.sparse = slices.Delete(s.sparse, pos, pos+1)
	default:
		return
	}

	n := len(s.sparse)
	if n == 0 {
		return
	}
	curMax := s.sparse[n-1]
	if n > int(curMax>>5)+1 && n > SparseSwitchOver {
		s.rawLocked()
	}
}

// rawLocked switches the set to the raw representation and returns it.
func (s *Set) rawLocked() []uint32 {
	switch s.kind {
	case KindSparse:
		s.words = sparseToRaw(s.sparse)
		s.sparse = nil
	case KindWAH:
		s.words = decompressWAH(s.words)
	}
	s.kind = KindRaw
	return s.words
}

// rawCopy returns a raw copy without changing the representation.
func (s *Set) rawCopy() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.kind {
	case KindSparse:
		return sparseToRaw(s.sparse)
	case KindWAH:
		return decompressWAH(s.words)
	default:
		return slices.Clone(s.words)
	}
}

func sparseToRaw(offsets []uint32) []uint32 {
	if len(offsets) == 0 {
		return nil
	}
	raw := make([]uint32, offsets[len(offsets)-1]/32+1)
	for _, o := range offsets {
		raw[o/32] |= 1 << (31 - o%32)
	}
	return raw
}

// CountOnes returns the number of members.
func (s *Set) CountOnes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.kind {
	case KindSparse:
		return len(s.sparse)
	case KindWAH:
		return countWAH(s.words)
	default:
		return countRaw(s.words)
	}
}

// Len returns the number of bit positions the set currently spans.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.kind {
	case KindSparse:
		if len(s.sparse) == 0 {
			return 0
		}
		return int(s.sparse[len(s.sparse)-1]) + 1
	case KindWAH:
		return wahBits(s.words) / 32 * 32
	default:
		return len(s.words) * 32
	}
}

// CountZeros returns the number of non-members within Len.
func (s *Set) CountZeros() int {
	return s.Len() - s.CountOnes()
}

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool {
	return s.CountOnes() == 0
}

// Indexes yields the members in ascending order. It iterates a snapshot
// taken when the sequence starts.
func (s *Set) Indexes() iter.Seq[int] {
	return func(yield func(int) bool) {
		s.mu.Lock()
		if s.kind == KindSparse {
			members := slices.Clone(s.sparse)
			s.mu.Unlock()
			for _, o := range members {
				if !yield(int(o)) {
					return
				}
			}
			return
		}
		s.mu.Unlock()

		for i, w := range s.rawCopy() {
			for w != 0 {
				lz := bits.LeadingZeros32(w)
				if !yield(i*32 + lz) {
					return
				}
				w &^= 1 << (31 - lz)
			}
		}
	}
}

// Slice returns the members in ascending order.
func (s *Set) Slice() []int {
	out := make([]int, 0, s.CountOnes())
	for o := range s.Indexes() {
		out = append(out, o)
	}
	return out
}

// First returns the lowest member, or -1 for an empty set.
func (s *Set) First() int {
	for o := range s.Indexes() {
		return o
	}
	return -1
}

// Compress switches a raw set to WAH. Sparse sets stay sparse.
func (s *Set) Compress() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == KindRaw {
		s.words = compressWAH(s.words)
		s.kind = KindWAH
	}
}

// Decompress switches the set to the raw representation.
func (s *Set) Decompress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawLocked()
}

// FreeMemory drops the uncompressed form of a raw set.
func (s *Set) FreeMemory() {
	s.Compress()
}

// Words returns the persisted form: the sorted members of a sparse set or
// the WAH words of any other set. A raw set is compressed as a side effect.
func (s *Set) Words() (Kind, []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == KindSparse {
		return KindSparse, slices.Clone(s.sparse)
	}
	if s.kind == KindRaw {
		s.words = compressWAH(s.words)
		s.kind = KindWAH
	}
	return KindWAH, slices.Clone(s.words)
}

// Copy returns a deep copy in the same representation.
func (s *Set) Copy() *Set {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Set{
		kind:   s.kind,
		words:  slices.Clone(s.words),
		sparse: slices.Clone(s.sparse),
	}
}

// IsDirty reports whether the set changed since MarkClean.
func (s *Set) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkDirty flags the set for the next save.
func (s *Set) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// MarkClean clears the dirty flag.
func (s *Set) MarkClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// SizeBytes estimates the memory held by the set.
func (s *Set) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(64 + 4*(cap(s.words)+cap(s.sparse)))
}

// Equal reports whether both sets have the same members.
func (s *Set) Equal(o *Set) bool {
	return slices.Equal(trimZeros(s.rawCopy()), trimZeros(o.rawCopy()))
}

// ToRoaring converts the set to a roaring bitmap.
func (s *Set) ToRoaring() *roaring.Bitmap {
	bm := roaring.New()
	for o := range s.Indexes() {
		bm.Add(uint32(o)) //nolint:gosec // G115: offsets fit in uint32
	}
	return bm
}

func trimZeros(raw []uint32) []uint32 {
	n := len(raw)
	for n > 0 && raw[n-1] == 0 {
		n--
	}
	return raw[:n]
}
