package pagefile

import (
	"cmp"
	"maps"
	"slices"
)

// KeyInfo is the slot payload of a key.
type KeyInfo struct {
	Rec int
	Dup int // postings handle, -1 when the key has no duplicates set
}

// Page is a decoded leaf page.
type Page[K cmp.Ordered] struct {
	Number int
	Right  int
	Items  map[K]KeyInfo
	Dirty  bool

	extHead int // head block of the external key chain, -1 if none
}

// NewPage returns an empty dirty page.
func NewPage[K cmp.Ordered](number int) *Page[K] {
	return &Page[K]{
		Number:  number,
		Right:   -1,
		Items:   make(map[K]KeyInfo),
		Dirty:   true,
		extHead: -1,
	}
}

// SortedKeys returns the page's keys in order.
func (p *Page[K]) SortedKeys() []K {
	return slices.Sorted(maps.Keys(p.Items))
}

// SizeBytes estimates the memory held by the page.
func (p *Page[K]) SizeBytes() int64 {
	return int64(64 + 48*len(p.Items))
}

// PageInfo describes a leaf page in the page list.
type PageInfo struct {
	Page        int
	UniqueCount int
}

// DirEntry is one page-list slot.
type DirEntry[K cmp.Ordered] struct {
	Key  K
	Info PageInfo
}
