package fieldindex

import (
	"cmp"

	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/pageindex"
	"github.com/hupe1980/inkdex/postings"
)

// Typed indexes values of one ordered type.
type Typed[K cmp.Ordered] struct {
	x *pageindex.Index[K]
}

func openTyped[K cmp.Ordered](dir, name string, kc keys.Codec[K], optFns []func(o *Options)) (*Typed[K], error) {
	opts := applyOptions(optFns)
	x, err := pageindex.Open(dir, name, kc, opts.pageIndex(true))
	if err != nil {
		return nil, err
	}
	return &Typed[K]{x: x}, nil
}

// OpenInt32 opens an int32 index at dir/name.
func OpenInt32(dir, name string, optFns ...func(o *Options)) (*Typed[int32], error) {
	return openTyped(dir, name, keys.Int32{}, optFns)
}

// OpenInt64 opens an int64 index at dir/name.
func OpenInt64(dir, name string, optFns ...func(o *Options)) (*Typed[int64], error) {
	return openTyped(dir, name, keys.Int64{}, optFns)
}

// OpenUint32 opens a uint32 index at dir/name.
func OpenUint32(dir, name string, optFns ...func(o *Options)) (*Typed[uint32], error) {
	return openTyped(dir, name, keys.Uint32{}, optFns)
}

// OpenUint64 opens a uint64 index at dir/name.
func OpenUint64(dir, name string, optFns ...func(o *Options)) (*Typed[uint64], error) {
	return openTyped(dir, name, keys.Uint64{}, optFns)
}

// OpenFloat64 opens a float64 index at dir/name.
func OpenFloat64(dir, name string, optFns ...func(o *Options)) (*Typed[float64], error) {
	return openTyped(dir, name, keys.Float64{}, optFns)
}

// OpenString opens a string index at dir/name.
func OpenString(dir, name string, optFns ...func(o *Options)) (*Typed[string], error) {
	return openTyped(dir, name, keys.String{}, optFns)
}

func (t *Typed[K]) Set(value any, rec int) error {
	if value == nil {
		return nil
	}
	k, err := convert[K](value)
	if err != nil {
		return err
	}
	return t.x.Set(k, rec)
}

func (t *Typed[K]) Query(op Op, value any, maxSize int) (*postings.Set, error) {
	k, err := convert[K](value)
	if err != nil {
		return nil, err
	}
	return t.x.Query(op, k, maxSize)
}

func (t *Typed[K]) Between(from, to any, _ int) (*postings.Set, error) {
	lo, err := convert[K](from)
	if err != nil {
		return nil, err
	}
	hi, err := convert[K](to)
	if err != nil {
		return nil, err
	}
	return t.x.Between(lo, hi)
}

func (t *Typed[K]) Keys() ([]any, error) {
	ks, err := t.x.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(ks))
	for i, k := range ks {
		out[i] = k
	}
	return out, nil
}

// FreeMemory saves the index and drops its clean pages.
func (t *Typed[K]) FreeMemory() error {
	if err := t.x.SaveIndex(); err != nil {
		return err
	}
	t.x.FreeMemory()
	return nil
}

func (t *Typed[K]) SaveIndex() error { return t.x.SaveIndex() }

func (t *Typed[K]) Shutdown() error { return t.x.Close() }
