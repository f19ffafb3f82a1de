package fieldindex

import (
	"fmt"

	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/pageindex"
	"github.com/hupe1980/inkdex/postings"
)

// Enum indexes a small set of distinct labels. Values are stored by their
// fmt.Sprint form and only compared for equality.
type Enum struct {
	x *pageindex.Index[string]
}

// OpenEnum opens an enumeration index at dir/name.
func OpenEnum(dir, name string, optFns ...func(o *Options)) (*Enum, error) {
	opts := applyOptions(optFns)
	x, err := pageindex.Open(dir, name, keys.String{}, opts.pageIndex(true))
	if err != nil {
		return nil, err
	}
	return &Enum{x: x}, nil
}

func (e *Enum) Set(value any, rec int) error {
	if value == nil {
		return nil
	}
	return e.x.Set(fmt.Sprint(value), rec)
}

func (e *Enum) Query(op Op, value any, maxSize int) (*postings.Set, error) {
	if op != Equal && op != NotEqual {
		return nil, fmt.Errorf("%w: %s on an enum index", ErrUnsupported, op)
	}
	return e.x.Query(op, fmt.Sprint(value), maxSize)
}

func (e *Enum) Between(_, _ any, _ int) (*postings.Set, error) {
	return nil, fmt.Errorf("%w: range on an enum index", ErrUnsupported)
}

func (e *Enum) Keys() ([]any, error) {
	ks, err := e.x.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(ks))
	for i, k := range ks {
		out[i] = k
	}
	return out, nil
}

func (e *Enum) FreeMemory() error {
	if err := e.x.SaveIndex(); err != nil {
		return err
	}
	e.x.FreeMemory()
	return nil
}

func (e *Enum) SaveIndex() error { return e.x.SaveIndex() }

func (e *Enum) Shutdown() error { return e.x.Close() }
