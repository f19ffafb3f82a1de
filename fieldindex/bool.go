package fieldindex

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/hupe1980/inkdex/internal/bitfile"
	"github.com/hupe1980/inkdex/postings"
)

// Bool indexes true/false values as one bitmap stored at dir/name.idx.
type Bool struct {
	f *bitfile.Flags
}

// OpenBool opens a boolean index.
func OpenBool(dir, name string, optFns ...func(o *Options)) (*Bool, error) {
	opts := applyOptions(optFns)
	f, err := bitfile.Open(filepath.Join(dir, name+".idx"), func(bo *bitfile.Options) {
		bo.FS = opts.FS
		bo.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}
	return &Bool{f: f}, nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrType, err)
		}
		return b, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func (b *Bool) Set(value any, rec int) error {
	if value == nil {
		return nil
	}
	v, err := toBool(value)
	if err != nil {
		return err
	}
	b.f.Set(rec, v)
	return nil
}

// Query supports Equal and NotEqual only.
func (b *Bool) Query(op Op, value any, maxSize int) (*postings.Set, error) {
	v, err := toBool(value)
	if err != nil {
		return nil, err
	}
	switch op {
	case Equal:
	case NotEqual:
		v = !v
	default:
		return nil, fmt.Errorf("%w: %s on a boolean index", ErrUnsupported, op)
	}
	if v {
		return b.f.Bits(), nil
	}
	return b.f.Bits().Not(maxSize), nil
}

func (b *Bool) Between(_, _ any, _ int) (*postings.Set, error) {
	return nil, fmt.Errorf("%w: range on a boolean index", ErrUnsupported)
}

func (b *Bool) Keys() ([]any, error) { return []any{true, false}, nil }

func (b *Bool) FreeMemory() error {
	if err := b.f.Save(); err != nil {
		return err
	}
	b.f.FreeMemory()
	return nil
}

func (b *Bool) SaveIndex() error { return b.f.Save() }

func (b *Bool) Shutdown() error { return b.f.Close() }
