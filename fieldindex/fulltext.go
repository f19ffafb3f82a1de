package fieldindex

import (
	"fmt"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex"
	"github.com/hupe1980/inkdex/postings"
)

// FullText indexes the words of a text field in record mode. With sortable
// set, the whole value is also kept in a string index named name_sort so
// that ranges and key listings work.
type FullText struct {
	words *inkdex.Index
	sort  *Typed[string]
}

// OpenFullText opens a full-text index at dir/name.
func OpenFullText(dir, name string, sortable bool, optFns ...func(o *Options)) (*FullText, error) {
	opts := applyOptions(optFns)
	words, err := inkdex.Open(dir,
		inkdex.WithName(name),
		inkdex.WithoutDocuments(),
		inkdex.WithFileSystem(opts.FS),
		inkdex.WithCodec(opts.Codec),
		inkdex.WithLogger(&inkdex.Logger{Logger: opts.Logger}),
		inkdex.WithResourceController(opts.Resources),
		inkdex.WithPageCapacity(opts.PageCapacity),
	)
	if err != nil {
		return nil, err
	}

	ft := &FullText{words: words}
	if sortable {
		if ft.sort, err = OpenString(dir, name+"_sort", optFns...); err != nil {
			return nil, errs.Combine(err, words.Close())
		}
	}
	return ft, nil
}

func (f *FullText) Set(value any, rec int) error {
	if value == nil {
		return nil
	}
	text := fmt.Sprint(value)
	if err := f.words.IndexText(rec, text); err != nil {
		return err
	}
	if f.sort != nil {
		return f.sort.Set(text, rec)
	}
	return nil
}

// Query evaluates value as a query filter. The operator is ignored.
func (f *FullText) Query(_ Op, value any, maxSize int) (*postings.Set, error) {
	return f.words.Query(fmt.Sprint(value), maxSize)
}

func (f *FullText) Between(from, to any, maxSize int) (*postings.Set, error) {
	if f.sort == nil {
		return nil, fmt.Errorf("%w: range on an unsorted text index", ErrUnsupported)
	}
	return f.sort.Between(from, to, maxSize)
}

func (f *FullText) Keys() ([]any, error) {
	if f.sort == nil {
		return []any{}, nil
	}
	return f.sort.Keys()
}

func (f *FullText) FreeMemory() error {
	var group errs.Group
	group.Add(f.words.FreeMemory())
	if f.sort != nil {
		group.Add(f.sort.FreeMemory())
	}
	return group.Err()
}

func (f *FullText) SaveIndex() error {
	var group errs.Group
	group.Add(f.words.Save())
	if f.sort != nil {
		group.Add(f.sort.SaveIndex())
	}
	return group.Err()
}

func (f *FullText) Shutdown() error {
	var group errs.Group
	group.Add(f.words.Close())
	if f.sort != nil {
		group.Add(f.sort.Shutdown())
	}
	return group.Err()
}
