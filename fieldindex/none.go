package fieldindex

import (
	"fmt"

	"github.com/hupe1980/inkdex/postings"
)

// None is the index of an unindexed field. Every query matches all records.
type None struct{}

func (None) Set(any, int) error { return nil }

func (None) Query(_ Op, _ any, maxSize int) (*postings.Set, error) {
	return postings.Fill(maxSize), nil
}

func (None) Between(_, _ any, _ int) (*postings.Set, error) {
	return nil, fmt.Errorf("%w: field is not indexed", ErrUnsupported)
}

func (None) Keys() ([]any, error) { return []any{}, nil }
func (None) FreeMemory() error    { return nil }
func (None) SaveIndex() error     { return nil }
func (None) Shutdown() error      { return nil }

var (
	_ Index = None{}
	_ Index = (*Bool)(nil)
	_ Index = (*Enum)(nil)
	_ Index = (*Typed[int64])(nil)
	_ Index = (*FullText)(nil)
)
