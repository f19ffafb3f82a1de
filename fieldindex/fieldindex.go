package fieldindex

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/inkdex/codec"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/pageindex"
	"github.com/hupe1980/inkdex/internal/resource"
	"github.com/hupe1980/inkdex/postings"
)

// Op is a comparison operator.
type Op = pageindex.Op

const (
	Equal        = pageindex.Equal
	NotEqual     = pageindex.NotEqual
	Less         = pageindex.Less
	LessEqual    = pageindex.LessEqual
	Greater      = pageindex.Greater
	GreaterEqual = pageindex.GreaterEqual
)

// ParseOp parses one of = == != <> < <= > >=.
func ParseOp(s string) (Op, error) { return pageindex.ParseOp(s) }

var (
	// ErrUnsupported is returned for queries an index kind cannot answer.
	ErrUnsupported = errors.New("fieldindex: unsupported query")
	// ErrType is returned for values that do not convert to the key type.
	ErrType = errors.New("fieldindex: value does not fit the index type")
)

// Index is the capability shared by all index kinds.
type Index interface {
	// Set indexes value for rec. A nil value is ignored.
	Set(value any, rec int) error
	// Query returns the records whose value compares to value with op.
	// Complements are taken against maxSize records.
	Query(op Op, value any, maxSize int) (*postings.Set, error)
	// Between returns the records whose value lies in [from, to].
	Between(from, to any, maxSize int) (*postings.Set, error)
	// Keys returns the distinct indexed values in order.
	Keys() ([]any, error)
	FreeMemory() error
	SaveIndex() error
	// Shutdown saves and closes the index.
	Shutdown() error
}

// Options configures the persisted index kinds.
type Options struct {
	FS           fs.FileSystem
	Logger       *slog.Logger
	Resources    *resource.Controller
	Codec        codec.Codec
	PageCapacity int
}

// DefaultOptions are used by the Open functions.
var DefaultOptions = Options{
	FS:           fs.Default,
	Codec:        codec.Default,
	PageCapacity: 10000,
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	return opts
}

func (o Options) pageIndex(dups bool) func(*pageindex.Options) {
	return func(po *pageindex.Options) {
		po.FS = o.FS
		po.Logger = o.Logger
		po.Resources = o.Resources
		po.Codec = o.Codec
		po.PageCapacity = o.PageCapacity
		po.AllowDuplicates = dups
	}
}

// Kind selects an index implementation for a field.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindFloat64
	KindString
	KindBool
	KindEnum
	KindFullText
	KindSortableText
)

// OpenKind opens the index of kind k at dir/name.
func OpenKind(k Kind, dir, name string, optFns ...func(o *Options)) (Index, error) {
	var (
		x   Index
		err error
	)
	switch k {
	case KindNone:
		return None{}, nil
	case KindInt32:
		x, err = OpenInt32(dir, name, optFns...)
	case KindInt64:
		x, err = OpenInt64(dir, name, optFns...)
	case KindUint32:
		x, err = OpenUint32(dir, name, optFns...)
	case KindUint64:
		x, err = OpenUint64(dir, name, optFns...)
	case KindFloat64:
		x, err = OpenFloat64(dir, name, optFns...)
	case KindString:
		x, err = OpenString(dir, name, optFns...)
	case KindBool:
		x, err = OpenBool(dir, name, optFns...)
	case KindEnum:
		x, err = OpenEnum(dir, name, optFns...)
	case KindFullText:
		x, err = OpenFullText(dir, name, false, optFns...)
	case KindSortableText:
		x, err = OpenFullText(dir, name, true, optFns...)
	default:
		return nil, fmt.Errorf("%w: unknown index kind %d", ErrUnsupported, k)
	}
	if err != nil {
		return nil, err
	}
	return x, nil
}
