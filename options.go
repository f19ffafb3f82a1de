package inkdex

import (
	"log/slog"
	"time"

	"github.com/hupe1980/inkdex/codec"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/resource"
	"github.com/hupe1980/inkdex/lexical"
)

type options struct {
	name             string
	documents        bool
	fs               fs.FileSystem
	codec            codec.Codec
	tokenizer        lexical.Tokenizer
	metricsCollector MetricsCollector
	logger           *Logger
	resources        *resource.Controller
	autoSaveInterval time.Duration
	pageCapacity     int
	freeMemoryOnSave bool
}

// Option configures Open.
type Option func(*options)

// WithName sets the base name of the word and postings files.
// The default is "words".
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithoutDocuments opens the index in record mode: callers index raw record
// numbers with IndexText and query with Query. No document store, deletion
// bitmap or statistics store is kept.
func WithoutDocuments() Option {
	return func(o *options) {
		o.documents = false
	}
}

// WithFileSystem replaces the local file system, mostly for fault injection
// in tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithCodec configures the codec used to persist documents and statistics.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithTokenizer configures how text is split into terms.
//
// If nil is passed, lexical.DefaultTokenizer is used.
func WithTokenizer(t lexical.Tokenizer) Option {
	return func(o *options) {
		if t == nil {
			t = lexical.DefaultTokenizer
		}
		o.tokenizer = t
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &inkdex.BasicMetricsCollector{}
//	idx, _ := inkdex.Open("./data", inkdex.WithMetricsCollector(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, Avg latency: %dns\n", stats.QueryCount, stats.QueryAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := inkdex.NewJSONLogger(slog.LevelInfo)
//	idx, _ := inkdex.Open("./data", inkdex.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController shares memory accounting, background slots and
// maintenance IO limits with other indexes.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithAutoSaveInterval sets how often the document store persists its key
// index in the background. Zero disables the timer.
func WithAutoSaveInterval(d time.Duration) Option {
	return func(o *options) {
		o.autoSaveInterval = d
	}
}

// WithPageCapacity sets the number of keys per page of the document key
// index.
func WithPageCapacity(n int) Option {
	return func(o *options) {
		o.pageCapacity = n
	}
}

// WithFreeMemoryOnSave drops cached postings after every Save.
func WithFreeMemoryOnSave(enabled bool) Option {
	return func(o *options) {
		o.freeMemoryOnSave = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		name:             "words",
		documents:        true,
		fs:               fs.Default,
		codec:            codec.Default,
		tokenizer:        lexical.DefaultTokenizer,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		autoSaveInterval: time.Minute,
		pageCapacity:     10000,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
