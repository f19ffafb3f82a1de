package inkdex

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with inkdex-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithIndex adds the index name to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", name),
	}
}

// LogIndex logs the indexing of one document.
func (l *Logger) LogIndex(key string, docNum, terms int, err error) {
	if err != nil {
		l.Error("index failed",
			"key", key,
			"error", err,
		)
	} else {
		l.Debug("index completed",
			"key", key,
			"doc", docNum,
			"terms", terms,
		)
	}
}

// LogBatchIndex logs a batch indexing run.
func (l *Logger) LogBatchIndex(count, failed int) {
	if failed > 0 {
		l.Warn("batch index completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.Info("batch index completed",
			"count", count,
		)
	}
}

// LogQuery logs a query.
func (l *Logger) LogQuery(filter string, results int, took time.Duration, err error) {
	if err != nil {
		l.Error("query failed",
			"filter", filter,
			"error", err,
		)
	} else {
		l.Debug("query completed",
			"filter", filter,
			"results", results,
			"took", took,
		)
	}
}

// LogDelete logs a document removal.
func (l *Logger) LogDelete(docNum int, err error) {
	if err != nil {
		l.Error("delete failed",
			"doc", docNum,
			"error", err,
		)
	} else {
		l.Debug("delete completed",
			"doc", docNum,
		)
	}
}

// LogSave logs a save.
func (l *Logger) LogSave(words int, took time.Duration, err error) {
	if err != nil {
		l.Error("save failed",
			"error", err,
		)
	} else {
		l.Info("index saved",
			"words", words,
			"took", took,
		)
	}
}

// LogOptimize logs an optimize pass.
func (l *Logger) LogOptimize(took time.Duration, err error) {
	if err != nil {
		l.Error("optimize failed",
			"error", err,
		)
	} else {
		l.Info("optimize completed",
			"took", took,
		)
	}
}

// LogRecovery logs the re-indexing of documents written after the last save.
func (l *Logger) LogRecovery(replayed int, err error) {
	if err != nil {
		l.Error("recovery failed",
			"replayed", replayed,
			"error", err,
		)
	} else {
		l.Info("recovery completed",
			"replayed", replayed,
		)
	}
}
