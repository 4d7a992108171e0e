package annexec

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with annexec-specific context.
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

// WithIndex adds the index type to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", name),
	}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogBuild logs a build, train or add operation.
func (l *Logger) LogBuild(ctx context.Context, op string, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"rows", rows,
			"error", err,
			"status", StatusOf(err).String(),
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"rows", rows,
		)
	}
}

// LogSearch logs a top-k search.
func (l *Logger) LogSearch(ctx context.Context, queries, k int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"queries", queries,
			"k", k,
			"error", err,
			"status", StatusOf(err).String(),
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"queries", queries,
			"k", k,
		)
	}
}

// LogRangeSearch logs a range search. hits is the total number of
// neighbors returned across all queries.
func (l *Logger) LogRangeSearch(ctx context.Context, queries, hits int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "range search failed",
			"queries", queries,
			"error", err,
			"status", StatusOf(err).String(),
		)
	} else {
		l.DebugContext(ctx, "range search completed",
			"queries", queries,
			"hits", hits,
		)
	}
}

// LogSerialize logs a serialization into a binary set.
func (l *Logger) LogSerialize(ctx context.Context, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "serialize failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "serialize completed",
			"bytes", bytes,
		)
	}
}

// LogDeserialize logs a reconstruction from a binary set.
func (l *Logger) LogDeserialize(ctx context.Context, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "deserialize failed",
			"bytes", bytes,
			"error", err,
			"status", StatusOf(err).String(),
		)
	} else {
		l.InfoContext(ctx, "deserialize completed",
			"bytes", bytes,
		)
	}
}

// LogSave logs persisting an index to the blob store.
func (l *Logger) LogSave(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index saved",
			"name", name,
		)
	}
}

// LogLoad logs loading an index from the blob store.
func (l *Logger) LogLoad(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index loaded",
			"name", name,
		)
	}
}
