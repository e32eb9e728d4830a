package growseg

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/growseg/growseg/model"
)

// Logger wraps slog.Logger with growseg-specific context.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithSegment adds the segment id field to the logger.
func (l *Logger) WithSegment(id int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", id),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, offset, rows int64, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"offset", offset,
			"rows", rows,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"offset", offset,
			"rows", rows,
			"took", took,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"rows", rows,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"rows", rows,
		)
	}
}

// LogSearch logs a vector search operation.
func (l *Logger) LogSearch(ctx context.Context, field model.FieldID, k, resultsFound int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"field", field,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"field", field,
			"k", k,
			"results", resultsFound,
			"took", took,
		)
	}
}

// LogLoad logs a field data or deleted record load.
func (l *Logger) LogLoad(ctx context.Context, what string, rows int64, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"what", what,
			"rows", rows,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "load completed",
			"what", what,
			"rows", rows,
			"took", took,
		)
	}
}

// LogFlush logs a flush to the blob store.
func (l *Logger) LogFlush(ctx context.Context, rows int64, binlogs int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"rows", rows,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "flush completed",
			"rows", rows,
			"binlogs", binlogs,
			"took", took,
		)
	}
}

// LogIndexBuild logs a disk index registration.
func (l *Logger) LogIndexBuild(ctx context.Context, field model.FieldID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index registration failed",
			"field", field,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index registered",
			"field", field,
		)
	}
}
