package memgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/memgo/aob"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/searcher"
)

// Logger wraps slog.Logger with memgo-specific context.
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

// WithProcess adds a process field to the logger.
func (l *Logger) WithProcess(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("process", name),
	}
}

// WithCatalog adds a catalog field to the logger.
func (l *Logger) WithCatalog(catalog string) *Logger {
	return &Logger{
		Logger: l.Logger.With("catalog", catalog),
	}
}

// LogScan logs a sweep over the process regions.
func (l *Logger) LogScan(ctx context.Context, rep searcher.Report, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scan failed",
			"kind", rep.Kind,
			"scanned", rep.Scanned,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "scan completed",
		"kind", rep.Kind,
		"regions", rep.Regions,
		"skipped", rep.Skipped,
		"found", rep.Found,
		"cancelled", rep.Cancelled,
		"parallel", rep.Parallel,
		"duration", rep.Duration,
	)
}

// LogContinue logs a continuation round.
func (l *Logger) LogContinue(ctx context.Context, rep searcher.Report, err error) {
	if err != nil {
		l.ErrorContext(ctx, "continue failed",
			"checked", rep.Scanned,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "continue completed",
		"checked", rep.Scanned,
		"unreadable", rep.Skipped,
		"found", rep.Found,
		"cancelled", rep.Cancelled,
		"duration", rep.Duration,
	)
}

// LogCapture logs a capture.
func (l *Logger) LogCapture(ctx context.Context, rep searcher.Report, err error) {
	if err != nil {
		l.ErrorContext(ctx, "capture failed",
			"capture", rep.Capture,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "capture saved",
		"capture", rep.Capture,
		"regions", rep.Regions,
		"skipped", rep.Skipped,
		"bytes", rep.Scanned,
		"cancelled", rep.Cancelled,
	)
}

// LogRegionSkipped logs a region that could not be read.
func (l *Logger) LogRegionSkipped(ctx context.Context, r process.Region, err error) {
	l.DebugContext(ctx, "region skipped",
		"region", r.String(),
		"error", err,
	)
}

// LogAOB logs a signature catalog refresh.
func (l *Logger) LogAOB(ctx context.Context, name string, res aob.Result, err error) {
	if err != nil {
		l.WarnContext(ctx, "signature refresh failed",
			"signature", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "signature refreshed",
		"signature", name,
		"candidates", res.Candidates,
		"pruned", res.Pruned,
		"final", res.Final,
	)
}
