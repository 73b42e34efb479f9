// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for the knowledge graph
// service and its CLI.
//
// The logger is built on log/slog and fans records out to several
// destinations:
//
//   - stderr, text or JSON (default)
//   - a size-rotated JSON file managed by lumberjack (optional)
//   - a LogExporter, fed from the same handler chain (optional)
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.aleutian/kg/logs",
//	    Service: "kg",
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// Library packages in this module take a *slog.Logger; pass logger.Slog()
// or rely on slog.Default() after SetDefault. Records logged with the
// *Context methods carry their context to the exporter, which is how
// SpanEventExporter finds the active span.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
//
// # Security Considerations
//
// Nothing is redacted automatically. Do not log API keys or document text.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity. Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for lifecycle events such as graph builds and deletes.
	LevelInfo

	// LevelWarn is for degraded operation, e.g. an extraction backend
	// failing and the pattern-only result being used instead.
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into a Level. Unknown values map to LevelInfo and return false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures the Logger. The zero value writes Info and above to
// stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging. The file "{Service}.log" inside LogDir
	// is written as JSON and rotated by size. Supports ~ expansion.
	LogDir string

	// MaxSizeMB is the size at which the log file is rotated. Default: 50.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 5.
	MaxBackups int

	// MaxAgeDays removes rotated files older than this. Default: 14.
	MaxAgeDays int

	// Service is attached to every entry as the "service" attribute.
	Service string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Quiet disables stderr output.
	Quiet bool

	// Exporter optionally receives every entry at or above Level,
	// synchronously from the logging call.
	Exporter LogExporter

	// Output overrides stderr. Used by tests.
	Output io.Writer
}

// LogExporter ships log entries to an external system.
//
// Export is called on the logging goroutine and must not block. Flush and
// Close are called once during Logger.Close.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the exported form of a log record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// Logger provides structured logging with multi-destination output.
//
// Always Close it so the rotated file and the exporter are flushed.
type Logger struct {
	slog     *slog.Logger
	rotator  *lumberjack.Logger
	exporter LogExporter
	mu       sync.Mutex
}

// New creates a Logger from config.
//
// Description:
//
//	Builds the stderr handler, the optional lumberjack-backed file handler
//	and the optional export handler, then fans records out to all of them.
//	Failure to create LogDir is reported on stderr and file logging is
//	skipped.
//
// Inputs:
//
//	config - Logger configuration.
//
// Outputs:
//
//	*Logger - Ready to use. Caller must Close it.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	var handlers []slog.Handler

	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{
		exporter: config.Exporter,
	}

	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			fmt.Fprintf(os.Stderr, "logging: create log dir %s: %v\n", dir, err)
		} else {
			name := config.Service
			if name == "" {
				name = "kg"
			}
			logger.rotator = &lumberjack.Logger{
				Filename:   filepath.Join(dir, name+".log"),
				MaxSize:    orDefault(config.MaxSizeMB, 50),
				MaxBackups: orDefault(config.MaxBackups, 5),
				MaxAge:     orDefault(config.MaxAgeDays, 14),
				Compress:   true,
			}
			handlers = append(handlers, slog.NewJSONHandler(logger.rotator, opts))
		}
	}

	if config.Exporter != nil {
		handlers = append(handlers, &exportHandler{
			exporter: config.Exporter,
			level:    config.Level.toSlogLevel(),
			service:  config.Service,
		})
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Slog returns the underlying *slog.Logger for packages that accept one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and closes the rotated log file.
// Returns the first error encountered.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}
	if l.rotator != nil {
		if err := l.rotator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// multiHandler fans records out to several slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
