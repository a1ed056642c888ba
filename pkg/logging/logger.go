// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the structured loggers used by the guide server
// and CLI.
//
// A Logger writes to stderr and, optionally, to a daily JSON log file:
//
//	logger, err := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "guide",
//	    LogDir:  "~/.aleutian/guide/logs",
//	})
//	if err != nil { ... }
//	defer logger.Close()
//
//	slog.SetDefault(logger.Slog())
//
// # Output Format
//
// With FormatAuto (the default) stderr gets human-readable text when it is
// attached to a terminal and JSON otherwise, so container logs stay
// machine-parseable without extra flags. File output is always JSON.
//
// # Security Considerations
//
// Nothing is redacted automatically. Callers log token presence, never the
// token itself.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Levels and Formats
// =============================================================================

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR" or "UNKNOWN".
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

func (l Level) slogLevel() slog.Level {
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

// ParseLevel converts a level name such as "debug" or "WARN" into a Level.
// An empty string yields LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Format selects the encoding used for the console stream.
type Format string

const (
	FormatAuto Format = ""
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs Info and above to stderr.
type Config struct {
	Level Level

	// Service is attached to every record as the "service" attribute and
	// names the log file.
	Service string

	// Format of the console stream. FormatAuto picks text for terminals.
	Format Format

	// LogDir enables a JSON log file named "{Service}_{YYYY-MM-DD}.log".
	// A leading ~ is expanded to the home directory.
	LogDir string

	// Quiet disables console output. Ignored when no file is configured.
	Quiet bool

	// Output overrides stderr as the console stream. Used by tests.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps a slog.Logger and owns the optional log file.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	slog  *slog.Logger
	level *slog.LevelVar
	file  *os.File
	path  string
	mu    sync.Mutex
}

// New builds a Logger from cfg. The returned Logger must be closed when a
// log file is configured.
func New(cfg Config) (*Logger, error) {
	level := new(slog.LevelVar)
	level.Set(cfg.Level.slogLevel())
	opts := &slog.HandlerOptions{Level: level}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	logger := &Logger{level: level}
	var handlers []slog.Handler

	if cfg.LogDir != "" {
		file, path, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			return nil, err
		}
		logger.file = file
		logger.path = path
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	if !cfg.Quiet || len(handlers) == 0 {
		handlers = append(handlers, consoleHandler(out, cfg.Format, opts))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	logger.slog = slog.New(handler)
	return logger, nil
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetLevel changes the minimum level of every handler at runtime.
func (l *Logger) SetLevel(level Level) {
	if l.level != nil {
		l.level.Set(level.slogLevel())
	}
}

// FilePath returns the log file path, or "" when file logging is off.
func (l *Logger) FilePath() string {
	return l.path
}

// Close syncs and closes the log file. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// consoleHandler picks the console encoding for out.
func consoleHandler(out io.Writer, format Format, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(out, opts)
	case FormatText:
		return slog.NewTextHandler(out, opts)
	}
	if isTerminal(out) {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func openLogFile(dir, service string) (*os.File, string, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, "", fmt.Errorf("create log directory: %w", err)
	}
	if service == "" {
		service = "guide"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	return file, path, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// =============================================================================
// Multi-Handler
// =============================================================================

// multiHandler fans records out to several handlers.
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
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
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
