// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured leveled logger used throughout
// the gatekeeper and LLS core. It wraps log/slog the way the rest of the
// codebase expects: a Logger carrying a component name, key/value
// attributes on every call, and a WithError helper for wrapping errors.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Level mirrors slog's levels under the names used across the codebase.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// Config controls logger construction.
type Config struct {
	Level  Level
	JSON   bool
	Output *os.File
}

// DefaultConfig returns the configuration used when none is supplied
// explicitly: info level, human-readable text, stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		JSON:   false,
		Output: os.Stderr,
	}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	slog      *slog.Logger
	component string
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{slog: slog.New(handler)}
}

var defaultLogger = New(DefaultConfig())

// SetDefault replaces the package-wide default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// WithComponent returns a Logger tagged with the given component name,
// derived from the current default logger.
func WithComponent(component string) *Logger {
	return defaultLogger.WithComponent(component)
}

// WithComponent returns a copy of l tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{slog: l.slog.With("component", component), component: component}
}

// WithError returns a copy of l with an "err" attribute set, for chaining
// into a level call: logger.WithError(err).Warn("...").
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{slog: l.slog.With("err", err.Error()), component: l.component}
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(context.Background(), slog.LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)   { l.log(context.Background(), slog.LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)   { l.log(context.Background(), slog.LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any)  { l.log(context.Background(), slog.LevelError, msg, kv) }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, kv []any) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Log(ctx, level, msg, kv...)
}
