package config

import (
	"io"
	"log/slog"

	"github.com/MatusOllah/slogcolor"
)

// Log output formats.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatColor = "color"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to Info.
func (c Config) SlogLevel() slog.Level {
	if lvl, ok := logLevels[c.LogLevel]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger for the configured format.
//
//   - text:  slog.TextHandler, key=value lines
//   - json:  slog.JSONHandler, one object per line for log shippers
//   - color: slogcolor, for a developer's terminal
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level := c.SlogLevel()

	var h slog.Handler
	switch c.LogFormat {
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatColor:
		opts := *slogcolor.DefaultOptions
		opts.Level = level
		h = slogcolor.NewHandler(w, &opts)
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}
