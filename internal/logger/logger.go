package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LevelCritical marks failures that leave the detector unusable, such as an
// event source that could not be opened after every retry.
const LevelCritical = slog.Level(12)

var levelNames = map[slog.Leveler]string{
	LevelCritical: "CRITICAL",
}

var levelNamesTerm = map[slog.Leveler]string{
	LevelCritical: "\u001B[35m" + "CRT" + "\u001B[0m",
}

// Level is the process wide log level, adjustable after start.
var Level = &slog.LevelVar{}

var defaultLogger *slog.Logger

func init() {
	// Default to text handler with info level
	Level.Set(slog.LevelInfo)

	if os.Getenv("SFPWATCH_QUIET") != "" {
		Level.Set(slog.LevelWarn)
	}
	if os.Getenv("SFPWATCH_DEBUG") != "" {
		Level.Set(slog.LevelDebug)
	}

	defaultLogger = slog.New(newHandler(os.Stderr, os.Getenv("SFPWATCH_LOG_FORMAT")))
	slog.SetDefault(defaultLogger)
}

// Get returns the default logger
func Get() *slog.Logger {
	return defaultLogger
}

// SetLevelByName adjusts Level from a config value. Unknown names are ignored.
func SetLevelByName(name string) {
	switch strings.ToLower(name) {
	case "debug":
		Level.Set(slog.LevelDebug)
	case "info":
		Level.Set(slog.LevelInfo)
	case "warn", "warning":
		Level.Set(slog.LevelWarn)
	case "err", "error":
		Level.Set(slog.LevelError)
	case "crit", "critical":
		Level.Set(LevelCritical)
	}
}

// Critical logs at LevelCritical.
func Critical(l *slog.Logger, msg string, args ...any) {
	if l == nil {
		l = defaultLogger
	}
	l.Log(context.Background(), LevelCritical, msg, args...)
}

func newHandler(w io.Writer, format string) slog.Handler {
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       Level,
			ReplaceAttr: replaceLevel,
		})
	case "text":
		return newTextHandler(w)
	}

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return tint.NewHandler(w, &tint.Options{
			Level:      Level,
			TimeFormat: "15:04:05.000",
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey {
					if s, ok := levelNamesTerm[a.Value.Any().(slog.Level)]; ok {
						return slog.String(a.Key, s)
					}
				}
				return a
			},
		})
	}
	return newTextHandler(w)
}

func newTextHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       Level,
		ReplaceAttr: replaceLevel,
	})
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	if s, ok := levelNames[lvl]; ok {
		return slog.String(a.Key, s)
	}
	return a
}
