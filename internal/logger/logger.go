// Package logger wraps slog with the contextual helpers the rest of the
// service uses for job and album scoped log lines.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a thin wrapper so call sites can chain contextual helpers.
type Logger struct {
	*slog.Logger
}

// Config selects level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// New builds a logger writing to stdout.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Default returns an info-level text logger.
func Default() *Logger {
	return New(Config{Level: "info", Format: "text"})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent tags every line with the owning component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithJob tags lines with the job being worked on.
func (l *Logger) WithJob(jobID, jobType string) *Logger {
	return &Logger{Logger: l.With("job_id", jobID, "job_type", jobType)}
}

// WithAlbum tags lines with the album under consideration.
func (l *Logger) WithAlbum(artist, album string) *Logger {
	return &Logger{Logger: l.With("artist", artist, "album", album)}
}
