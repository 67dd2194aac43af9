// Package logging builds the zerolog loggers used by the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FileName is the log file created inside each per-day folder.
const FileName = "automation.log"

// Config controls verbosity and where the log file is written.
type Config struct {
	Level string

	// Dir holds one sub-folder per day. Empty disables the file.
	Dir string

	// Console receives human-readable output, usually os.Stderr.
	Console io.Writer
}

// Setup returns a logger writing to the console and to
// <Dir>/<YYYY-MM-DD>/automation.log. The returned closer releases the file.
func Setup(cfg Config, now time.Time) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var writers []io.Writer
	if cfg.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: cfg.Console, TimeFormat: time.TimeOnly})
	}

	var closer io.Closer = nopCloser{}
	if cfg.Dir != "" {
		f, err := OpenDayFile(cfg.Dir, now)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return logger, closer, nil
}

// OpenDayFile opens (appending) the log file for the day of now.
func OpenDayFile(dir string, now time.Time) (*os.File, error) {
	day := filepath.Join(dir, now.Format(time.DateOnly))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return nil, fmt.Errorf("creating log folder %s: %w", day, err)
	}

	path := filepath.Join(day, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}

// ParseLevel maps a config value to a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
