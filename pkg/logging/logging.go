// Package logging sets up the structured logger shared by the pipeline and
// the command line tool. Each run writes to its own timestamped file under
// the configured log directory, mirrored to the console, with sensitive
// values redacted on both sinks.
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

// Options configures the structured logger.
type Options struct {
	// Dir is the directory for per-run log files. Empty disables the file sink.
	Dir string
	// Level is the minimum level written to either sink.
	Level zerolog.Level
	// Redact enables scrubbing of sensitive values; ArchiveRoot and Users
	// feed the redactor, see NewRedactingWriter.
	Redact      bool
	ArchiveRoot string
	Users       []string
	// Console receives the human readable mirror, os.Stderr when nil.
	Console io.Writer
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	levelString := strings.ToLower(strings.TrimSpace(value))
	if levelString == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(levelString); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}

// New builds the run logger. The returned closer flushes and closes the log
// file and must be called on shutdown.
func New(opts Options) (zerolog.Logger, func() error, error) {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: "15:04:05",
	}}
	closer := func() error { return nil }

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0750); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("favarch-%s.log", time.Now().Format("20060102-150405"))
		file, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
		closer = file.Close
	}

	var output io.Writer = zerolog.MultiLevelWriter(writers...)
	if opts.Redact {
		output = NewRedactingWriter(output, opts.ArchiveRoot, opts.Users)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(output).With().Timestamp().Logger().Level(opts.Level)
	return logger, closer, nil
}
