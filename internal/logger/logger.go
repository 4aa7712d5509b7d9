package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the zerolog logger handed to tman components and the log file
// behind it, if any
type Logger struct {
	logger   zerolog.Logger
	file     *os.File
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string    // debug, info, warn, error
	File      string    // log file path
	Console   bool      // enable console output
	Pretty    bool      // pretty format for console
	Redaction bool      // enable credential redaction
	Secrets   []string  // literal values always redacted, e.g. the registry token
	Out       io.Writer // console destination, stderr when nil
}

// New creates a logger from cfg and installs it as the global logger.
// Command output goes to stdout, so console logs default to stderr.
func New(cfg Config) (*Logger, error) {
	l := &Logger{}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(cfg.Out, cfg.Pretty))
	}
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		l.file = file
		sinks = append(sinks, file)
	}

	out := combine(sinks)
	if cfg.Redaction {
		l.redactor = NewRedactor()
		for _, secret := range cfg.Secrets {
			l.redactor.AddSecret(secret)
		}
		out = l.redactor.Wrap(out)
	}

	l.logger = zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = l.logger
	return l, nil
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

func consoleSink(out io.Writer, pretty bool) io.Writer {
	if out == nil {
		out = os.Stderr
	}
	if !pretty {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// combine fans out to every sink; with none, logs are dropped
func combine(sinks []io.Writer) io.Writer {
	switch len(sinks) {
	case 0:
		return io.Discard
	case 1:
		return sinks[0]
	}
	return io.MultiWriter(sinks...)
}

// Close closes the log file, if one was opened
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Zerolog returns the logger handed to components
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns a console logger at info level with redaction on
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}
