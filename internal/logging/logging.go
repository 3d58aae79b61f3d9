// Package logging
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the process logs. There is no
// process-wide mutable logger; the constructed value is passed down to every
// component that needs it.
type Options struct {
	Level   string // debug | info | warn | error
	File    string // rotating log file path, empty for stderr-only
	Console bool   // pretty console writer in addition to the file
}

// New builds a zerolog.Logger with optional file rotation.
func New(opts Options) zerolog.Logger {
	var writers []io.Writer

	if opts.Console || opts.File == "" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	logger := zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return logger.Level(parseLevel(opts.Level))
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
