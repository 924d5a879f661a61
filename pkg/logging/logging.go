// Package logging configures the process-wide slog logger.
//
// Console output goes through a charmbracelet/log handler in text mode or
// the slog JSON handler in json mode. When a file path is set, output is
// also written to a rotating file. client-go's klog output is routed into
// the same logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/klog/v2"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds configuration for logger initialization
type Config struct {
	Level  slog.Level
	Format LogFormat
	// FilePath adds a rotating log file next to console output
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	// Output is the console writer, os.Stderr when nil
	Output io.Writer
}

var (
	mu      sync.Mutex
	rotator *lumberjack.Logger
)

// Init builds the logger described by config, makes it the slog default and
// routes klog into it. It returns the writer the logger uses so HTTP access
// logs can share the same sink.
func Init(config Config) (*slog.Logger, io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stderr
	if config.Output != nil {
		w = config.Output
	}
	if rotator != nil {
		rotator.Close()
		rotator = nil
	}
	if config.FilePath != "" {
		maxSize := config.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		rotator = &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxSize,
			MaxBackups: config.MaxBackups,
			Compress:   true,
		}
		w = io.MultiWriter(w, rotator)
	}

	logger := slog.New(NewHandler(w, config.Format, config.Level))
	slog.SetDefault(logger)
	klog.SetSlogLogger(logger.With("component", "client-go"))
	return logger, w
}

// NewHandler returns the slog handler for format.
func NewHandler(w io.Writer, format LogFormat, level slog.Level) slog.Handler {
	if format == FormatJSON {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return charmlog.NewWithOptions(w, charmlog.Options{
		Level:           charmlog.Level(level),
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	})
}

// Shutdown closes the log file, if any.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

// ParseLevel converts a string to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat converts a string to LogFormat
func ParseFormat(format string) LogFormat {
	if strings.ToLower(format) == "json" {
		return FormatJSON
	}
	return FormatText
}
