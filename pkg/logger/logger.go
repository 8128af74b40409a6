// Package logger provides the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // console, json
	File   string `json:"file" mapstructure:"file"`     // log file path, empty means no file

	// Output replaces stderr; mainly for tests.
	Output io.Writer `json:"-" mapstructure:"-"`
}

var (
	globalLogger zerolog.Logger
	logFile      *os.File
	mu           sync.RWMutex
	initialized  bool
)

// parseLevel converts string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init replaces the global logger. Calling it again closes any log file
// the previous call opened.
func Init(config LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	writers := []io.Writer{out}
	if strings.ToLower(config.Format) == "console" {
		writers[0] = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.000",
		}
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(config.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", config.File, err)
		}
		logFile = f
		writers = append(writers, f)
	}

	globalLogger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(config.Level)).
		With().Timestamp().Logger()
	initialized = true
	return nil
}

// Get returns the global logger. Before Init it is an info-level stderr
// logger.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !initialized {
		return zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	}
	return globalLogger
}

// Component returns the global logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Close closes the log file if opened.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}
