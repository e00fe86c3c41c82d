// Package logger holds the process-wide slog logger of taskdb.
//
// Initialize it once at startup from the [logging] section:
//
//	logFile, err := logger.Initialize(cfg.Logging)
//	if logFile != nil {
//		defer logFile.Close()
//	}
//
// Every line carries a component and, for database events, the tier:
//
//	logger.Warn("Database tier unavailable, trying next tier",
//		"component", "TIERED-DB",
//		"tier", "primary",
//		"next_tier", "secondary",
//		"error", err,
//	)
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/migadu/taskdb/config"
)

var globalLogger atomic.Pointer[slog.Logger]

// Initialize installs the global logger described by cfg. Output is "stderr"
// (default), "stdout", "syslog" or a file path; format is "console" or "json".
// When output is a file, the opened file is returned for the caller to close.
// An output that cannot be opened falls back to stderr and is reported as an
// error alongside the working logger.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	w, logFile, err := openOutput(cfg.Output)
	if err != nil {
		w = os.Stderr
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	globalLogger.Store(l)
	slog.SetDefault(l)

	if err != nil {
		return nil, fmt.Errorf("log output %q unavailable, using stderr: %w", cfg.Output, err)
	}
	return logFile, nil
}

func openOutput(output string) (io.Writer, *os.File, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	case "syslog":
		if runtime.GOOS == "windows" {
			return nil, nil, fmt.Errorf("syslog is not supported on %s", runtime.GOOS)
		}
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "taskdb")
		if err != nil {
			return nil, nil, err
		}
		return w, nil, nil
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

func parseLogLevel(level string) slog.Level {
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

// SetLogger replaces the global logger and returns the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	return globalLogger.Swap(l)
}

// Get returns the global logger, or slog's default before Initialize.
func Get() *slog.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Sync is a no-op for slog handlers; the process calls it before closing the log file.
func Sync() error {
	return nil
}
