// Package logger holds the process-wide structured logger of the eptable
// command line tools.
package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// L is the global logger instance. It discards all output until Init
// enables it.
var L = slog.New(slog.DiscardHandler)

var file *os.File

const (
	defaultName   = "eptable"
	logSuffix     = ".log"
	retentionDays = 30
)

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Name    string     // Tool name, used for the file prefix. Default: eptable
	LogDir  string     // Directory for log files. Default: ~/.<name>/logs
	Level   slog.Level // Minimum log level. Default: LevelInfo
}

// Init configures logging. Call from main or a command before any log
// calls. Records go to one JSON file per day under opts.LogDir.
func Init(opts Options) error {
	Close()
	if !opts.Enabled {
		return nil
	}

	name := opts.Name
	if name == "" {
		name = defaultName
	}
	logDir := opts.LogDir
	if logDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		logDir = filepath.Join(home, "."+name, "logs")
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	prefix := name + "-"
	// Best effort
	cleanOldLogs(logDir, prefix, time.Now())

	filename := filepath.Join(logDir, prefix+time.Now().Format("2006-01-02")+logSuffix)
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f

	L = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: opts.Level}))
	return nil
}

// Close syncs and closes the current log file, if any, and discards
// further output.
func Close() {
	L = slog.New(slog.DiscardHandler)
	if file == nil {
		return
	}
	_ = file.Sync()
	_ = file.Close()
	file = nil
}

// cleanOldLogs removes log files older than retentionDays.
func cleanOldLogs(logDir, prefix string, now time.Time) {
	cutoff := now.AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}

		// eptctl-2024-01-05.log
		dateStr := strings.TrimPrefix(strings.TrimSuffix(name, logSuffix), prefix)
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			os.Remove(filepath.Join(logDir, name))
		}
	}
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }
