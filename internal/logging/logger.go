package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logFileMaxSizeMB is the size at which the log file is rotated.
	logFileMaxSizeMB = 50

	// logFileMaxBackups is the number of rotated files kept on disk.
	logFileMaxBackups = 5

	// logFileMaxAgeDays is how long rotated files are kept.
	logFileMaxAgeDays = 28
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	return newLogger(env, os.Stdout)
}

// NewFileLogger is NewLogger with output also written to a rotating log
// file at path. An empty path behaves like NewLogger. The returned closer
// flushes and closes the file.
func NewFileLogger(env, path string) (*slog.Logger, io.Closer) {
	if path == "" {
		return NewLogger(env), io.NopCloser(nil)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	}

	return newLogger(env, io.MultiWriter(os.Stdout, file)), file
}

func newLogger(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
