// Package logging builds the zap logger used across recalld.
//
// Output always goes to stderr: in stdio mode stdout carries protocol
// frames, and a single stray log line there corrupts the transport.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and encoding.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is json or console.
	Format string
}

// New constructs a logger per cfg.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or console)", cfg.Format)
	}

	out := zapcore.Lock(os.Stderr)
	core := zapcore.NewCore(enc, out, level)
	return zap.New(core, zap.ErrorOutput(out)), nil
}

// ParseLevel maps a config level string to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Sync flushes buffered entries. Syncing a terminal-backed stderr
// returns EINVAL or ENOTTY on Linux; those are not real failures.
func Sync(l *zap.Logger) error {
	if l == nil {
		return nil
	}
	err := l.Sync()
	if err == nil || isTerminalSyncError(err) {
		return nil
	}
	return err
}

func isTerminalSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
