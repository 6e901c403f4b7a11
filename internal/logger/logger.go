// Package logger wraps a process-wide zap logger. Init sets the level and
// optional rotating file output; until Init is called a stdout info
// logger is used.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu       sync.Mutex
	log      *zap.Logger
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	out      = zapcore.Lock(zapcore.AddSync(os.Stdout))
	file     io.WriteCloser
)

// Options configures Init.
type Options struct {
	Level string // debug, info (default), warn, error
	JSON  bool   // JSON encoder instead of console
	// File, when set, receives a copy of every entry with size-based
	// rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func rebuildLocked(opts Options) {
	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, out, logLevel)}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), logLevel))
	}

	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
}

// ParseLevel maps a level name to a zap level; unknown names yield info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init (re)configures the global logger. Safe for concurrent use.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	logLevel.SetLevel(ParseLevel(opts.Level))

	if file != nil {
		_ = file.Close()
		file = nil
	}
	if opts.File != "" {
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
	}
	rebuildLocked(opts)
}

// SetOutput redirects console output. Nil restores stdout. Tests use it
// to capture entries.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		out = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		out = zapcore.Lock(zapcore.AddSync(w))
	}
	rebuildLocked(Options{JSON: true})
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Logger returns the current zap.Logger, creating a default one lazily.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		rebuildLocked(Options{})
	}
	return log
}

// Sync flushes buffered entries and closes the log file.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if log != nil {
		_ = log.Sync()
	}
	if file != nil {
		_ = file.Close()
		file = nil
	}
}

func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Logger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Logger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
}
