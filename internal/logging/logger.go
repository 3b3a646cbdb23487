// Package logging provides leveled, structured logging for p2term-core,
// backed by zap.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel mirrors zap's levels under names the rest of the codebase calls
// by.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration. JSON selects zap's JSON encoder
// (suited to piping into traffic-dump / reset-history tooling); the
// default console encoder is for interactive terminal use.
type Config struct {
	Level  LogLevel
	Output io.Writer
	JSON   bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Logger wraps a zap.SugaredLogger with the level-named call sites the
// rest of the codebase uses.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// NewLogger constructs a Logger from config, defaulting config if nil.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if config.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), config.Level.zapLevel())
	return &Logger{sugar: zap.New(core).Sugar()}
}

// Default returns the process default logger, creating it on first use.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func (l *Logger) Debugw(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Sync flushes any buffered log entries; callers should invoke it on
// shutdown.
func (l *Logger) Sync() error { return l.sugar.Sync() }

func Debugw(msg string, kv ...any) { Default().Debugw(msg, kv...) }
func Infow(msg string, kv ...any)  { Default().Infow(msg, kv...) }
func Warnw(msg string, kv ...any)  { Default().Warnw(msg, kv...) }
func Errorw(msg string, kv ...any) { Default().Errorw(msg, kv...) }
