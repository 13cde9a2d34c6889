// Package log provides the process logging used by the CLI, the executor
// and the sandbox runner. Per-node log entries collected from node runs
// are engine.LogEntry values, not written through this package.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level constants. These also label individual node log entries
// collected over the sandbox wire protocol (spec.md §6, output.json
// "level").
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Default borrows logging utilities from zap. Replace it with any
// implementation of the Logger interface.
var Default Logger = New()

// SetLevel sets the log level to the specified level. Valid levels are:
// "debug", "info", "warn", "error".
func SetLevel(level string) {
	switch level {
	case LevelDebug:
		zapLevel.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		zapLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		zapLevel.SetLevel(zapcore.ErrorLevel)
	default:
		zapLevel.SetLevel(zapcore.InfoLevel)
	}
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalColorLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// Logger is the logging interface behind Default. The executor and the
// sandbox runner log through the package-level functions, which write to
// Default; replacing Default (e.g. with a recording logger in a test)
// redirects their output.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	// With returns a child logger carrying the given structured key/value
	// pairs on every subsequent call (e.g. run_id, node_id).
	With(keysAndValues ...any) Logger
}

// sugaredLogger adapts *zap.SugaredLogger to Logger.
type sugaredLogger struct {
	s *zap.SugaredLogger
}

// New builds a fresh zap-backed Logger writing to stderr. Every Logger
// built by New shares the package's atomic level, so SetLevel affects all
// of them.
func New() Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		zapLevel,
	)
	return &sugaredLogger{s: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}
}

func (l *sugaredLogger) Debug(args ...any)                  { l.s.Debug(args...) }
func (l *sugaredLogger) Debugf(format string, args ...any)  { l.s.Debugf(format, args...) }
func (l *sugaredLogger) Info(args ...any)                   { l.s.Info(args...) }
func (l *sugaredLogger) Infof(format string, args ...any)   { l.s.Infof(format, args...) }
func (l *sugaredLogger) Warn(args ...any)                   { l.s.Warn(args...) }
func (l *sugaredLogger) Warnf(format string, args ...any)   { l.s.Warnf(format, args...) }
func (l *sugaredLogger) Error(args ...any)                  { l.s.Error(args...) }
func (l *sugaredLogger) Errorf(format string, args ...any)  { l.s.Errorf(format, args...) }

func (l *sugaredLogger) With(keysAndValues ...any) Logger {
	return &sugaredLogger{s: l.s.With(keysAndValues...)}
}

// Debug logs to the process-wide Default logger.
func Debug(args ...any) { Default.Debug(args...) }

// Debugf logs to the process-wide Default logger with formatting.
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }

// Info logs to the process-wide Default logger.
func Info(args ...any) { Default.Info(args...) }

// Infof logs to the process-wide Default logger with formatting.
func Infof(format string, args ...any) { Default.Infof(format, args...) }

// Warn logs to the process-wide Default logger.
func Warn(args ...any) { Default.Warn(args...) }

// Warnf logs to the process-wide Default logger with formatting.
func Warnf(format string, args ...any) { Default.Warnf(format, args...) }

// Error logs to the process-wide Default logger.
func Error(args ...any) { Default.Error(args...) }

// Errorf logs to the process-wide Default logger with formatting.
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }
