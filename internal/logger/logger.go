package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Logger is a levelled printf-style logger backed by zap.
type Logger struct {
	mu       sync.Mutex
	level    zap.AtomicLevel
	sugar    *zap.SugaredLogger
	filePath string
}

func New(level string) *Logger {
	atomic := zap.NewAtomicLevelAt(ParseLevel(level).zapLevel())
	l := &Logger{level: atomic}
	l.sugar = build(atomic, []string{"stdout"})
	return l
}

func NewFromEnv() *Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}

	logger := New(level)

	logFile := os.Getenv("LOG_FILE")
	if logFile != "" {
		if err := logger.SetLogFile(logFile); err != nil {
			logger.Warn("Failed to open log file %s: %v", logFile, err)
		}
	}

	return logger
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		level: zap.NewAtomicLevelAt(zapcore.ErrorLevel),
		sugar: zap.NewNop().Sugar(),
	}
}

func build(level zap.AtomicLevel, outputs []string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = outputs
	cfg.ErrorOutputPaths = []string{"stderr"}

	z, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return z.Sugar()
}

// SetLogFile mirrors output to filePath in addition to stdout.
func (l *Logger) SetLogFile(filePath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	file.Close()

	l.sugar = build(l.level, []string{"stdout", filePath})
	l.filePath = filePath

	return nil
}

func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(ParseLevel(level).zapLevel())
}

func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(level.zapLevel())
}

func (l *Logger) Sync() error {
	return l.current().Sync()
}

func (l *Logger) current() *zap.SugaredLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sugar
}

func (l *Logger) log(level Level, kv []interface{}, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	s := l.current()
	msg := fmt.Sprintf(format, args...)

	switch level {
	case LevelError:
		s.Errorw(msg, kv...)
	case LevelWarn:
		s.Warnw(msg, kv...)
	case LevelDebug:
		s.Debugw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, nil, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, nil, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, nil, format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, nil, format, args...)
}

func (l *Logger) WithFields(fields map[string]interface{}) *Entry {
	return &Entry{
		logger: l,
		fields: fields,
	}
}

// Entry carries structured fields that are attached to every message it logs.
type Entry struct {
	logger *Logger
	fields map[string]interface{}
}

func (e *Entry) keyValues() []interface{} {
	if len(e.fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(e.fields))
	for key := range e.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(keys)*2)
	for _, key := range keys {
		kv = append(kv, key, e.fields[key])
	}
	return kv
}

func (e *Entry) Error(format string, args ...interface{}) {
	e.logger.log(LevelError, e.keyValues(), format, args...)
}

func (e *Entry) Warn(format string, args ...interface{}) {
	e.logger.log(LevelWarn, e.keyValues(), format, args...)
}

func (e *Entry) Info(format string, args ...interface{}) {
	e.logger.log(LevelInfo, e.keyValues(), format, args...)
}

func (e *Entry) Debug(format string, args ...interface{}) {
	e.logger.log(LevelDebug, e.keyValues(), format, args...)
}
