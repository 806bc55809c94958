// Package logging provides leveled logging to per-level files and the
// console, in the shape of the original hand-rolled logger but backed by
// zap so format and structured fields come from the ecosystem instead of
// a bespoke io.MultiWriter. Log files are appended to and never rotated.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger offers Info/Warning/Error sinks, each mirrored to stdout/stderr
// and to its own file under logDir, plus structured helpers for callers
// that want attached fields (request id, source, etc).
type Logger struct {
	base   *zap.Logger
	logDir string
	mu     sync.Mutex
	files  map[string]*os.File
}

// New creates a Logger rooted at logDir, creating the directory if needed.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &Logger{logDir: logDir, files: make(map[string]*os.File)}

	infoFile, err := l.openLogFile("info.log")
	if err != nil {
		return nil, err
	}
	warnFile, err := l.openLogFile("warning.log")
	if err != nil {
		return nil, err
	}
	errFile, err := l.openLogFile("error.log")
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), infoLevel()),
		zapcore.NewCore(encoder, zapcore.AddSync(infoFile), infoLevel()),
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), warnLevel()),
		zapcore.NewCore(encoder, zapcore.AddSync(warnFile), warnLevel()),
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), errLevel()),
		zapcore.NewCore(encoder, zapcore.AddSync(errFile), errLevel()),
	)

	l.base = zap.New(core)
	return l, nil
}

func infoLevel() zapcore.LevelEnabler {
	return zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl == zapcore.InfoLevel })
}

func warnLevel() zapcore.LevelEnabler {
	return zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl == zapcore.WarnLevel })
}

func errLevel() zapcore.LevelEnabler {
	return zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= zapcore.ErrorLevel })
}

func (l *Logger) openLogFile(name string) (*os.File, error) {
	path := filepath.Join(l.logDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	l.mu.Lock()
	l.files[name] = f
	l.mu.Unlock()
	return f, nil
}

// Info writes a formatted info-level entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.base.Info(fmt.Sprintf(format, v...))
}

// Warning writes a formatted warning-level entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.base.Warn(fmt.Sprintf(format, v...))
}

// Error writes a formatted error-level entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.base.Error(fmt.Sprintf(format, v...))
}

// With returns a child logger carrying the given structured fields on every
// subsequent call (e.g. a request id).
func (l *Logger) With(fields ...zap.Field) *zap.Logger {
	return l.base.With(fields...)
}

// CleanLogs truncates the named log file (info.log, warning.log, error.log).
func (l *Logger) CleanLogs(name string) error {
	l.mu.Lock()
	f, ok := l.files[name]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown log file %q", name)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", name, err)
	}
	_, err := f.Seek(0, 0)
	return err
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

// LogDir reports the directory logs are written to.
func (l *Logger) LogDir() string {
	return l.logDir
}
