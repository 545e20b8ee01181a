package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

var logrusLevels = map[LogLevel]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
	LevelFatal: logrus.FatalLevel,
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

// ParseLevel maps a case-insensitive level name to a LogLevel, falling back to info.
func ParseLevel(raw string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for level, levelName := range levelNames {
		if levelName == name {
			return level
		}
	}
	return LevelInfo
}

type Logger struct {
	entry *logrus.Logger
}

func NewLogger(level LogLevel) *Logger {
	return newLogger(os.Stdout, level)
}

func newLogger(out io.Writer, level LogLevel) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrusLevels[level])
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   true,
	})
	return &Logger{entry: l}
}

// SetLevel changes the minimum level that is emitted.
func (l *Logger) SetLevel(level LogLevel) {
	l.entry.SetLevel(logrusLevels[level])
}

// Level returns the minimum level that is emitted.
func (l *Logger) Level() LogLevel {
	for level, lr := range logrusLevels {
		if lr == l.entry.GetLevel() {
			return level
		}
	}
	return LevelInfo
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

// WithFields returns a structured entry carrying the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry.WithFields(logrus.Fields(fields))
}

// FileLogger writes log lines to a file instead of stdout.
type FileLogger struct {
	*Logger
	file *os.File
}

func NewFileLogger(logFile string, level LogLevel) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &FileLogger{
		Logger: newLogger(file, level),
		file:   file,
	}, nil
}

func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var globalLogger *Logger

// InitLogger replaces the global logger.
func InitLogger(level LogLevel) {
	globalLogger = NewLogger(level)
}

// SetGlobal installs an already configured logger as the global one.
func SetGlobal(l *Logger) {
	if l != nil {
		globalLogger = l
	}
}

func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(ParseLevel(os.Getenv("LOG_LEVEL")))
	}
	return globalLogger
}

func Debug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().Fatal(format, args...)
}

// WithComponent tags log lines with the emitting component.
func WithComponent(component string) *logrus.Entry {
	return GetLogger().WithFields(map[string]interface{}{
		"component": component,
	})
}

// WithJob tags log lines with a job and its owning batch.
func WithJob(batchID, jobID string) *logrus.Entry {
	return GetLogger().WithFields(map[string]interface{}{
		"batch_id": batchID,
		"job_id":   jobID,
	})
}

// WithBatch tags log lines with a batch id.
func WithBatch(batchID string) *logrus.Entry {
	return GetLogger().WithFields(map[string]interface{}{
		"batch_id": batchID,
	})
}
