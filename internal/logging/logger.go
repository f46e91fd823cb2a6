// Package logging provides structured logging for ordo.
//
// The logger keeps a small printf-style API with optional key-value fields
// and writes through a zap core, either as human-readable console lines or as
// JSON.
//
// Basic Usage
//
// Initialize the logger at startup and pick an output format:
//
//	logging.Initialize("info")
//	logging.SetOutput(os.Stderr, logging.FormatJSON)
//
// Get a named logger for your package:
//
//	logger := logging.GetLogger("system")
//	logger.Info("starting %d components", n)
//
// Structured fields:
//
//	logger.InfoWithFields("component started",
//	    logging.Field("component", id),
//	    logging.Field("duration_ms", elapsed.Milliseconds()),
//	)
//
// Child loggers carry persistent fields:
//
//	runLogger := logger.WithField("run_id", runID)
//
// Context Support
//
// WithContext attaches a context. Trace and span IDs are taken from an active
// OpenTelemetry span, or from the TraceIDKey / SpanIDKey context values.
//
// Per-Package Log Levels
//
//	logging.Initialize("info", map[string]string{
//	    "system":    "debug",
//	    "builtin.*": "warn",
//	})
//
// Exact names win over wildcard patterns; among wildcards the longest
// pattern wins. Packages without an override use the default level.
//
// Testing
//
// LOG_TIMESTAMP overrides the timestamp of every record, and SetOutput can
// point the logger at a buffer.
package logging

import (
	"context"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger *Logger
	initOnce     sync.Once
	// exitFunc is called by Fatal. Tests replace it.
	exitFunc = os.Exit
)

// Initialize sets the default level and optional per-package overrides.
// Unknown level names fall back to INFO.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	globalLogger = &Logger{
		level: level,
		name:  "ordo",
	}

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		if err := SetPackageLogLevels(packageLevels[0]); err != nil {
			return err
		}
	}
	return nil
}

// GetLogger returns a logger with the given name. The first call initializes
// the package at INFO if Initialize has not run.
func GetLogger(name string) *Logger {
	initOnce.Do(func() {
		if globalLogger == nil {
			_ = Initialize("info")
		}
	})
	return &Logger{
		level:  globalLogger.level,
		name:   name,
		fields: make(map[string]interface{}),
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	return level >= l.level
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(DEBUG, msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(INFO, msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(WARN, msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(ERROR, msg, args...)
	}
}

// Fatal logs a fatal message and exits the program with code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.shouldLog(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// FatalWithFields logs a fatal message with fields and exits with code 1
func (l *Logger) FatalWithFields(msg string, fields ...LogField) {
	if l.shouldLog(FATAL) {
		l.logWithFields(FATAL, msg, fields...)
		exitFunc(1)
	}
}

// ErrorWithErr logs an error message and attaches err as the "error" field.
func (l *Logger) ErrorWithErr(msg string, err error, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.WithField("error", errString(err)).logf(ERROR, msg, args...)
	}
}

// WithName returns a logger with a different name and no persistent fields.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		level:  l.level,
		name:   name,
		fields: make(map[string]interface{}),
		ctx:    l.ctx,
	}
}

// WithField returns a child logger that adds key=value to every record.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	child := l.clone()
	child.fields[key] = value
	return child
}

// WithFields returns a child logger carrying all of fields.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	child := l.clone()
	for _, f := range fields {
		child.fields[f.Key] = f.Value
	}
	return child
}

// WithContext returns a child logger that reads trace and span IDs from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	child := l.clone()
	child.ctx = ctx
	return child
}

// Enabled reports whether a record at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.shouldLog(level)
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	if l.shouldLog(DEBUG) {
		l.logWithFields(DEBUG, msg, fields...)
	}
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.logWithFields(INFO, msg, fields...)
	}
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.shouldLog(WARN) {
		l.logWithFields(WARN, msg, fields...)
	}
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.shouldLog(ERROR) {
		l.logWithFields(ERROR, msg, fields...)
	}
}

func (l *Logger) clone() *Logger {
	return &Logger{
		level:  l.level,
		name:   l.name,
		fields: cloneFields(l.fields),
		ctx:    l.ctx,
	}
}

// logWithFields merges context, persistent and call fields. Later sources win.
func (l *Logger) logWithFields(level LogLevel, msg string, fields ...LogField) {
	merged := l.mergedFields()
	if len(fields) > 0 && merged == nil {
		merged = make(map[string]interface{}, len(fields))
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	l.writeLog(level, msg, merged)
}

func (l *Logger) mergedFields() map[string]interface{} {
	contextFields := extractContextFields(l.ctx)
	if contextFields == nil && len(l.fields) == 0 {
		return nil
	}

	merged := make(map[string]interface{}, len(contextFields)+len(l.fields))
	for k, v := range contextFields {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	return merged
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return strings.TrimSpace(err.Error())
}
