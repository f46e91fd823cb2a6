package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats accepted by SetOutput.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// sink is the zap logger every Logger writes through. Level filtering happens
// in Logger.shouldLog, so the core accepts everything.
var sink atomic.Pointer[zap.Logger]

func init() {
	sink.Store(newSink(os.Stderr, FormatText))
}

// SetOutput redirects all loggers to w using format ("text" or "json").
func SetOutput(w io.Writer, format string) error {
	if err := ValidateFormat(format); err != nil {
		return err
	}
	old := sink.Swap(newSink(w, format))
	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// ValidateFormat checks that format names a supported output format.
func ValidateFormat(format string) error {
	switch strings.ToLower(format) {
	case FormatText, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid log format: %s (must be %s or %s)", format, FormatText, FormatJSON)
	}
}

// Sync flushes buffered records.
func Sync() error {
	return sink.Load().Sync()
}

func newSink(w io.Writer, format string) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     encodeTimestamp,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var enc zapcore.Encoder
	if strings.ToLower(format) == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zapcore.DebugLevel)
	// Fatal exits through exitFunc, not through zap.
	return zap.New(core, zap.WithFatalHook(noExit{}))
}

type noExit struct{}

func (noExit) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

func encodeTimestamp(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(GetTimestamp(t))
}

// GetTimestamp formats t as RFC3339. LOG_TIMESTAMP overrides the value for
// deterministic output.
func GetTimestamp(t time.Time) string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return t.Format(time.RFC3339)
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

// writeLog emits one record. Fields are sorted by key so output is stable.
func (l *Logger) writeLog(level LogLevel, msg string, fields map[string]interface{}) {
	ce := sink.Load().Named(l.name).Check(zapLevel(level), msg)
	if ce == nil {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zfields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zfields = append(zfields, zap.Any(k, fields[k]))
	}
	ce.Write(zfields...)
}

func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.writeLog(level, msg, l.mergedFields())
}
