package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// resetGlobalLogger resets global logger state for test isolation
func resetGlobalLogger() {
	globalLogger = nil
	initOnce = sync.Once{}
	_ = SetPackageLogLevels(map[string]string{})
}

// captureJSON points the sink at a buffer for the duration of the test.
func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := SetOutput(&buf, FormatJSON); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	t.Cleanup(func() {
		_ = SetOutput(os.Stderr, FormatText)
	})
	return &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		rec := make(map[string]interface{})
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %q is not JSON: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel LogLevel
	}{
		{"debug level", "debug", DEBUG},
		{"info level", "info", INFO},
		{"warn level", "warn", WARN},
		{"warning alias", "warning", WARN},
		{"error level", "error", ERROR},
		{"fatal level", "fatal", FATAL},
		{"mixed case", "WaRn", WARN},
		{"unknown falls back to info", "chatty", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobalLogger()
			if err := Initialize(tt.level); err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			if globalLogger.level != tt.wantLevel {
				t.Errorf("level = %v, want %v", globalLogger.level, tt.wantLevel)
			}
		})
	}
}

func TestInitializeWithPackageLevels(t *testing.T) {
	resetGlobalLogger()
	err := Initialize("info", map[string]string{"system": "debug"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := GetPackageLogLevel("system"); got != DEBUG {
		t.Errorf("system level = %v, want DEBUG", got)
	}

	resetGlobalLogger()
	if err := Initialize("info", map[string]string{"system": "loud"}); err == nil {
		t.Error("expected error for invalid package level")
	}
}

func TestGetLoggerLazyInit(t *testing.T) {
	resetGlobalLogger()
	l := GetLogger("manifest")
	if l == nil {
		t.Fatal("GetLogger returned nil")
	}
	if l.Name() != "manifest" {
		t.Errorf("name = %q", l.Name())
	}
	if l.level != INFO {
		t.Errorf("lazy level = %v, want INFO", l.level)
	}
}

func TestLevelFiltering(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("warn")
	buf := captureJSON(t)

	l := GetLogger("system")
	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Warn("warn %d", 3)
	l.Error("error %d", 4)

	recs := records(t, buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %s", len(recs), buf.String())
	}
	if recs[0]["msg"] != "warn 3" || recs[0]["level"] != "WARN" {
		t.Errorf("first record = %v", recs[0])
	}
	if recs[1]["msg"] != "error 4" || recs[1]["level"] != "ERROR" {
		t.Errorf("second record = %v", recs[1])
	}
	if recs[0]["logger"] != "system" {
		t.Errorf("logger = %v", recs[0]["logger"])
	}
}

func TestMessageWithoutArgsIsNotFormatted(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info")
	buf := captureJSON(t)

	GetLogger("x").Info("100% done")

	recs := records(t, buf)
	if len(recs) != 1 || recs[0]["msg"] != "100% done" {
		t.Errorf("records = %v", recs)
	}
}

func TestFieldsAndPriority(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("debug")
	buf := captureJSON(t)

	ctx := context.WithValue(context.Background(), TraceIDKey(), "trace-1")
	ctx = context.WithValue(ctx, SpanIDKey(), "span-1")

	l := GetLogger("system").
		WithContext(ctx).
		WithField("run_id", "r1").
		WithFields(Field("component", "db"), Field("span_id", "override"))

	l.InfoWithFields("started", Field("component", "cache"), Field("position", 2))

	recs := records(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	rec := recs[0]
	want := map[string]interface{}{
		"trace_id":  "trace-1",
		"span_id":   "override",
		"run_id":    "r1",
		"component": "cache",
		"position":  float64(2),
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
}

func TestLoggerIsolation(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info")
	buf := captureJSON(t)

	parent := GetLogger("system")
	child := parent.WithField("component", "db")
	parent.Info("parent")
	child.Info("child")

	recs := records(t, buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if _, ok := recs[0]["component"]; ok {
		t.Error("parent must not inherit child fields")
	}
	if recs[1]["component"] != "db" {
		t.Errorf("child component = %v", recs[1]["component"])
	}
}

func TestWithName(t *testing.T) {
	resetGlobalLogger()
	l := GetLogger("a").WithField("k", "v").WithName("b")
	if l.Name() != "b" {
		t.Errorf("name = %q", l.Name())
	}
	if len(l.fields) != 0 {
		t.Errorf("WithName must drop fields, got %v", l.fields)
	}
}

func TestOtelSpanContext(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info")
	buf := captureJSON(t)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = context.WithValue(ctx, TraceIDKey(), "ignored")

	GetLogger("system").WithContext(ctx).Info("traced")

	recs := records(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0]["trace_id"] != traceID.String() {
		t.Errorf("trace_id = %v", recs[0]["trace_id"])
	}
	if recs[0]["span_id"] != spanID.String() {
		t.Errorf("span_id = %v", recs[0]["span_id"])
	}
}

func TestExtractContextFields(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	if got := extractContextFields(nil); got != nil {
		t.Errorf("nil ctx = %v", got)
	}
	if got := extractContextFields(context.Background()); got != nil {
		t.Errorf("empty ctx = %v", got)
	}
	ctx := context.WithValue(context.Background(), TraceIDKey(), "t")
	got := extractContextFields(ctx)
	if got["trace_id"] != "t" || len(got) != 1 {
		t.Errorf("partial ctx = %v", got)
	}
}

func TestErrorWithErr(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info")
	buf := captureJSON(t)

	GetLogger("system").ErrorWithErr("stop %s failed", errors.New("boom"), "db")

	recs := records(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0]["msg"] != "stop db failed" || recs[0]["error"] != "boom" {
		t.Errorf("record = %v", recs[0])
	}
}

func TestFatal(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info")
	buf := captureJSON(t)

	var code int
	oldExit := exitFunc
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = oldExit }()

	GetLogger("cli").Fatal("cannot continue: %s", "bad config")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	GetLogger("cli").FatalWithFields("again", Field("k", "v"))

	recs := records(t, buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0]["level"] != "FATAL" || recs[0]["msg"] != "cannot continue: bad config" {
		t.Errorf("record = %v", recs[0])
	}
	if recs[1]["k"] != "v" {
		t.Errorf("record = %v", recs[1])
	}
}

func TestTextFormat(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info")
	t.Setenv("LOG_TIMESTAMP", "2024-01-01T00:00:00Z")

	var buf bytes.Buffer
	if err := SetOutput(&buf, FormatText); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = SetOutput(os.Stderr, FormatText) }()

	GetLogger("system").InfoWithFields("hello", Field("component", "db"))

	line := buf.String()
	for _, want := range []string{"2024-01-01T00:00:00Z", "INFO", "system", "hello", `"component": "db"`} {
		if !strings.Contains(line, want) {
			t.Errorf("text output %q missing %q", line, want)
		}
	}
}

func TestSetOutputRejectsUnknownFormat(t *testing.T) {
	if err := SetOutput(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("expected error")
	}
	if err := ValidateFormat("JSON"); err != nil {
		t.Errorf("format names are case-insensitive: %v", err)
	}
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name    string
		pkg     string
		pattern string
		want    bool
	}{
		{"exact", "builtin.http", "builtin.http", true},
		{"wildcard", "builtin.http", "builtin.*", true},
		{"nested wildcard", "builtin.http.router", "builtin.*", true},
		{"wildcard needs dot", "builtin", "builtin.*", false},
		{"other package", "system", "builtin.*", false},
		{"prefix is not a match", "builtinx.http", "builtin.*", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesPattern(tt.pkg, tt.pattern); got != tt.want {
				t.Errorf("matchesPattern(%q, %q) = %v, want %v", tt.pkg, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestGetPackageLogLevel(t *testing.T) {
	resetGlobalLogger()
	err := SetPackageLogLevels(map[string]string{
		"builtin.*":      "warn",
		"builtin.http.*": "debug",
		"builtin.cache":  "error",
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]LogLevel{
		"builtin.cache":       ERROR,
		"builtin.http.server": DEBUG,
		"builtin.greeter":     WARN,
		"system":              LogLevel(-1),
	}
	for pkg, want := range tests {
		if got := GetPackageLogLevel(pkg); got != want {
			t.Errorf("GetPackageLogLevel(%q) = %v, want %v", pkg, got, want)
		}
	}
}

func TestPerPackageLogLevelFiltering(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info", map[string]string{"system": "error", "manifest": "debug"})
	buf := captureJSON(t)

	GetLogger("system").Info("hidden")
	GetLogger("manifest").Debug("shown")
	GetLogger("other").Debug("hidden")

	recs := records(t, buf)
	if len(recs) != 1 || recs[0]["msg"] != "shown" {
		t.Errorf("records = %v", recs)
	}
	if GetLogger("system").Enabled(INFO) {
		t.Error("system INFO must be disabled")
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", " warn ", "Error", "fatal"} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for verbose")
	}
}

func TestCloneFields(t *testing.T) {
	if got := cloneFields(nil); got == nil || len(got) != 0 {
		t.Errorf("cloneFields(nil) = %v", got)
	}
	src := map[string]interface{}{"a": 1}
	dst := cloneFields(src)
	dst["b"] = 2
	if len(src) != 1 {
		t.Error("clone must not alias the source")
	}
}

func TestConcurrentLogging(t *testing.T) {
	resetGlobalLogger()
	_ = Initialize("info")
	buf := captureJSON(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			GetLogger("worker").WithField("i", i).Info("tick")
		}(i)
	}
	wg.Wait()

	if n := len(records(t, buf)); n != 10 {
		t.Errorf("got %d records, want 10", n)
	}
}
