package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// decodeLine parses a single JSON log line into a flat map.
func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var obj map[string]any
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("failed to parse JSON log output %q: %v", buf.String(), err)
	}
	return obj
}

func newTestLogger(buf *bytes.Buffer, level Level) *Logger {
	return New(Config{Level: level, Format: FormatJSON, Output: buf})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"invalid", LevelInfo},
		{"", LevelInfo},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level(99), "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			if got := tc.level.String(); got != tc.expected {
				t.Errorf("Level.String() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
	}{
		{"json", FormatJSON},
		{"text", FormatText},
		{"invalid", FormatJSON},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseFormat(tc.input); got != tc.expected {
				t.Errorf("ParseFormat(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	l.Info("test message")

	obj := decodeLine(t, &buf)
	if obj["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", obj["msg"], "test message")
	}
	if obj["level"] != "info" {
		t.Errorf("level = %v, want info", obj["level"])
	}
	if obj["ts"] == nil || obj["ts"] == "" {
		t.Error("ts should be present")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelWarn)

	l.Debug("debug msg")
	l.Info("info msg")
	if buf.Len() > 0 {
		t.Error("debug/info should be filtered at warn level")
	}

	l.Warn("warn msg")
	if buf.Len() == 0 {
		t.Error("warn should be logged at warn level")
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelError)

	l.Info("should not appear")
	if buf.Len() > 0 {
		t.Error("info should be filtered at error level")
	}

	l.SetLevel(LevelInfo)
	l.Info("should appear")
	if buf.Len() == 0 {
		t.Error("info should be logged after SetLevel(Info)")
	}
	if l.Level() != LevelInfo {
		t.Errorf("Level() = %v, want %v", l.Level(), LevelInfo)
	}
}

func TestSetLevelAffectsDerivedViews(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelError)
	derived := l.With(map[string]any{"component": "pool"})

	derived.Info("filtered")
	if buf.Len() > 0 {
		t.Error("derived view should inherit the error level")
	}

	l.SetLevel(LevelDebug)
	derived.Info("visible")
	if buf.Len() == 0 {
		t.Error("SetLevel on the parent should apply to derived views")
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	l.With(map[string]any{"cluster": "backend"}).Info("with fields")

	obj := decodeLine(t, &buf)
	if obj["cluster"] != "backend" {
		t.Errorf("cluster = %v, want backend", obj["cluster"])
	}
}

func TestLoggerFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	l.With(map[string]any{"a": "1"}).With(map[string]any{"b": "2"}).
		Infof("chained", map[string]any{"c": "3"})

	obj := decodeLine(t, &buf)
	for _, key := range []string{"a", "b", "c"} {
		if obj[key] == nil {
			t.Errorf("field %q missing from output %v", key, obj)
		}
	}
}

func TestLoggerWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	l.WithCorrelationID("corr-123").Info("with correlation id")

	obj := decodeLine(t, &buf)
	if obj["correlationId"] != "corr-123" {
		t.Errorf("correlationId = %v, want corr-123", obj["correlationId"])
	}
}

func TestLoggerWithTraceID(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	l.WithCorrelationID("corr-123").WithTraceID("trace-456").Info("with both ids")

	obj := decodeLine(t, &buf)
	if obj["correlationId"] != "corr-123" {
		t.Errorf("correlationId = %v, want corr-123", obj["correlationId"])
	}
	if obj["traceId"] != "trace-456" {
		t.Errorf("traceId = %v, want trace-456", obj["traceId"])
	}
}

func TestLoggerCallerInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf, AddCaller: true})

	l.Debug("with caller info")

	obj := decodeLine(t, &buf)
	caller, _ := obj["caller"].(string)
	if !strings.HasPrefix(caller, "logger_test.go:") {
		t.Errorf("caller = %q, want logger_test.go:<line>", caller)
	}
}

func TestLoggerNoCallerByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug)

	l.Debug("without caller info")

	obj := decodeLine(t, &buf)
	if obj["caller"] != nil {
		t.Errorf("caller should be absent, got %v", obj["caller"])
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

	l.WithCorrelationID("corr-123").Infof("text message", map[string]any{
		"b": "2",
		"a": 1,
	})

	output := buf.String()
	if !strings.Contains(output, "[info] text message") {
		t.Errorf("text output should contain level and message, got %q", output)
	}
	if !strings.Contains(output, "correlationId=corr-123") {
		t.Errorf("text output should contain the correlation id, got %q", output)
	}
	// Field keys are sorted.
	if !strings.Contains(output, "a=1 b=2") {
		t.Errorf("text fields should be sorted key=value pairs, got %q", output)
	}
}

func TestLoggerLeveledVariants(t *testing.T) {
	tests := []struct {
		name string
		log  func(*Logger)
		want string
	}{
		{"debugf", func(l *Logger) { l.Debugf("m", map[string]any{"k": "v"}) }, "debug"},
		{"infof", func(l *Logger) { l.Infof("m", map[string]any{"k": "v"}) }, "info"},
		{"warnf", func(l *Logger) { l.Warnf("m", map[string]any{"k": "v"}) }, "warn"},
		{"errorf", func(l *Logger) { l.Errorf("m", map[string]any{"k": "v"}) }, "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := newTestLogger(&buf, LevelDebug)
			tc.log(l)
			obj := decodeLine(t, &buf)
			if obj["level"] != tc.want {
				t.Errorf("level = %v, want %v", obj["level"], tc.want)
			}
			if obj["k"] != "v" {
				t.Errorf("field k = %v, want v", obj["k"])
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	l := DefaultLogger()
	if l == nil {
		t.Fatal("DefaultLogger() returned nil")
	}
	if l.Level() != LevelInfo {
		t.Errorf("default level = %v, want info", l.Level())
	}
}

func TestLoggerViewsDoNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	_ = l.With(map[string]any{"added": "field"})
	_ = l.WithCorrelationID("corr-123")
	l.Info("original logger")

	obj := decodeLine(t, &buf)
	if obj["added"] != nil {
		t.Error("original logger should not carry fields added to a view")
	}
	if obj["correlationId"] != nil {
		t.Error("original logger should not carry a view's correlation ID")
	}
}
