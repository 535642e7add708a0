package logging

import (
	"bytes"
	"testing"
)

func TestSetGlobalAndGlobal(t *testing.T) {
	t.Cleanup(func() { SetGlobal(DefaultLogger()) })

	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)
	SetGlobal(l)

	if Global() != l {
		t.Error("Global() should return the logger set by SetGlobal")
	}
}

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { SetGlobal(DefaultLogger()) })

	l := Configure("debug", "json")
	if l.Level() != LevelDebug {
		t.Errorf("Configure level = %v, want debug", l.Level())
	}
	if Global() != l {
		t.Error("Configure should install the global logger")
	}

	// Caller info follows the level.
	if l := Configure("info", "json"); l.core.addCaller {
		t.Error("Configure at info level should not enable caller info")
	}
	if l := Configure("debug", "json"); !l.core.addCaller {
		t.Error("Configure at debug level should enable caller info")
	}
}

func TestGlobalLeveledFuncs(t *testing.T) {
	t.Cleanup(func() { SetGlobal(DefaultLogger()) })

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{"debug", func() { Debug("m") }, "debug"},
		{"debugf", func() { Debugf("m", map[string]any{"k": "v"}) }, "debug"},
		{"info", func() { Info("m") }, "info"},
		{"infof", func() { Infof("m", map[string]any{"k": "v"}) }, "info"},
		{"warn", func() { Warn("m") }, "warn"},
		{"warnf", func() { Warnf("m", map[string]any{"k": "v"}) }, "warn"},
		{"error", func() { Error("m") }, "error"},
		{"errorf", func() { Errorf("m", map[string]any{"k": "v"}) }, "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetGlobal(newTestLogger(&buf, LevelDebug))
			tc.log()
			obj := decodeLine(t, &buf)
			if obj["level"] != tc.want {
				t.Errorf("level = %v, want %v", obj["level"], tc.want)
			}
		})
	}
}

func TestGlobalLoggerInitialized(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() should never return nil")
	}
}
