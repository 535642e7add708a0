package logging

import "sync/atomic"

var globalLogger atomic.Pointer[Logger]

func init() {
	globalLogger.Store(DefaultLogger())
}

// SetGlobal replaces the process-wide default logger.
func SetGlobal(l *Logger) {
	globalLogger.Store(l)
}

// Global returns the process-wide default logger.
func Global() *Logger {
	return globalLogger.Load()
}

// Configure builds a logger from config strings, installs it as the global
// logger, and returns it. Caller info is added at debug level.
func Configure(level, format string) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}

// Debug logs through the global logger.
func Debug(msg string) { Global().Debug(msg) }

// Debugf logs through the global logger with fields.
func Debugf(msg string, fields map[string]any) { Global().Debugf(msg, fields) }

// Info logs through the global logger.
func Info(msg string) { Global().Info(msg) }

// Infof logs through the global logger with fields.
func Infof(msg string, fields map[string]any) { Global().Infof(msg, fields) }

// Warn logs through the global logger.
func Warn(msg string) { Global().Warn(msg) }

// Warnf logs through the global logger with fields.
func Warnf(msg string, fields map[string]any) { Global().Warnf(msg, fields) }

// Error logs through the global logger.
func Error(msg string) { Global().Error(msg) }

// Errorf logs through the global logger with fields.
func Errorf(msg string, fields map[string]any) { Global().Errorf(msg, fields) }
