// Package logging provides a structured logger with per-connection
// correlation IDs and context propagation.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel maps a config string to a Level. Unknown strings map to info.
func ParseLevel(s string) Level {
	for i, name := range levelNames {
		if s == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Format selects the line encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat maps a config string to a Format. Unknown strings map to JSON.
func ParseFormat(s string) Format {
	if s == "text" {
		return FormatText
	}
	return FormatJSON
}

// Config holds logger construction options.
type Config struct {
	Level     Level
	Format    Format
	Output    io.Writer
	AddCaller bool
}

// core is the shared sink behind a family of Logger views. The level lives
// here so SetLevel takes effect across every derived logger.
type core struct {
	mu        sync.Mutex
	out       io.Writer
	level     atomic.Int32
	format    Format
	addCaller bool
}

func (c *core) enabled(l Level) bool {
	return int32(l) >= c.level.Load()
}

func (c *core) write(line []byte) {
	c.mu.Lock()
	_, _ = c.out.Write(line)
	c.mu.Unlock()
}

// Logger is an immutable view over a shared core. With, WithCorrelationID,
// and WithTraceID return new views; the receiver is never modified.
type Logger struct {
	core          *core
	fields        map[string]any
	correlationID string
	traceID       string
}

// New creates a Logger writing to cfg.Output (stderr when nil).
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	c := &core{
		out:       out,
		format:    cfg.Format,
		addCaller: cfg.AddCaller,
	}
	c.level.Store(int32(cfg.Level))
	return &Logger{core: c}
}

// DefaultLogger returns an info-level JSON logger on stderr.
func DefaultLogger() *Logger {
	return New(Config{Level: LevelInfo})
}

// SetLevel changes the minimum level for this logger and every view derived
// from it.
func (l *Logger) SetLevel(level Level) {
	l.core.level.Store(int32(level))
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return Level(l.core.level.Load())
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]any, len(l.fields)+2)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		core:          l.core,
		fields:        fields,
		correlationID: l.correlationID,
		traceID:       l.traceID,
	}
}

// With returns a view carrying the given fields on every line.
func (l *Logger) With(fields map[string]any) *Logger {
	v := l.clone()
	for k, val := range fields {
		v.fields[k] = val
	}
	return v
}

// WithCorrelationID returns a view tagged with the given correlation ID.
func (l *Logger) WithCorrelationID(id string) *Logger {
	v := l.clone()
	v.correlationID = id
	return v
}

// WithTraceID returns a view tagged with the given trace ID.
func (l *Logger) WithTraceID(id string) *Logger {
	v := l.clone()
	v.traceID = id
	return v
}

// CorrelationID returns the view's correlation ID, if any.
func (l *Logger) CorrelationID() string { return l.correlationID }

// TraceID returns the view's trace ID, if any.
func (l *Logger) TraceID() string { return l.traceID }

func (l *Logger) Debug(msg string)                    { l.emit(LevelDebug, msg, nil) }
func (l *Logger) Debugf(msg string, f map[string]any) { l.emit(LevelDebug, msg, f) }
func (l *Logger) Info(msg string)                     { l.emit(LevelInfo, msg, nil) }
func (l *Logger) Infof(msg string, f map[string]any)  { l.emit(LevelInfo, msg, f) }
func (l *Logger) Warn(msg string)                     { l.emit(LevelWarn, msg, nil) }
func (l *Logger) Warnf(msg string, f map[string]any)  { l.emit(LevelWarn, msg, f) }
func (l *Logger) Error(msg string)                    { l.emit(LevelError, msg, nil) }
func (l *Logger) Errorf(msg string, f map[string]any) { l.emit(LevelError, msg, f) }

func (l *Logger) emit(level Level, msg string, extra map[string]any) {
	if !l.core.enabled(level) {
		return
	}

	e := entry{
		ts:            time.Now().UTC(),
		level:         level,
		msg:           msg,
		correlationID: l.correlationID,
		traceID:       l.traceID,
	}

	if l.core.addCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			e.caller = filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	}

	if len(l.fields) > 0 || len(extra) > 0 {
		e.fields = make(map[string]any, len(l.fields)+len(extra))
		for k, v := range l.fields {
			e.fields[k] = v
		}
		for k, v := range extra {
			e.fields[k] = v
		}
	}

	switch l.core.format {
	case FormatText:
		l.core.write(e.text())
	default:
		l.core.write(e.json())
	}
}

type entry struct {
	ts            time.Time
	level         Level
	msg           string
	correlationID string
	traceID       string
	caller        string
	fields        map[string]any
}

// json encodes the entry as one flat object: fixed keys first, then the
// attached fields.
func (e entry) json() []byte {
	obj := make(map[string]any, len(e.fields)+6)
	obj["ts"] = e.ts.Format(time.RFC3339Nano)
	obj["level"] = e.level.String()
	obj["msg"] = e.msg
	if e.correlationID != "" {
		obj["correlationId"] = e.correlationID
	}
	if e.traceID != "" {
		obj["traceId"] = e.traceID
	}
	if e.caller != "" {
		obj["caller"] = e.caller
	}
	for k, v := range e.fields {
		obj[k] = v
	}
	line, err := json.Marshal(obj)
	if err != nil {
		line, _ = json.Marshal(map[string]any{
			"ts":    e.ts.Format(time.RFC3339Nano),
			"level": e.level.String(),
			"msg":   e.msg,
			"error": "unencodable fields: " + err.Error(),
		})
	}
	return append(line, '\n')
}

// text encodes the entry as "ts [level] msg k=v ..." with field keys sorted
// so output is stable.
func (e entry) text() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, e.ts.Format(time.RFC3339)...)
	buf = append(buf, " ["...)
	buf = append(buf, e.level.String()...)
	buf = append(buf, "] "...)
	buf = append(buf, e.msg...)

	if e.correlationID != "" {
		buf = appendKV(buf, "correlationId", e.correlationID)
	}
	if e.traceID != "" {
		buf = appendKV(buf, "traceId", e.traceID)
	}
	if e.caller != "" {
		buf = appendKV(buf, "caller", e.caller)
	}

	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = appendKV(buf, k, e.fields[k])
	}
	return append(buf, '\n')
}

func appendKV(buf []byte, key string, v any) []byte {
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, '=')
	switch val := v.(type) {
	case string:
		return append(buf, val...)
	case int:
		return strconv.AppendInt(buf, int64(val), 10)
	case int64:
		return strconv.AppendInt(buf, val, 10)
	case bool:
		return strconv.AppendBool(buf, val)
	default:
		enc, _ := json.Marshal(v)
		return append(buf, enc...)
	}
}
