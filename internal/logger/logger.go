package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var severity = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

var mu sync.Mutex

var globalLevel = LogLevelInfo

var out io.Writer = os.Stdout

// SetGlobalLevel sets the level used by loggers created afterwards.
// Unknown values fall back to info.
func SetGlobalLevel(level string) {
	l := LogLevel(strings.ToLower(strings.TrimSpace(level)))
	if _, ok := severity[l]; !ok {
		l = LogLevelInfo
	}
	mu.Lock()
	globalLevel = l
	mu.Unlock()
}

// SetOutput redirects all loggers. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

type Log struct {
	level  LogLevel
	err    error
	fields map[string]any
}

func New() *Log {
	mu.Lock()
	defer mu.Unlock()
	return &Log{level: globalLevel}
}

func (l *Log) SetLevel(level LogLevel) {
	l.level = level
}

func (l *Log) WithError(err error) *Log {
	return &Log{level: l.level, err: err, fields: l.fields}
}

// With returns a logger that appends key=value to every line.
func (l *Log) With(key string, value any) *Log {
	fields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Log{level: l.level, err: l.err, fields: fields}
}

func (l *Log) timestamp() string {
	return time.Now().Format("15:04:05")
}

func (l *Log) enabled(level LogLevel) bool {
	return severity[level] >= severity[l.level]
}

func (l *Log) suffix() string {
	if len(l.fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
	}
	return b.String()
}

func (l *Log) print(color, icon, msg string) {
	mu.Lock()
	defer mu.Unlock()
	if l.err != nil {
		fmt.Fprintf(out, "%s[%s]%s %s %s: %v%s%s\n", color, l.timestamp(), ColorReset, icon, msg, l.err, l.suffix(), ColorReset)
		return
	}
	fmt.Fprintf(out, "%s[%s]%s %s %s%s%s\n", color, l.timestamp(), ColorReset, icon, msg, l.suffix(), ColorReset)
}

func (l *Log) Debug(msg string) {
	if !l.enabled(LogLevelDebug) {
		return
	}
	l.print(ColorCyan, "🔎", msg)
}

func (l *Log) Info(msg string) {
	if !l.enabled(LogLevelInfo) {
		return
	}
	l.print(ColorBlue, "ℹ️ ", msg)
}

func (l *Log) Warn(msg string) {
	if !l.enabled(LogLevelWarn) {
		return
	}
	l.print(ColorYellow, "⚠️ ", msg)
}

func (l *Log) Error(msg string) {
	l.print(ColorRed, "❌", msg)
}
