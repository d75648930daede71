package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger provides leveled, timestamped logging throughout the toolkit.
// A Logger may carry a component prefix that is printed before every message.
type Logger struct {
	info    *log.Logger
	warn    *log.Logger
	err     *log.Logger
	debug   *log.Logger
	prefix  string
	debugOn bool
}

// NewLogger creates a new Logger writing to stdout/stderr.
func NewLogger() *Logger {
	return newLogger(os.Stdout, os.Stderr)
}

// NewLoggerTo creates a Logger that sends every level to w.
func NewLoggerTo(w io.Writer) *Logger {
	return newLogger(w, w)
}

// NewFileLogger mirrors stdout/stderr output into the file at path. If the
// file cannot be opened the plain console logger is returned with a warning.
func NewFileLogger(path string) *Logger {
	if path == "" {
		return NewLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return newLogger(io.MultiWriter(os.Stdout, f), io.MultiWriter(os.Stderr, f))
		}
	}
	l := NewLogger()
	l.Warn("[logger] Could not open log file %s, logging to console only", path)
	return l
}

func newLogger(out, errOut io.Writer) *Logger {
	flags := 0
	return &Logger{
		info:  log.New(out, "", flags),
		warn:  log.New(out, "", flags),
		err:   log.New(errOut, "", flags),
		debug: log.New(out, "", flags),
	}
}

// SetDebug toggles Debug output. Debug lines are dropped by default.
func (l *Logger) SetDebug(on bool) *Logger {
	l.debugOn = on
	return l
}

// With returns a Logger sharing the same outputs whose messages are prefixed
// with "[component]".
func (l *Logger) With(component string) *Logger {
	c := *l
	c.prefix = "[" + strings.Trim(component, "[]") + "] "
	return &c
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) Info(format string, args ...any) {
	l.info.Printf("[%s] \033[32mINFO\033[0m  %s%s", l.timestamp(), l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.warn.Printf("[%s] \033[33mWARN\033[0m  %s%s", l.timestamp(), l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.err.Printf("[%s] \033[31mERROR\033[0m %s%s", l.timestamp(), l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.debugOn {
		return
	}
	l.debug.Printf("[%s] \033[36mDEBUG\033[0m %s%s", l.timestamp(), l.prefix, fmt.Sprintf(format, args...))
}
