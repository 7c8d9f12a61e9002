// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package log is the agent-wide logging facade. It wraps seelog behind
// a swappable global so that every component logs through the same
// sink and level, and so that a config hot reload of log_level can
// rebuild the logger in place without threading a logger through every
// constructor.
package log

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	seelog "github.com/cihub/seelog"
)

var current atomic.Value // holds seelog.LoggerInterface

func init() {
	current.Store(seelog.Default)
}

// Config controls how the global logger is (re)built.
type Config struct {
	Level  string // "debug", "info", "warn", "error", "critical"
	File   string // empty = console only
	Console bool
}

var mu sync.Mutex

// Configure rebuilds the global logger from cfg. Safe to call again on
// hot reload of log_level.
func Configure(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level := cfg.Level
	if level == "" {
		level = "info"
	}

	xml := fmt.Sprintf(`
<seelog minlevel="%s">
	<outputs formatid="main">
		<console />
		%s
	</outputs>
	<formats>
		<format id="main" format="%%Date(2006-01-02T15:04:05.000Z07:00) [%%LEVEL] %%Msg%%n" />
	</formats>
</seelog>`, level, fileOutput(cfg.File))

	logger, err := seelog.LoggerFromConfigAsBytes([]byte(xml))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	old := current.Swap(logger)
	if l, ok := old.(seelog.LoggerInterface); ok && l != nil {
		l.Flush()
	}
	return nil
}

func fileOutput(path string) string {
	if path == "" {
		return ""
	}
	return fmt.Sprintf(`<file path="%s" />`, path)
}

func logger() seelog.LoggerInterface {
	return current.Load().(seelog.LoggerInterface)
}

// Logger is a component-scoped facade returned by For.
type Logger struct {
	component string
}

// For returns a Logger tagged with the given component name, e.g.
// log.For("tailer").
func For(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) tag(msg string) string {
	return fmt.Sprintf("[%s] %s", l.component, msg)
}

func (l *Logger) Debugf(format string, args ...any) {
	logger().Debug(l.tag(fmt.Sprintf(format, args...)))
}

func (l *Logger) Infof(format string, args ...any) {
	logger().Info(l.tag(fmt.Sprintf(format, args...)))
}

func (l *Logger) Warnf(format string, args ...any) {
	_ = logger().Warn(l.tag(fmt.Sprintf(format, args...)))
}

func (l *Logger) Errorf(format string, args ...any) {
	_ = logger().Error(l.tag(fmt.Sprintf(format, args...)))
}

func (l *Logger) Criticalf(format string, args ...any) {
	_ = logger().Critical(l.tag(fmt.Sprintf(format, args...)))
}

// Flush drains buffered log output; call during graceful shutdown.
func Flush() {
	logger().Flush()
}

// FatalExit logs a critical message and exits the process. Reserved
// for Supervisor startup-fatal conditions (spec.md §7).
func FatalExit(component, format string, args ...any) {
	For(component).Criticalf(format, args...)
	Flush()
	os.Exit(1)
}
