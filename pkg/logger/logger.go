// Package logger provides a small leveled logger with a component tag and
// optional structured fields. Workers log through it exclusively so that one
// process running several services stays readable.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu   sync.RWMutex
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

var levelVar = func() *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(slog.LevelInfo)
	return v
}()

// SetLevel adjusts the global log level. Accepts "debug", "info", "warn",
// "error"; anything else keeps the current level.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	}
}

// SetOutput replaces the backing handler, mainly for tests.
func SetOutput(h slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	base = slog.New(h)
}

func log(level slog.Level, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	l.Log(context.Background(), level, msg, attrs...)
}

func DebugC(component, msg string) { log(slog.LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { log(slog.LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { log(slog.LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { log(slog.LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	log(slog.LevelError, component, msg, fields)
}
