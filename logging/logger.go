// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logging is a small leveled logger used by the scheduler and the
// exocore-sim command: a Logger wrapping the standard library's log.Logger
// with Debug/Info/Warn/Error levels, a process-wide Default/SetDefault
// singleton, and a LogError helper that gates on errs.Error.ShouldLog()
// and severity so expected outcomes stay silent while anything noteworthy
// is always logged with its recovery hint.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"code.hybscloud.com/exocore/errs"
)

// Level is a logging severity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer
}

// DefaultConfig returns Info level logging to stderr.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Output: os.Stderr}
}

// Logger wraps a standard library *log.Logger with level filtering and
// key-value argument formatting.
type Logger struct {
	logger *log.Logger
	level  Level
	mu     sync.Mutex
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// NewLogger creates a Logger from config, falling back to DefaultConfig
// if config is nil or its Output is unset.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{logger: log.New(out, "", log.LstdFlags), level: config.Level}
}

// Default returns the process-wide default Logger, creating an Info-level
// stderr logger on first use.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default Logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b []byte
	for i := 0; i+1 < len(args); i += 2 {
		if len(b) > 0 {
			b = append(b, ' ')
		}
		b = append(b, []byte(fmt.Sprintf("%v=%v", args[i], args[i+1]))...)
	}
	if len(b) == 0 {
		return ""
	}
	return " " + string(b)
}

func (l *Logger) log(level Level, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(args))
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// LogError logs err through the level its severity maps to (>=2 is
// Error, 1 is Warn, else Debug), but only if err.ShouldLog() — silencing
// common expected outcomes like a thread not found during cleanup or an
// Interrupted shutdown wait, per §7's logging policy.
func (l *Logger) LogError(op string, err error) {
	if err == nil {
		return
	}
	var e *errs.Error
	if !errorsAs(err, &e) {
		l.Error(op, "err", err)
		return
	}
	if !e.ShouldLog() {
		return
	}
	switch {
	case e.Severity() >= 2:
		l.Error(op, "code", e.Code, "hint", e.Hint())
	case e.Severity() == 1:
		l.Warn(op, "code", e.Code, "hint", e.Hint())
	default:
		l.Debug(op, "code", e.Code)
	}
}

// errorsAs walks err's single-Unwrap chain looking for an *errs.Error;
// joined errors (Unwrap() []error) are not searched.
func errorsAs(err error, target **errs.Error) bool {
	for err != nil {
		if e, ok := err.(*errs.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
