// Package logging provides the vault's line-oriented logger: a *Logger that
// is safe to use when nil (in which case it discards everything), a chained
// Sublogger for per-component prefixes, and colorized Warn/Error output.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// currentLevel is the process-wide logging level. It gates Info/Debug/Trace
// output; Warn and Error are always emitted regardless of level.
var currentLevel = LevelInfo

// SetLevel adjusts the process-wide logging level.
func SetLevel(level Level) {
	currentLevel = level
}

func init() {
	// Disable color output when stdout isn't attached to a terminal, so that
	// redirected output and CI logs don't carry escape sequences.
	if !isatty.IsTerminal(uintptr(1)) {
		color.NoColor = true
	}
}

// trimCarriageReturn trims any single trailing carriage return from the end
// of a byte slice.
func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logging callback.
type writer struct {
	callback func(string)
	buffer   []byte
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the main logger type. A nil *Logger is valid and discards
// everything, so components may hold an optional logger without checking
// for nil at every call site.
type Logger struct {
	prefix string
}

// RootLogger is the root logger from which all other loggers derive.
var RootLogger = &Logger{}

// Sublogger creates a new sublogger with the specified name, inheriting the
// parent's prefix.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

// effectiveLevel returns the level gating this logger's output, deferring
// to the process-wide level.
func (l *Logger) effectiveLevel() Level {
	return currentLevel
}

func (l *Logger) output(line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(3, line)
}

// Print logs information with semantics equivalent to fmt.Print, gated on
// LevelInfo.
func (l *Logger) Print(v ...interface{}) {
	if l != nil && l.effectiveLevel() >= LevelInfo {
		l.output(fmt.Sprint(v...))
	}
}

// Printf logs information with semantics equivalent to fmt.Printf, gated on
// LevelInfo.
func (l *Logger) Printf(format string, v ...interface{}) {
	if l != nil && l.effectiveLevel() >= LevelInfo {
		l.output(fmt.Sprintf(format, v...))
	}
}

// Println logs information with semantics equivalent to fmt.Println, gated
// on LevelInfo.
func (l *Logger) Println(v ...interface{}) {
	if l != nil && l.effectiveLevel() >= LevelInfo {
		l.output(fmt.Sprintln(v...))
	}
}

// Writer returns an io.Writer that writes lines using Println.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: l.Println2}
}

// Println2 is Println taking a single string; it exists so Writer's
// callback doesn't need a closure allocation per logger.
func (l *Logger) Println2(s string) {
	l.Println(s)
}

// Debug logs information with semantics equivalent to fmt.Print, but only if
// the level is LevelDebug or more verbose.
func (l *Logger) Debug(v ...interface{}) {
	if l != nil && l.effectiveLevel() >= LevelDebug {
		l.output(fmt.Sprint(v...))
	}
}

// Debugf logs information with semantics equivalent to fmt.Printf, but only
// if the level is LevelDebug or more verbose.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && l.effectiveLevel() >= LevelDebug {
		l.output(fmt.Sprintf(format, v...))
	}
}

// Warn logs error information with a warning prefix and yellow color. Warn
// is unconditional: it's emitted regardless of the configured level, so no
// error is silently swallowed.
func (l *Logger) Warn(err error) {
	if l != nil {
		l.output(color.YellowString("Warning: %v", err))
	}
}

// Error logs error information with an error prefix and red color.
// Unconditional, for the same reason as Warn.
func (l *Logger) Error(err error) {
	if l != nil {
		l.output(color.RedString("Error: %v", err))
	}
}
