// Package logctx wraps the standard log.Logger for this module's
// operational messages (connect, reconnect, slot refresh, redirections).
// Callers who never set a Logger see no output: the default discards.
package logctx

import (
	"io"
	"log"
)

// Logger is the minimal logging surface called into from the connection
// and cluster lifecycle. A nil *Logger is valid and discards everything.
type Logger struct {
	l *log.Logger
}

// New wraps dst in a Logger prefixed with "ioredis: ". A nil dst discards.
func New(dst io.Writer) *Logger {
	if dst == nil {
		dst = io.Discard
	}
	return &Logger{l: log.New(dst, "ioredis: ", log.LstdFlags)}
}

// Discard is the zero-configuration default: every call is a no-op.
var Discard = New(io.Discard)

// Printf logs a formatted operational message. Safe to call on a nil
// *Logger.
func (lg *Logger) Printf(format string, args ...interface{}) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Printf(format, args...)
}
