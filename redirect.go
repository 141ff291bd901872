package ioredis

import (
	"strconv"
	"strings"
)

// RedirError carries the parsed fields of a MOVED or ASK reply, adapted
// from redisc's own RedirError: Type is "MOVED" or "ASK", NewSlot
// and Addr are the redirection target.
type RedirError struct {
	Type    string
	NewSlot int
	Addr    string
}

// ParseRedir parses err (expected to be a *Error of KindReply with Name
// MOVED or ASK) into a RedirError, or returns nil if err is not a
// redirection. Mirrors redisc's ParseRedir used throughout its own
// tests to assert on redirection behaviour.
func ParseRedir(err error) *RedirError {
	e, ok := err.(*Error)
	if !ok || e.Kind != KindReply {
		return nil
	}
	if e.Name != "MOVED" && e.Name != "ASK" {
		return nil
	}
	fields := strings.Fields(e.Message)
	if len(fields) != 3 {
		return nil
	}
	slot, convErr := strconv.Atoi(fields[1])
	if convErr != nil {
		return nil
	}
	return &RedirError{Type: e.Name, NewSlot: slot, Addr: fields[2]}
}

// IsCrossSlot reports whether err is a CROSSSLOT server reply.
func IsCrossSlot(err error) bool { return isReplyNamed(err, "CROSSSLOT") }

// IsTryAgain reports whether err is a TRYAGAIN server reply.
func IsTryAgain(err error) bool { return isReplyNamed(err, "TRYAGAIN") }

// IsClusterDown reports whether err is a CLUSTERDOWN server reply.
func IsClusterDown(err error) bool { return isReplyNamed(err, "CLUSTERDOWN") }

// IsExecAbort reports whether err is an EXECABORT server reply.
func IsExecAbort(err error) bool { return isReplyNamed(err, "EXECABORT") }

func isReplyNamed(err error, name string) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindReply && e.Name == name
}

// isRetriableClusterError reports whether err belongs to the set of
// errors the router and pipeline engine recover from automatically:
// MOVED, ASK, TRYAGAIN, CLUSTERDOWN, or a connection-closed error.
func isRetriableClusterError(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind == KindConnectionClosed {
		return true
	}
	if e.Kind != KindReply {
		return false
	}
	switch e.Name {
	case "MOVED", "ASK", "TRYAGAIN", "CLUSTERDOWN":
		return true
	default:
		return false
	}
}
