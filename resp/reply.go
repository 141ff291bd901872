// Package resp implements the client-side codec for the Redis
// Serialization Protocol (RESP2). It is adapted from the RESP decoder the
// redisc package uses to drive its mock cluster server, turned
// around to decode server replies and encode command request arrays.
//
// See http://redis.io/topics/protocol for the reference.
package resp

import "fmt"

// Type identifies the shape of a decoded Reply, per the five RESP2 type
// tags: '+', '-', ':', '$', '*'.
type Type int

const (
	SimpleString Type = iota
	BulkString
	Integer
	Array
	Error
)

// Reply is the sum type produced by the decoder: simple string, bulk
// string (nullable), integer, array (nullable, may nest replies and
// errors), or error (name + message).
type Reply struct {
	Type Type

	Str   string // SimpleString, or BulkString text form
	Bytes []byte // BulkString raw form
	Null  bool   // true for a nil bulk string or nil array
	Int   int64  // Integer

	Elems []Reply // Array

	ErrName string // Error: leading token, e.g. "MOVED", "ERR"
	ErrMsg  string // Error: full error text
}

func (r Reply) String() string {
	switch r.Type {
	case SimpleString:
		return r.Str
	case BulkString:
		if r.Null {
			return "<nil>"
		}
		return r.Str
	case Integer:
		return fmt.Sprintf("%d", r.Int)
	case Array:
		if r.Null {
			return "<nil array>"
		}
		return fmt.Sprintf("%v", r.Elems)
	case Error:
		return r.ErrMsg
	default:
		return "<invalid reply>"
	}
}

// IsError reports whether r is a RESP error reply.
func (r Reply) IsError() bool { return r.Type == Error }

// NullBulk builds the canonical nil bulk string reply.
func NullBulk() Reply { return Reply{Type: BulkString, Null: true} }

// NullArray builds the canonical nil array reply.
func NullArray() Reply { return Reply{Type: Array, Null: true} }
