package ioredis

import (
	"strconv"
	"strings"

	"github.com/yohaiaga/ioredis/resp"
)

// Encoding names how a caller prefers bulk string and array replies to be
// surfaced: as text (UTF-8) or as raw bytes. Command.ReplyEncoding holds it
// and Clone copies it, but nothing in this package reads it: a decoded
// resp.Reply carries both Str and Bytes for a bulk string, and
// Transformed/DoTransformed always return the text form.
type Encoding int

const (
	EncodingText Encoding = iota
	EncodingBinary
)

// Command holds everything needed to serialize a request, route it, and
// deliver its reply exactly once, per the "Command" entry of the data
// model: name, argument list, reply encoding preference, a one-shot
// completion handle, and flags derived from the static command table.
type Command struct {
	Name string
	Args []interface{}

	ReplyEncoding Encoding

	// Ignore marks a synthetic command (e.g. ASKING) whose reply must be
	// filtered out of batch results.
	Ignore bool

	// db is the logical database index in effect when this command was
	// written, captured by the connection for offline-queue replay.
	db int

	// prefixed guards ApplyKeyPrefix against running twice on the same
	// logical command, since Clone carries it forward into redirect
	// retries.
	prefixed bool

	flags commandFlags
	done  chan cmdResult
}

type cmdResult struct {
	reply resp.Reply
	err   error
}

// NewCommand builds a Command for name with args, looking up its flags in
// the static command table. Unknown names are treated as custom commands
// (IsCustom flag set).
func NewCommand(name string, args ...interface{}) *Command {
	lname := strings.ToLower(name)
	info, ok := commandTable[lname]
	if !ok {
		info = commandInfo{flags: flagIsCustom}
	}
	return &Command{
		Name:  lname,
		Args:  args,
		flags: info.flags,
		done:  make(chan cmdResult, 1),
	}
}

// Asking builds the synthetic ASKING command used to precede a
// redirected command on an ASK target. Its reply is discarded.
func Asking() *Command {
	c := NewCommand("asking")
	c.Ignore = true
	return c
}

func (c *Command) IsReadonly() bool            { return c.flags&flagReadonly != 0 }
func (c *Command) IsWrite() bool               { return c.flags&flagWrite != 0 }
func (c *Command) EntersSubscriberMode() bool  { return c.flags&flagEntersSubscriber != 0 }
func (c *Command) ExitsSubscriberMode() bool   { return c.flags&flagExitsSubscriber != 0 }
func (c *Command) WillDisconnect() bool        { return c.flags&flagWillDisconnect != 0 }
func (c *Command) ValidInMonitorMode() bool    { return c.flags&flagValidInMonitor != 0 }
func (c *Command) ValidInSubscriberMode() bool { return c.flags&flagValidInSubscriber != 0 }
func (c *Command) IsCustom() bool              { return c.flags&flagIsCustom != 0 }

// complete fires the command's completion handle exactly once, per the
// data model's invariant.
func (c *Command) complete(r resp.Reply, err error) {
	select {
	case c.done <- cmdResult{reply: r, err: err}:
	default:
		// already completed; a second completion would violate the
		// exactly-once invariant and is dropped rather than panicking,
		// mirroring a defensive no-op redisc's Cluster.Close uses
		// for its own idempotent error field.
	}
}

// Complete implements inflight.Entry so a Command can be pushed directly
// onto a connection's reply-pipeline queue.
func (c *Command) Complete(reply interface{}, err error) {
	r, _ := reply.(resp.Reply)
	c.complete(r, err)
}

// Wait blocks until the command's completion handle fires and returns
// the decoded reply or error.
func (c *Command) Wait() (resp.Reply, error) {
	res := <-c.done
	return res.reply, res.err
}

// Keys extracts the routing keys for this command using the static
// command table's key-position extractor. eval-class commands
// skip the leading numkeys argument.
func (c *Command) Keys() []string {
	info, ok := commandTable[c.Name]
	if !ok || info.keySpec.kind == keyNone {
		return nil
	}
	switch info.keySpec.kind {
	case keyIndex:
		var keys []string
		for i := info.keySpec.first; i < len(c.Args); i += info.keySpec.step {
			if i >= len(c.Args) {
				break
			}
			keys = append(keys, argString(c.Args[i]))
			if info.keySpec.last >= 0 && i >= info.keySpec.last {
				break
			}
		}
		return keys
	case keyNumkeys:
		if len(c.Args) == 0 {
			return nil
		}
		n, err := strconv.Atoi(argString(c.Args[0]))
		if err != nil || n <= 0 {
			return nil
		}
		var keys []string
		for i := 1; i <= n && i < len(c.Args); i++ {
			keys = append(keys, argString(c.Args[i]))
		}
		return keys
	default:
		return nil
	}
}

// Clone returns a fresh Command carrying the same name, args, flags and
// prefixed state but a new one-shot completion handle, for redirect
// retries that must resend the same request without re-prefixing its
// keys a second time.
func (c *Command) Clone() *Command {
	args := make([]interface{}, len(c.Args))
	copy(args, c.Args)
	return &Command{
		Name:          c.Name,
		Args:          args,
		ReplyEncoding: c.ReplyEncoding,
		Ignore:        c.Ignore,
		db:            c.db,
		prefixed:      c.prefixed,
		flags:         c.flags,
		done:          make(chan cmdResult, 1),
	}
}

// ApplyKeyPrefix prepends prefix to every argument Keys() would report as
// a routing key, in place. A no-op once already applied (tracked by
// prefixed) or when prefix is empty, so calling it again on a cloned
// retry command is safe.
func (c *Command) ApplyKeyPrefix(prefix string) {
	if prefix == "" || c.prefixed {
		return
	}
	c.prefixed = true
	info, ok := commandTable[c.Name]
	if !ok || info.keySpec.kind == keyNone {
		return
	}
	switch info.keySpec.kind {
	case keyIndex:
		for i := info.keySpec.first; i < len(c.Args); i += info.keySpec.step {
			c.Args[i] = prefix + argString(c.Args[i])
			if info.keySpec.last >= 0 && i >= info.keySpec.last {
				break
			}
		}
	case keyNumkeys:
		if len(c.Args) == 0 {
			return
		}
		n, err := strconv.Atoi(argString(c.Args[0]))
		if err != nil || n <= 0 {
			return
		}
		for i := 1; i <= n && i < len(c.Args); i++ {
			c.Args[i] = prefix + argString(c.Args[i])
		}
	}
}

func argString(a interface{}) string {
	switch v := a.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return string(resp.Bytes(a))
	}
}
