package ioredis

import (
	"strconv"

	"github.com/yohaiaga/ioredis/resp"
)

// Pipeline is an ordered sequence of commands dispatched together.
// Queue appends a command; Run writes the whole batch in one buffer
// and resolves once every position has a reply.
type Pipeline struct {
	conn        *Connection
	cmds        []*Command
	txDepth     int
	unsupported error // set on Pipelines that must reject Run outright
}

// NewPipeline returns an empty pipeline bound to conn.
func NewPipeline(conn *Connection) *Pipeline {
	return &Pipeline{conn: conn}
}

// unsupportedPipeline returns a Pipeline whose Run always fails with err,
// for Commander implementations that accept Queue calls for introspection
// but cannot safely dispatch a batch.
func unsupportedPipeline(err error) *Pipeline {
	return &Pipeline{unsupported: err}
}

// Queue appends cmd to the batch without writing it yet.
func (p *Pipeline) Queue(cmd *Command) *Pipeline {
	p.cmds = append(p.cmds, cmd)
	return p
}

// Len reports the number of queued commands.
func (p *Pipeline) Len() int { return len(p.cmds) }

// Commands returns the queued commands, for callers that need to inspect
// keys/flags before Exec (the cluster router's single-slot check).
func (p *Pipeline) Commands() []*Command { return p.cmds }

// Multi begins a transaction: it increments the nesting counter and
// queues a MULTI command.
func (p *Pipeline) Multi() *Pipeline {
	p.txDepth++
	return p.Queue(NewCommand("multi"))
}

// Exec queues the EXEC command that closes the transaction opened by
// Multi. It does not itself dispatch the batch — call
// Pipeline.Run to write and collect results, exactly as for a pipeline
// without a transaction.
func (p *Pipeline) Exec() *Pipeline {
	p.txDepth--
	return p.Queue(NewCommand("exec"))
}

// Run writes every queued command in one buffer and blocks until all
// positions have replies. The returned
// slice has the same length as Commands() after ignore-compaction
// (synthetic ASKING commands are dropped), matching the testable
// property that a pipeline's positional result vector equals the
// submitted command vector's length post-compaction.
func (p *Pipeline) Run() ([]resp.Reply, error) {
	if p.unsupported != nil {
		return nil, p.unsupported
	}
	if len(p.cmds) == 0 {
		return nil, nil
	}
	if err := p.conn.WriteBatch(p.cmds); err != nil {
		for _, cmd := range p.cmds {
			cmd.complete(resp.Reply{}, err)
		}
		return nil, err
	}

	results := make([]resp.Reply, 0, len(p.cmds))
	for _, cmd := range p.cmds {
		r, err := cmd.Wait()
		if cmd.Ignore {
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// RunTransformed behaves like Run but decodes and transforms each reply
// the way Command.Transformed does for a single command, so e.g. a
// queued HGETALL comes back as a map instead of a raw pairs array.
func (p *Pipeline) RunTransformed() ([]interface{}, error) {
	results, err := p.Run()
	if err != nil {
		return nil, err
	}
	stringify := p.conn != nil && p.conn.opts.StringifyNumbers
	out := make([]interface{}, 0, len(results))
	i := 0
	for _, cmd := range p.cmds {
		if cmd.Ignore {
			continue
		}
		if i >= len(results) {
			break
		}
		out = append(out, cmd.Transformed(results[i], stringify))
		i++
	}
	return out, nil
}

// QueuedBetween returns the commands queued between the opening MULTI
// and closing EXEC at depth 1, in order, so a caller can align them with
// EXEC's sub-reply array via TransformedExec.
func QueuedBetween(cmds []*Command) []*Command {
	var queued []*Command
	depth := 0
	for _, cmd := range cmds {
		switch cmd.Name {
		case "multi":
			depth++
		case "exec", "discard":
			if depth > 0 {
				depth--
			}
		default:
			if depth > 0 {
				queued = append(queued, cmd)
			}
		}
	}
	return queued
}

// TransformedExec decodes EXEC's raw sub-replies into Go values, applying
// each queued command's reply transform. Use this instead of
// indexing into the raw Pipeline.Run result when the transaction mixes
// commands whose replies need reshaping (e.g. HGETALL).
func TransformedExec(queued []*Command, execReply resp.Reply, stringifyNumbers bool) ([]interface{}, error) {
	if execReply.IsError() {
		return nil, &Error{Kind: KindReply, Name: execReply.ErrName, Message: execReply.ErrMsg}
	}
	if execReply.Null {
		return nil, &Error{Kind: KindReply, Name: "EXECABORT", Message: "transaction discarded"}
	}
	out := make([]interface{}, len(execReply.Elems))
	for i, sub := range execReply.Elems {
		val := decodeToGo(sub, stringifyNumbers)
		if i < len(queued) {
			val = transformReply(queued[i].Name, val)
		}
		out[i] = val
	}
	return out, nil
}

// decodeToGo converts a raw reply into the plain Go value application
// code sees. stringifyNumbers converts an Integer reply into its decimal
// string form instead of an int64, per Options.StringifyNumbers — useful
// for values a dynamically-typed caller downstream cannot represent
// exactly as a native number.
func decodeToGo(r resp.Reply, stringifyNumbers bool) interface{} {
	switch r.Type {
	case resp.SimpleString:
		return r.Str
	case resp.BulkString:
		if r.Null {
			return nil
		}
		return r.Str
	case resp.Integer:
		if stringifyNumbers {
			return strconv.FormatInt(r.Int, 10)
		}
		return r.Int
	case resp.Array:
		if r.Null {
			return nil
		}
		out := make([]interface{}, len(r.Elems))
		for i, e := range r.Elems {
			out[i] = decodeToGo(e, stringifyNumbers)
		}
		return out
	case resp.Error:
		return &Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg}
	default:
		return nil
	}
}

// Transformed decodes r the way TransformedExec decodes an EXEC sub-reply
// and applies this command's reply transform (commandtable.go's
// transformReply) — e.g. HGETALL's array-of-pairs reply becomes a
// map[string]interface{}.
func (cmd *Command) Transformed(r resp.Reply, stringifyNumbers bool) interface{} {
	return transformReply(cmd.Name, decodeToGo(r, stringifyNumbers))
}

// CheckSingleSlot enforces the single-slot rule for a cluster pipeline:
// before the first write, compute the slots of all key-bearing commands; if they
// diverge, the caller must fail the pipeline with CrossSlot before any
// byte is sent. If no command provides keys, a slot is chosen instead
// (the caller may pick any slot — this function returns -1 to signal
// "no key-derived constraint").
func CheckSingleSlot(cmds []*Command) (slot int, err error) {
	var allKeys []string
	hasKeys := false
	for _, cmd := range cmds {
		if cmd.IsCustom() {
			return -1, newError(KindCustomInPipeline, "%s is a custom command in a cluster pipeline", cmd.Name)
		}
		keys := cmd.Keys()
		if len(keys) > 0 {
			hasKeys = true
			allKeys = append(allKeys, keys...)
		}
	}
	if !hasKeys {
		return -1, nil
	}
	slot = multiSlot(allKeys)
	if slot == -1 {
		return -1, newError(KindCrossSlot, "pipeline spans multiple hash slots")
	}
	return slot, nil
}

// CompactIgnored removes the positions of synthetic ignore-flagged
// commands (e.g. ASKING) from cmds and results in place.
func CompactIgnored(cmds []*Command, results []resp.Reply) ([]*Command, []resp.Reply) {
	outCmds := make([]*Command, 0, len(cmds))
	outResults := make([]resp.Reply, 0, len(results))
	ri := 0
	for _, cmd := range cmds {
		if cmd.Ignore {
			if ri < len(results) {
				ri++
			}
			continue
		}
		outCmds = append(outCmds, cmd)
		if ri < len(results) {
			outResults = append(outResults, results[ri])
			ri++
		}
	}
	return outCmds, outResults
}
