package ioredis

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yohaiaga/ioredis/internal/inflight"
	"github.com/yohaiaga/ioredis/resp"
)

// newHarnessConnection wires a Connection to one end of an in-memory
// net.Pipe, already in the `ready` state, and drains the other end with
// serve, which writes canned RESP reply bytes for the requests it sees.
// It lets the batch/pipeline/transaction tests exercise the real
// read-loop and write path without a live redis-server.
func newHarnessConnection(t *testing.T, serve func(r *bufio.Reader, w io.Writer)) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	c := &Connection{
		opts:     (&Options{EnableOfflineQueue: true}).withDefaults(),
		inflight: inflight.New(),
		subs:     NewSubscriptionSet(),
		state:    StateReady,
		conn:     client,
		w:        bufio.NewWriter(client),
	}
	done := make(chan struct{})
	c.readDone = done
	go c.readLoop(client, done)
	go serve(bufio.NewReader(server), server)
	return c
}

func TestPipelineOrdering(t *testing.T) {
	// Scenario 2: INCR c, INCR c, INCR c against an absent key yields
	// [1, 2, 3] in submission order.
	n := 0
	conn := newHarnessConnection(t, func(r *bufio.Reader, w io.Writer) {
		for i := 0; i < 3; i++ {
			skipRequest(t, r)
			n++
			io.WriteString(w, ":"+itoaForTest(n)+"\r\n")
		}
	})

	p := NewPipeline(conn)
	p.Queue(NewCommand("incr", "c"))
	p.Queue(NewCommand("incr", "c"))
	p.Queue(NewCommand("incr", "c"))

	results, err := p.Run()
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, int64(1), results[0].Int)
	require.Equal(t, int64(2), results[1].Int)
	require.Equal(t, int64(3), results[2].Int)
}

func TestTransactionSuccess(t *testing.T) {
	// Scenario 3: MULTI; SET k 1; INCR k; EXEC yields
	// [OK, QUEUED, QUEUED, [OK, 2]].
	conn := newHarnessConnection(t, func(r *bufio.Reader, w io.Writer) {
		skipRequest(t, r) // MULTI
		io.WriteString(w, "+OK\r\n")
		skipRequest(t, r) // SET
		io.WriteString(w, "+QUEUED\r\n")
		skipRequest(t, r) // INCR
		io.WriteString(w, "+QUEUED\r\n")
		skipRequest(t, r) // EXEC
		io.WriteString(w, "*2\r\n+OK\r\n:2\r\n")
	})

	p := NewPipeline(conn)
	p.Multi()
	p.Queue(NewCommand("set", "k", 1))
	incr := NewCommand("incr", "k")
	p.Queue(incr)
	p.Exec()

	results, err := p.Run()
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Equal(t, "OK", results[0].Str)
	require.Equal(t, "QUEUED", results[1].Str)
	require.Equal(t, "QUEUED", results[2].Str)
	require.Equal(t, 2, len(results[3].Elems))
	require.Equal(t, "OK", results[3].Elems[0].Str)
	require.Equal(t, int64(2), results[3].Elems[1].Int)
}

func TestCheckSingleSlotCrossSlot(t *testing.T) {
	cmds := []*Command{NewCommand("set", "a", "1"), NewCommand("set", "b", "2")}
	_, err := CheckSingleSlot(cmds)
	require.Error(t, err)
	ierr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindCrossSlot, ierr.Kind)
}

func TestCheckSingleSlotSameSlot(t *testing.T) {
	cmds := []*Command{NewCommand("set", "user:{1}:a", "1"), NewCommand("get", "user:{1}:b")}
	slot, err := CheckSingleSlot(cmds)
	require.NoError(t, err)
	require.Equal(t, Slot("user:{1}:a"), slot)
}

func TestCheckSingleSlotNoKeys(t *testing.T) {
	cmds := []*Command{NewCommand("ping"), NewCommand("info")}
	slot, err := CheckSingleSlot(cmds)
	require.NoError(t, err)
	require.Equal(t, -1, slot)
}

func TestCompactIgnored(t *testing.T) {
	ask := Asking()
	get := NewCommand("get", "k")
	cmds := []*Command{ask, get}
	results := []resp.Reply{
		{Type: resp.SimpleString, Str: "OK"},
		{Type: resp.BulkString, Str: "v"},
	}

	outCmds, outResults := CompactIgnored(cmds, results)
	require.Len(t, outCmds, 1)
	require.Same(t, get, outCmds[0])
	require.Len(t, outResults, 1)
	require.Equal(t, "v", outResults[0].Str)
}

// skipRequest drains one full RESP array request off r without
// validating its contents, so the test server can focus on responses.
func skipRequest(t *testing.T, r *bufio.Reader) {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, len(line) > 0 && line[0] == '*')
	n := parseIntPrefix(t, line)
	for i := 0; i < n; i++ {
		typeLine, err := r.ReadString('\n')
		require.NoError(t, err)
		require.True(t, len(typeLine) > 0 && typeLine[0] == '$')
		blen := parseIntPrefix(t, typeLine)
		buf := make([]byte, blen+2)
		_, err = io.ReadFull(r, buf)
		require.NoError(t, err)
	}
}

func parseIntPrefix(t *testing.T, line string) int {
	t.Helper()
	n := 0
	neg := false
	for i := 1; i < len(line); i++ {
		c := line[i]
		if c == '\r' || c == '\n' {
			break
		}
		if c == '-' {
			neg = true
			continue
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func itoaForTest(n int) string {
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}
