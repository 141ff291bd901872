package ioredis

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yohaiaga/ioredis/internal/inflight"
)

// newFakeNode wires a *Connection in the `ready` state to one end of a
// net.Pipe and drains the other end with serve, the same harness pattern
// as batch_test.go's newHarnessConnection, adapted to double as a
// cluster node the pool can route to.
func newFakeNode(t *testing.T, serve func(r *bufio.Reader, w io.Writer)) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	c := &Connection{
		opts:     (&Options{}).withDefaults(),
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

func TestClusterDoFollowsMoved(t *testing.T) {
	// Scenario 4: GET on a node that no longer owns the slot replies
	// MOVED once, the client resends to the new node, and the caller
	// observes only the final value.
	oldNode := newFakeNode(t, func(r *bufio.Reader, w io.Writer) {
		skipClusterRemainder(t, r)
		io.WriteString(w, "-MOVED 12182 127.0.0.1:7001\r\n")
	})
	newNode := newFakeNode(t, func(r *bufio.Reader, w io.Writer) {
		skipClusterRemainder(t, r)
		io.WriteString(w, "$2\r\nhi\r\n")
	})

	c := &Cluster{
		opts:      (&ClusterOptions{}).withDefaults(),
		preferKey: make(map[int]string),
	}
	c.pool = newNodePool(func(key string) (*Connection, error) {
		switch key {
		case "127.0.0.1:7000":
			return oldNode, nil
		case "127.0.0.1:7001":
			return newNode, nil
		}
		return nil, newError(KindClusterAllFailed, "unknown node %s", key)
	}, NopEventSink{})

	slot := Slot("foo")
	c.mapping[slot] = []string{"127.0.0.1:7000"}
	_, _, err := c.pool.FindOrCreate("127.0.0.1:7000", false)
	require.NoError(t, err)

	r, err := c.Do(NewCommand("get", "foo"))
	require.NoError(t, err)
	require.Equal(t, "hi", r.Str)
	require.Equal(t, "127.0.0.1:7001", c.preferKey[slot])
}

func TestClusterDoRespectsMaxRedirections(t *testing.T) {
	node := newFakeNode(t, func(r *bufio.Reader, w io.Writer) {
		for {
			if !skipClusterRemainder(t, r) {
				return
			}
			io.WriteString(w, "-TRYAGAIN multiple keys request during rehashing\r\n")
		}
	})

	c := &Cluster{
		opts:      (&ClusterOptions{MaxRedirections: 2, RetryDelayOnTryAgain: 0}).withDefaults(),
		preferKey: make(map[int]string),
	}
	c.pool = newNodePool(func(key string) (*Connection, error) { return node, nil }, NopEventSink{})
	slot := Slot("foo")
	c.mapping[slot] = []string{"127.0.0.1:7000"}

	_, err := c.Do(NewCommand("get", "foo"))
	require.Error(t, err)
	ierr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindMaxRedirections, ierr.Kind)
}

func TestClusterPipelineRejectsCrossSlot(t *testing.T) {
	c := &Cluster{opts: (&ClusterOptions{}).withDefaults(), preferKey: make(map[int]string)}
	_, err := c.Pipeline([]*Command{NewCommand("set", "a", "1"), NewCommand("set", "b", "2")})
	require.Error(t, err)
	ierr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindCrossSlot, ierr.Kind)
}

func TestParseClusterSlots(t *testing.T) {
	node := newFakeNode(t, func(r *bufio.Reader, w io.Writer) {
		skipClusterRemainder(t, r)
		io.WriteString(w, "*1\r\n*3\r\n:0\r\n:5460\r\n*2\r\n$9\r\n127.0.0.1\r\n:7000\r\n")
	})
	r, err := node.Do(NewCommand("cluster", "slots"))
	require.NoError(t, err)

	mapping, nodes, err := parseClusterSlots(r)
	require.NoError(t, err)
	require.Equal(t, []string{"127.0.0.1:7000"}, mapping[0])
	require.Equal(t, []string{"127.0.0.1:7000"}, mapping[5460])
	require.Nil(t, mapping[5461])
	require.Equal(t, RolePrimary, nodes["127.0.0.1:7000"])
}

// skipClusterRemainder drains one full RESP array request off r without
// validating its contents, reporting whether a request was read.
func skipClusterRemainder(t *testing.T, r *bufio.Reader) bool {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		return false
	}
	if len(line) == 0 || line[0] != '*' {
		return false
	}
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
		n = 0
	}
	for i := 0; i < n; i++ {
		typeLine, err := r.ReadString('\n')
		require.NoError(t, err)
		require.True(t, len(typeLine) > 0 && typeLine[0] == '$')
		blen := 0
		for j := 1; j < len(typeLine); j++ {
			if typeLine[j] == '\r' || typeLine[j] == '\n' {
				break
			}
			blen = blen*10 + int(typeLine[j]-'0')
		}
		buf := make([]byte, blen+2)
		_, err = io.ReadFull(r, buf)
		require.NoError(t, err)
	}
	return true
}
