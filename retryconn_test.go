package ioredis

import (
	"bufio"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoRetryFollowsMoved(t *testing.T) {
	oldNode := newFakeNode(t, func(r *bufio.Reader, w io.Writer) {
		skipClusterRemainder(t, r)
		io.WriteString(w, "-MOVED 866 127.0.0.1:7001\r\n")
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

	rc := AutoRetry(oldNode, c)
	r, err := rc.Do(NewCommand("get", "foo"))
	require.NoError(t, err)
	require.Equal(t, "hi", r.Str)
}

func TestAutoRetryPipelineRejected(t *testing.T) {
	c := &Cluster{opts: (&ClusterOptions{}).withDefaults(), preferKey: make(map[int]string)}
	conn := newFakeNode(t, func(r *bufio.Reader, w io.Writer) {})
	rc := AutoRetry(conn, c)

	p := rc.Pipeline()
	p.Queue(NewCommand("get", "foo"))
	_, err := p.Run()
	require.Error(t, err)
	ierr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindAbort, ierr.Kind)
}
