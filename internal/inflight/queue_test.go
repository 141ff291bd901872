package inflight

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEntry struct {
	reply interface{}
	err   error
	fired int
}

func (e *recordingEntry) Complete(reply interface{}, err error) {
	e.reply, e.err = reply, err
	e.fired++
}

func TestQueueFIFO(t *testing.T) {
	q := New()
	a := &recordingEntry{}
	b := &recordingEntry{}
	q.Push(a)
	q.Push(b)
	require.Equal(t, 2, q.Len())

	first := q.PopFront()
	assert.Same(t, Entry(a), first)
	second := q.PopFront()
	assert.Same(t, Entry(b), second)
	assert.Nil(t, q.PopFront())
}

func TestQueueFailAll(t *testing.T) {
	q := New()
	a := &recordingEntry{}
	b := &recordingEntry{}
	q.Push(a)
	q.Push(b)

	err := errors.New("boom")
	drained := q.FailAll(err)

	assert.Len(t, drained, 2)
	assert.Equal(t, 1, a.fired)
	assert.Equal(t, err, a.err)
	assert.Equal(t, 1, b.fired)
	assert.Equal(t, 0, q.Len())
}
