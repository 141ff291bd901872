package ioredis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionSetAddRemove(t *testing.T) {
	s := NewSubscriptionSet()
	assert.True(t, s.Empty())

	s.Add(SubChannel, "ch1")
	s.Add(SubChannel, "ch2")
	s.Add(SubPattern, "news.*")

	assert.False(t, s.Empty())
	assert.ElementsMatch(t, []string{"ch1", "ch2"}, s.List(SubChannel))
	assert.ElementsMatch(t, []string{"news.*"}, s.List(SubPattern))

	s.Remove(SubChannel, "ch1")
	assert.ElementsMatch(t, []string{"ch2"}, s.List(SubChannel))

	s.Remove(SubPattern, "news.*")
	s.Remove(SubChannel, "ch2")
	assert.True(t, s.Empty())
}

func TestKindForCommand(t *testing.T) {
	cases := []struct {
		name string
		kind SubKind
		ok   bool
	}{
		{"subscribe", SubChannel, true},
		{"unsubscribe", SubChannel, true},
		{"psubscribe", SubPattern, true},
		{"punsubscribe", SubPattern, true},
		{"get", SubChannel, false},
	}
	for _, c := range cases {
		kind, ok := kindForCommand(c.name)
		assert.Equal(t, c.ok, ok, c.name)
		if ok {
			assert.Equal(t, c.kind, kind, c.name)
		}
	}
}

func TestSubscriptionSetClear(t *testing.T) {
	s := NewSubscriptionSet()
	s.Add(SubChannel, "ch1")
	s.Add(SubChannel, "ch2")
	s.Add(SubPattern, "news.*")

	s.Clear(SubChannel)
	assert.Empty(t, s.List(SubChannel))
	assert.ElementsMatch(t, []string{"news.*"}, s.List(SubPattern))

	s.Clear(SubPattern)
	assert.True(t, s.Empty())
}

func TestSubscriptionSetEqualsAddRemoveMultiset(t *testing.T) {
	// After any sequence of subscribe/unsubscribe, the subscription set
	// equals the multiset of add/remove operations applied to the empty
	// set.
	s := NewSubscriptionSet()
	ops := []struct {
		add  bool
		ch   string
	}{
		{true, "a"}, {true, "b"}, {false, "a"}, {true, "c"}, {false, "b"},
	}
	want := map[string]struct{}{}
	for _, op := range ops {
		if op.add {
			s.Add(SubChannel, op.ch)
			want[op.ch] = struct{}{}
		} else {
			s.Remove(SubChannel, op.ch)
			delete(want, op.ch)
		}
	}
	got := map[string]struct{}{}
	for _, c := range s.List(SubChannel) {
		got[c] = struct{}{}
	}
	assert.Equal(t, want, got)
}
