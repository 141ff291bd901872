package ioredis

import "sync"

// SubKind distinguishes channel subscriptions from pattern
// subscriptions.
type SubKind int

const (
	SubChannel SubKind = iota
	SubPattern
)

// SubscriptionSet tracks which channels and patterns a connection has
// subscribed to, so they can be replayed after a reconnect.
// unsubscribe/punsubscribe address the same
// two sets as subscribe/psubscribe.
type SubscriptionSet struct {
	mu       sync.Mutex
	channels map[string]struct{}
	patterns map[string]struct{}
}

// NewSubscriptionSet returns an empty set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

func (s *SubscriptionSet) setFor(kind SubKind) map[string]struct{} {
	if kind == SubPattern {
		return s.patterns
	}
	return s.channels
}

// Add records channel as subscribed under kind.
func (s *SubscriptionSet) Add(kind SubKind, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFor(kind)[channel] = struct{}{}
}

// Remove forgets channel under kind.
func (s *SubscriptionSet) Remove(kind SubKind, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.setFor(kind), channel)
}

// List returns the current members of kind's set.
func (s *SubscriptionSet) List(kind SubKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.setFor(kind)
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Clear empties kind's set entirely, for a no-argument
// UNSUBSCRIBE/PUNSUBSCRIBE that drops everything currently subscribed
// rather than naming channels or patterns one at a time.
func (s *SubscriptionSet) Clear(kind SubKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == SubPattern {
		s.patterns = make(map[string]struct{})
	} else {
		s.channels = make(map[string]struct{})
	}
}

// Empty reports whether both sets are empty.
func (s *SubscriptionSet) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels) == 0 && len(s.patterns) == 0
}

// kindForCommand maps a pub/sub command name to the SubKind whose set it
// mutates: unsubscribe/subscribe share the channel set, psubscribe/
// punsubscribe share the pattern set.
func kindForCommand(name string) (SubKind, bool) {
	switch name {
	case "subscribe", "unsubscribe":
		return SubChannel, true
	case "psubscribe", "punsubscribe":
		return SubPattern, true
	default:
		return SubChannel, false
	}
}
