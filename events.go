package ioredis

import (
	"net"
	"strconv"
)

// EventSink receives lifecycle events from a Connection, Pool, or
// Cluster, modeled as a typed set of callbacks rather than an emitter
// object. Tests inject a
// recording sink; production callers can wire this to their own metrics
// or logging without this package depending on either.
type EventSink interface {
	OnConnect()
	OnReady()
	OnError(err error)
	OnClose()
	OnReconnecting(attempt int, delay int64)
	OnNodeAdded(key string)
	OnNodeRemoved(key string)
	OnDrain()
}

// NopEventSink discards every event. It is the default for Options and
// ClusterOptions so callers never have to supply a sink just to avoid a
// nil-pointer panic.
type NopEventSink struct{}

func (NopEventSink) OnConnect()                       {}
func (NopEventSink) OnReady()                         {}
func (NopEventSink) OnError(err error)                {}
func (NopEventSink) OnClose()                         {}
func (NopEventSink) OnReconnecting(attempt int, delay int64) {}
func (NopEventSink) OnNodeAdded(key string)           {}
func (NopEventSink) OnNodeRemoved(key string)         {}
func (NopEventSink) OnDrain()                         {}

// nodeKey canonicalizes a host:port pair so all lookups for a given
// logical node converge on the same key — IPv6 literals normalize the
// same way regardless of how they were written by the caller.
func nodeKey(host string, port int) string {
	return joinHostPort(host, port)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
