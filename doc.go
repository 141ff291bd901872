// Package ioredis implements a RESP2 redis client: a connection
// lifecycle state machine, a command/reply pipeline, pub/sub,
// transactions, and a cluster mode with slot-aware routing and
// MOVED/ASK/TRYAGAIN/CLUSTERDOWN handling. See
// http://redis.io/topics/protocol and http://redis.io/topics/cluster-spec
// for the wire-level details this package implements against.
//
// Connection
//
// NewConnection builds a single-node connection; Connect dials and
// drives it to the ready state, replaying any commands queued while
// offline. Do submits a command and blocks for its reply; WriteBatch
// plus Pipeline let callers stream many commands over one write.
//
// Cluster
//
// NewCluster manages a set of node connections behind a slot map kept
// current by CLUSTER SLOTS refreshes and by MOVED replies observed
// during normal traffic. Do and Pipeline route automatically and follow
// redirections up to MaxRedirections; Bind pins a connection to the
// node owning a set of keys for callers that want explicit control,
// and AutoRetry wraps such a connection so MOVED/ASK replies on it are
// also followed automatically.
//
// Sentinel
//
// DiscoverPrimary, DiscoverReplicas, and ValidateSentinels query a
// Sentinel deployment for the current primary and replica set of a
// named service, for callers that want Sentinel-driven failover instead
// of (or ahead of) cluster mode.
//
// Redirections
//
// A redis cluster node returns MOVED when a slot moved permanently and
// ASK when it moved but the receiving node has not yet claimed it.
// Cluster.Do and Cluster.Pipeline follow both automatically up to
// MaxRedirections; a connection obtained via Cluster.Bind does not
// follow them by itself unless wrapped with AutoRetry, since Bind's
// whole purpose is to let the caller control node placement.
package ioredis
