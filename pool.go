package ioredis

import (
	"math/rand"
	"sync"
)

// Role is a node's position in a cluster shard.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

// nodePool is the keyed connection pool for a cluster:
// node_key -> *Connection, partitioned into "all", "primary", and
// "replica" views. Generalizes redisc's Cluster.pools
// map[string]*redis.Pool into a pool of this module's own Connection.
type nodePool struct {
	mu      sync.Mutex
	all     map[string]*Connection
	roles   map[string]Role
	connect func(key string) (*Connection, error)
	events  EventSink
}

func newNodePool(connect func(key string) (*Connection, error), events EventSink) *nodePool {
	if events == nil {
		events = NopEventSink{}
	}
	return &nodePool{
		all:     make(map[string]*Connection),
		roles:   make(map[string]Role),
		connect: connect,
		events:  events,
	}
}

// FindOrCreate atomically reuses or creates a connection for key. If the
// connection exists but its role flag differs from readOnly, it is
// flipped (READONLY/READWRITE is issued by the caller, since that
// requires a round trip this pool does not make on the caller's
// behalf) and moved between role views.
func (p *nodePool) FindOrCreate(key string, readOnly bool) (*Connection, bool, error) {
	p.mu.Lock()
	if c, ok := p.all[key]; ok {
		wantRole := RolePrimary
		if readOnly {
			wantRole = RoleReplica
		}
		roleChanged := p.roles[key] != wantRole
		p.roles[key] = wantRole
		p.mu.Unlock()
		return c, roleChanged, nil
	}
	p.mu.Unlock()

	c, err := p.connect(key)
	if err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	if existing, ok := p.all[key]; ok {
		// another goroutine created it first; dedupe to a single
		// creation per key.
		wantRole := RolePrimary
		if readOnly {
			wantRole = RoleReplica
		}
		roleChanged := p.roles[key] != wantRole
		p.roles[key] = wantRole
		p.mu.Unlock()
		_ = c.Disconnect(false)
		return existing, roleChanged, nil
	}
	p.all[key] = c
	role := RolePrimary
	if readOnly {
		role = RoleReplica
	}
	p.roles[key] = role
	p.mu.Unlock()

	p.events.OnNodeAdded(key)
	// a freshly dialed connection defaults to READWRITE mode; report a
	// role change whenever the caller wants replica routing so it
	// issues READONLY before sending traffic.
	return c, readOnly, nil
}

// Reset disconnects connections for keys absent from nodes and creates
// connections for new keys. After Reset, the pool's key set equals the
// union of nodes' keys.
func (p *nodePool) Reset(nodes map[string]Role) {
	p.mu.Lock()
	var toRemove []string
	for key := range p.all {
		if _, ok := nodes[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		c := p.all[key]
		delete(p.all, key)
		delete(p.roles, key)
		p.mu.Unlock()
		_ = c.Disconnect(false)
		p.events.OnNodeRemoved(key)
		p.mu.Lock()
	}
	for key, role := range nodes {
		if _, ok := p.all[key]; ok {
			p.roles[key] = role
			continue
		}
		p.mu.Unlock()
		c, err := p.connect(key)
		p.mu.Lock()
		if err != nil {
			continue
		}
		p.all[key] = c
		p.roles[key] = role
		p.mu.Unlock()
		p.events.OnNodeAdded(key)
		p.mu.Lock()
	}
	drained := len(p.all) == 0
	p.mu.Unlock()

	if drained {
		p.events.OnDrain()
	}
}

// Sample uniformly picks a random connection among the role's view.
func (p *nodePool) Sample(role Role) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var candidates []*Connection
	for key, c := range p.all {
		if p.roles[key] == role {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// Get returns the connection for key, if present.
func (p *nodePool) Get(key string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.all[key]
	return c, ok
}

// Keys returns every known node key.
func (p *nodePool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.all))
	for k := range p.all {
		keys = append(keys, k)
	}
	return keys
}

// Len reports the number of pooled connections, across all roles.
func (p *nodePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// CloseAll disconnects every pooled connection, for cluster shutdown.
func (p *nodePool) CloseAll() {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.all))
	for _, c := range p.all {
		conns = append(conns, c)
	}
	p.all = make(map[string]*Connection)
	p.roles = make(map[string]Role)
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Disconnect(false)
	}
	p.events.OnDrain()
}
