package ioredis

import (
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/yohaiaga/ioredis/internal/logctx"
	"github.com/yohaiaga/ioredis/resp"
)

// ScaleReads selects which role read-only commands are routed to.
type ScaleReads int

const (
	ScaleMaster ScaleReads = iota
	ScaleSlave
	ScaleAll
)

// ClusterOptions configures a Cluster. ConnOptions is a template applied to every node
// connection the cluster opens (password, TLS, timeouts); its Host/Port
// are overwritten per node. Generalizes redisc's StartupNodes and
// DialOptions into a single struct.
type ClusterOptions struct {
	Seeds       []string // "host:port" seed list
	ConnOptions Options

	ScaleReads           ScaleReads
	MaxRedirections      int
	RetryDelayOnTryAgain time.Duration
	SlotsRefreshTimeout  time.Duration

	Sentinels           []string
	SentinelServiceName string

	// SentinelNATMap rewrites addresses Sentinel reports, for a Sentinel
	// deployment behind a NAT or container network.
	SentinelNATMap NATMap

	// UpdateSentinels, when true, lets ValidateSentinels (called by
	// Boot) expand the Sentinels list with peers a live sentinel
	// reports via SENTINEL sentinels, instead of using exactly the
	// configured list.
	UpdateSentinels bool

	Events EventSink
}

func (o *ClusterOptions) withDefaults() *ClusterOptions {
	cp := *o
	if cp.MaxRedirections == 0 {
		cp.MaxRedirections = 16
	}
	if cp.RetryDelayOnTryAgain == 0 {
		cp.RetryDelayOnTryAgain = 100 * time.Millisecond
	}
	if cp.SlotsRefreshTimeout == 0 {
		cp.SlotsRefreshTimeout = 5 * time.Second
	}
	if cp.Events == nil {
		cp.Events = NopEventSink{}
	}
	if cp.ConnOptions.Logger == nil {
		cp.ConnOptions.Logger = logctx.Discard
	}
	return &cp
}

// Cluster manages a redis cluster: a slot-to-node map, a connection pool,
// and the MOVED/ASK/TRYAGAIN redirection and slot-refresh logic. Generalizes the
// redisc's Cluster (StartupNodes, pools map[string]*redis.Pool, mapping
// [hashSlots]string) with richer per-slot data (primary + replicas
// instead of one address) and a router that understands read/write
// intent, backed by this module's own nodePool instead of redigo pools.
type Cluster struct {
	opts *ClusterOptions

	mu         sync.Mutex
	mapping    [hashSlots][]string // index 0 = primary, rest = replicas
	preferKey  map[int]string      // slot -> node override from the last MOVED/ASK
	refreshing bool
	closed     bool

	pool *nodePool
}

// NewCluster builds a Cluster from opts. Boot performs the initial slot
// refresh; redisc recommends calling Refresh before first use, so
// Boot mirrors that recommendation as a required step instead of an
// optional courtesy, since this module has no lazy per-command bootstrap
// path.
func NewCluster(opts *ClusterOptions) *Cluster {
	o := opts.withDefaults()
	c := &Cluster{
		opts:      o,
		preferKey: make(map[int]string),
	}
	c.pool = newNodePool(c.dialNode, o.Events)
	return c
}

func (c *Cluster) dialNode(key string) (*Connection, error) {
	connOpts := c.opts.ConnOptions
	host, portStr, err := net.SplitHostPort(key)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Cause: err}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Cause: err}
	}
	connOpts.Host = host
	connOpts.Port = port
	conn := NewConnection(&connOpts)
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	return conn, nil
}

// Boot discovers the initial topology — from Seeds, or via Sentinel
// discovery when Sentinels is set — and performs the first slot
// refresh.
func (c *Cluster) Boot() error {
	seeds := c.opts.Seeds
	if len(c.opts.Sentinels) > 0 {
		sentinels := ValidateSentinels(c.opts.Sentinels, c.opts.SentinelServiceName, &c.opts.ConnOptions, c.opts.SentinelNATMap, c.opts.UpdateSentinels)
		addr, err := DiscoverPrimary(sentinels, c.opts.SentinelServiceName, &c.opts.ConnOptions, c.opts.SentinelNATMap)
		if err != nil {
			return err
		}
		seeds = []string{addr}
	}
	if len(seeds) == 0 {
		return newError(KindClusterAllFailed, "no seed nodes configured")
	}
	var lastErr error
	for _, s := range seeds {
		if _, _, err := c.pool.FindOrCreate(s, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return lastErr
	}
	return c.Refresh()
}

// Refresh updates the slot-to-node map by calling CLUSTER SLOTS on each
// known node until one succeeds. Concurrent refresh requests
// coalesce: at most one is in flight. A caller that arrives while one is
// running returns nil at once without starting its own; it does not wait
// for the running refresh and does not see its result. Generalizes the
// redisc's refreshing-flag guard in needsRefresh/refresh.
func (c *Cluster) Refresh() error {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		return nil
	}
	c.refreshing = true
	c.mu.Unlock()

	err := c.refresh()

	c.mu.Lock()
	c.refreshing = false
	c.mu.Unlock()
	return err
}

func (c *Cluster) refresh() error {
	for _, addr := range c.pool.Keys() {
		conn, _, err := c.pool.FindOrCreate(addr, false)
		if err != nil {
			continue
		}
		r, err := conn.Do(NewCommand("cluster", "slots"))
		if err != nil {
			continue
		}
		newMapping, nodes, perr := parseClusterSlots(r)
		if perr != nil {
			continue
		}
		c.mu.Lock()
		c.mapping = newMapping
		c.preferKey = make(map[int]string)
		c.mu.Unlock()
		c.pool.Reset(nodes)
		c.opts.ConnOptions.Logger.Printf("slot map refreshed from %s, %d nodes", addr, len(nodes))
		return nil
	}
	return newError(KindClusterAllFailed, "all nodes failed to answer CLUSTER SLOTS")
}

// parseClusterSlots decodes a CLUSTER SLOTS reply into a slot mapping
// and the set of node keys seen (primaries and replicas), generalizing
// redisc's getClusterSlots/slotMapping parsing of the same reply
// shape.
func parseClusterSlots(r resp.Reply) (mapping [hashSlots][]string, nodes map[string]Role, err error) {
	nodes = make(map[string]Role)
	if r.Type != resp.Array {
		return mapping, nodes, newError(KindProtocol, "CLUSTER SLOTS did not return an array")
	}
	for _, rangeReply := range r.Elems {
		if rangeReply.Type != resp.Array || len(rangeReply.Elems) < 3 {
			continue
		}
		start := int(rangeReply.Elems[0].Int)
		end := int(rangeReply.Elems[1].Int)
		var addrs []string
		for i := 2; i < len(rangeReply.Elems); i++ {
			nodeInfo := rangeReply.Elems[i]
			if nodeInfo.Type != resp.Array || len(nodeInfo.Elems) < 2 {
				continue
			}
			host := nodeInfo.Elems[0].Str
			port := nodeInfo.Elems[1].Int
			addr := joinHostPort(host, int(port))
			addrs = append(addrs, addr)
			role := RoleReplica
			if i == 2 {
				role = RolePrimary
			}
			nodes[addr] = role
		}
		for slot := start; slot <= end && slot < hashSlots; slot++ {
			mapping[slot] = addrs
		}
	}
	return mapping, nodes, nil
}

// route selects the connection to send cmd on: no keys -> random
// primary; one slot -> primary for writes, optionally
// a replica for reads when ScaleReads allows it; a prior MOVED/ASK
// redirection for this slot overrides the choice. Generalizes the
// redisc's getConn(preferredSlot, forceDial).
func (c *Cluster) route(cmd *Command, inTransaction bool) (conn *Connection, slot int, err error) {
	keys := cmd.Keys()
	slot = multiSlot(keys)
	if slot == -1 && len(keys) > 1 {
		return nil, -1, newError(KindCrossSlot, "command spans multiple hash slots")
	}

	if slot == -1 {
		conn, ok := c.pool.Sample(RolePrimary)
		if !ok {
			return nil, -1, newError(KindClusterAllFailed, "no primary available")
		}
		return conn, -1, nil
	}

	c.mu.Lock()
	if pref, ok := c.preferKey[slot]; ok {
		c.mu.Unlock()
		conn, roleChanged, err := c.pool.FindOrCreate(pref, false)
		if err != nil {
			return nil, slot, err
		}
		if roleChanged {
			if err := ensureRole(conn, false); err != nil {
				return nil, slot, err
			}
		}
		return conn, slot, nil
	}
	nodesForSlot := c.mapping[slot]
	c.mu.Unlock()

	if len(nodesForSlot) == 0 {
		return nil, slot, newError(KindClusterAllFailed, "no node known for slot")
	}

	useReplica := !inTransaction && cmd.IsReadonly() && c.opts.ScaleReads != ScaleMaster && len(nodesForSlot) > 1
	addr := nodesForSlot[0]
	if useReplica {
		addr = nodesForSlot[1+rand.Intn(len(nodesForSlot)-1)]
	}
	conn, roleChanged, err := c.pool.FindOrCreate(addr, useReplica)
	if err != nil {
		return nil, slot, err
	}
	if roleChanged {
		if err := ensureRole(conn, useReplica); err != nil {
			return nil, slot, err
		}
	}
	return conn, slot, nil
}

// ensureRole issues READONLY or READWRITE on conn, for a pool connection
// whose role view just flipped: a real cluster replica rejects reads from
// a connection that was never put in READONLY mode, and a connection
// switched back to primary duty needs READWRITE to accept writes again.
func ensureRole(conn *Connection, readOnly bool) error {
	name := "readwrite"
	if readOnly {
		name = "readonly"
	}
	_, err := conn.Do(NewCommand(name))
	return err
}

// Do submits cmd to the cluster, handling MOVED/ASK/TRYAGAIN/CLUSTERDOWN
// redirections, bounded by MaxRedirections. Generalizes redisc's Conn.Do, which returns
// the raw MOVED/ASK error to the caller instead of following it.
func (c *Cluster) Do(cmd *Command) (resp.Reply, error) {
	cmd.ApplyKeyPrefix(c.opts.ConnOptions.KeyPrefix)

	asking := false
	remaining := c.opts.MaxRedirections

	for {
		conn, slot, err := c.route(cmd, false)
		if err != nil {
			return resp.Reply{}, err
		}

		if asking {
			// an ASK override applies to this one attempt only
			c.mu.Lock()
			delete(c.preferKey, slot)
			c.mu.Unlock()
			if _, err := conn.Do(Asking()); err != nil {
				return resp.Reply{}, err
			}
			asking = false
		}

		fresh := cmd.Clone()
		r, err := conn.Do(fresh)
		if err == nil {
			return r, nil
		}

		if remaining <= 0 {
			return resp.Reply{}, newError(KindMaxRedirections, "redirection limit reached for %s", cmd.Name)
		}

		switch ReplyClassOf(err) {
		case ReplyMoved:
			remaining--
			if re := ParseRedir(err); re != nil {
				c.opts.ConnOptions.Logger.Printf("MOVED slot %d to %s for %s", re.NewSlot, re.Addr, cmd.Name)
				c.rememberRedirect(re.NewSlot, re.Addr)
				go c.Refresh()
			}
			continue
		case ReplyAsk:
			remaining--
			if re := ParseRedir(err); re != nil {
				c.opts.ConnOptions.Logger.Printf("ASK slot %d to %s for %s", re.NewSlot, re.Addr, cmd.Name)
				c.mu.Lock()
				c.preferKey[slot] = re.Addr
				c.mu.Unlock()
				asking = true
			}
			continue
		case ReplyTryAgain, ReplyClusterDown:
			remaining--
			c.opts.ConnOptions.Logger.Printf("%v for %s, retrying after %v", err, cmd.Name, c.opts.RetryDelayOnTryAgain)
			time.Sleep(c.opts.RetryDelayOnTryAgain)
			continue
		default:
			return r, err
		}
	}
}

// DoTransformed behaves like Do but decodes and transforms the reply the
// same way Connection.DoTransformed does for a single node.
func (c *Cluster) DoTransformed(cmd *Command) (interface{}, error) {
	r, err := c.Do(cmd)
	if err != nil {
		return nil, err
	}
	return cmd.Transformed(r, c.opts.ConnOptions.StringifyNumbers), nil
}

func (c *Cluster) rememberRedirect(slot int, addr string) {
	c.mu.Lock()
	c.preferKey[slot] = addr
	c.mu.Unlock()
}

// Pipeline submits cmds as a single-slot batch (checked with
// CheckSingleSlot before any byte is written) and applies cluster-aware
// retry analysis afterward.
func (c *Cluster) Pipeline(cmds []*Command) ([]resp.Reply, error) {
	for _, cmd := range cmds {
		cmd.ApplyKeyPrefix(c.opts.ConnOptions.KeyPrefix)
	}
	if _, err := CheckSingleSlot(cmds); err != nil {
		return nil, err
	}

	remaining := c.opts.MaxRedirections
	working := cmds
	asking := false

	for {
		conn, slot, err := c.routeBatch(working)
		if err != nil {
			return nil, err
		}

		dispatch := working
		if asking {
			// an ASK override applies to this one attempt only
			c.mu.Lock()
			delete(c.preferKey, slot)
			c.mu.Unlock()
			dispatch = append([]*Command{Asking()}, working...)
		}

		p := NewPipeline(conn)
		for _, cmd := range dispatch {
			p.Queue(cmd)
		}
		results, runErr := p.Run()

		compactedCmds, compacted := CompactIgnored(dispatch, results)

		if runErr == nil && !anyRetriable(compacted) {
			return compacted, nil
		}
		if remaining <= 0 {
			return compacted, newError(KindMaxRedirections, "redirection limit reached for pipeline")
		}
		if !retriableAsWhole(compactedCmds, compacted, runErr) {
			return compacted, firstError(compacted, runErr)
		}

		remaining--
		asking = c.planRetry(slot, compacted, runErr)
		// commands are one-shot (their completion handle fires exactly
		// once), so the retry needs fresh instances.
		fresh := make([]*Command, len(working))
		for i, cmd := range working {
			fresh[i] = cmd.Clone()
		}
		working = fresh
	}
}

func (c *Cluster) routeBatch(cmds []*Command) (conn *Connection, slot int, err error) {
	var keys []string
	for _, cmd := range cmds {
		keys = append(keys, cmd.Keys()...)
	}
	slot = multiSlot(keys)
	if slot == -1 {
		conn, ok := c.pool.Sample(RolePrimary)
		if !ok {
			return nil, -1, newError(KindClusterAllFailed, "no primary available")
		}
		return conn, -1, nil
	}
	c.mu.Lock()
	if pref, ok := c.preferKey[slot]; ok {
		c.mu.Unlock()
		conn, roleChanged, err := c.pool.FindOrCreate(pref, false)
		if err != nil {
			return nil, slot, err
		}
		if roleChanged {
			if err := ensureRole(conn, false); err != nil {
				return nil, slot, err
			}
		}
		return conn, slot, nil
	}
	nodesForSlot := c.mapping[slot]
	c.mu.Unlock()
	if len(nodesForSlot) == 0 {
		return nil, slot, newError(KindClusterAllFailed, "no node known for slot")
	}
	var roleChanged bool
	conn, roleChanged, err = c.pool.FindOrCreate(nodesForSlot[0], false)
	if err != nil {
		return nil, slot, err
	}
	if roleChanged {
		if err := ensureRole(conn, false); err != nil {
			return nil, slot, err
		}
	}
	return conn, slot, nil
}

// anyRetriable reports whether any reply in results is a retriable
// cluster error.
func anyRetriable(results []resp.Reply) bool {
	for _, r := range results {
		if r.IsError() && isRetriableClusterError(&Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg}) {
			return true
		}
	}
	return false
}

// retriableAsWhole reports whether the whole pipeline should be retried
// as a unit: every error has identical name+message and no write issued outside a
// transaction left a non-error position, the batch as a whole is
// retriable. EXECABORT on EXEC is tolerated and ignored.
func retriableAsWhole(cmds []*Command, results []resp.Reply, runErr error) bool {
	if runErr != nil {
		e, ok := runErr.(*Error)
		return ok && isRetriableClusterError(e)
	}

	var name, msg string
	seen := false
	inTx := false
	for i, r := range results {
		var cmd *Command
		if i < len(cmds) {
			cmd = cmds[i]
		}
		if cmd != nil && cmd.Name == "multi" {
			inTx = true
		}
		posInTx := inTx
		if cmd != nil && (cmd.Name == "exec" || cmd.Name == "discard") {
			inTx = false
		}
		if r.IsError() {
			if r.ErrName == "EXECABORT" {
				continue
			}
			if !isRetriableClusterError(&Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg}) {
				return false
			}
			if !seen {
				name, msg, seen = r.ErrName, r.ErrMsg, true
			} else if r.ErrName != name || r.ErrMsg != msg {
				return false
			}
			continue
		}
		if cmd != nil && cmd.IsWrite() && !posInTx {
			return false
		}
	}
	return seen
}

// planRetry applies the MOVED/ASK side effects seen in a pipeline's
// sub-replies (updating the slot map or preferKey override) and reports
// whether the retry needs an ASKING prefix.
func (c *Cluster) planRetry(slot int, results []resp.Reply, runErr error) (asking bool) {
	if runErr != nil {
		return false
	}
	for _, r := range results {
		if !r.IsError() {
			continue
		}
		switch r.ErrName {
		case "MOVED":
			if re := ParseRedir(&Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg}); re != nil {
				c.rememberRedirect(re.NewSlot, re.Addr)
				go c.Refresh()
			}
		case "ASK":
			if re := ParseRedir(&Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg}); re != nil {
				c.mu.Lock()
				c.preferKey[slot] = re.Addr
				c.mu.Unlock()
				asking = true
			}
		}
	}
	return asking
}

func firstError(results []resp.Reply, runErr error) error {
	if runErr != nil {
		return runErr
	}
	for _, r := range results {
		if r.IsError() {
			return &Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg}
		}
	}
	return nil
}

// ClusterStats reports the current pool composition, in the shape
// implied by redisc's own moved_test.go calls to Cluster.Stats().
type ClusterStats struct {
	NodeCount    int
	PrimaryCount int
	ReplicaCount int
}

// Stats reports the current pool composition.
func (c *Cluster) Stats() ClusterStats {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	s := ClusterStats{NodeCount: len(c.pool.all)}
	for _, role := range c.pool.roles {
		if role == RolePrimary {
			s.PrimaryCount++
		} else {
			s.ReplicaCount++
		}
	}
	return s
}

// Close disconnects every pooled connection.
// Generalizes redisc's Close, which closed redis.Pool instances.
func (c *Cluster) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.pool.CloseAll()
	return nil
}

// Bind pins a connection obtained from this cluster's pool to the node
// owning keys, adapted from redisc's Bind/BindConn.
func (c *Cluster) Bind(keys ...string) (*Connection, error) {
	keys = applyPrefixToKeys(c.opts.ConnOptions.KeyPrefix, keys)
	slot := multiSlot(keys)
	if slot == -1 && len(keys) > 1 {
		return nil, newError(KindCrossSlot, "keys do not belong to the same slot")
	}
	c.mu.Lock()
	nodesForSlot := c.mapping[slot]
	c.mu.Unlock()
	if len(nodesForSlot) == 0 {
		return nil, newError(KindClusterAllFailed, "no node known for slot")
	}
	conn, roleChanged, err := c.pool.FindOrCreate(nodesForSlot[0], false)
	if err != nil {
		return nil, err
	}
	if roleChanged {
		if err := ensureRole(conn, false); err != nil {
			return nil, err
		}
	}
	return conn, nil
}
