package ioredis

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/yohaiaga/ioredis/internal/inflight"
	"github.com/yohaiaga/ioredis/resp"
)

// PushListener receives out-of-band subscriber-mode and monitor-mode
// frames.
type PushListener interface {
	OnMessage(channel string, payload []byte)
	OnPMessage(pattern, channel string, payload []byte)
	OnMonitor(line string)
}

// Connection owns a single TCP/TLS/Unix stream and drives it through its
// lifecycle state machine, the reply pipeline, the offline queue and
// retry policy, and subscriber/monitor mode.
type Connection struct {
	opts *Options

	mu       sync.Mutex
	state    State
	conn     net.Conn
	w        *bufio.Writer
	inflight *inflight.Queue
	offline  []*Command
	attempt  int
	closing  bool // true once the caller explicitly requested Disconnect

	subs           *SubscriptionSet
	subscriberMode bool
	monitorMode    bool
	listener       PushListener

	cond priorCondition // live DB/auth snapshot, reapplied on every (re)connect

	readDone chan struct{}
}

// NewConnection builds a Connection from opts. It does not dial until
// Connect is called; a command submitted before then does not trigger a
// dial; Do queues it offline (or rejects it when EnableOfflineQueue is
// false). LazyConnect only selects the initial state: `wait` instead of
// `init`.
func NewConnection(opts *Options) *Connection {
	o := opts.withDefaults()
	c := &Connection{
		opts:     o,
		inflight: inflight.New(),
		subs:     NewSubscriptionSet(),
		cond:     priorCondition{db: o.DB, password: o.Password, username: o.Username},
	}
	if o.LazyConnect {
		c.state = StateWait
	} else {
		c.state = StateInit
	}
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect drives the connection from `init`/`wait` through `connecting`
// and `connect` to `ready`. It is idempotent: calling it again
// once ready is a no-op.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.state == StateReady || c.state == StateMonitoring {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.dialAndHandshake()
}

func (c *Connection) dialAndHandshake() error {
	c.setState(StateConnecting)

	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout, KeepAlive: c.opts.KeepAlive}
	network := c.opts.network()
	addr := c.opts.addr()

	var conn net.Conn
	var err error
	if c.opts.TLS != nil {
		conn, err = tls.DialWithDialer(dialer, network, addr, c.opts.TLS)
	} else {
		conn, err = dialer.Dial(network, addr)
	}
	if err != nil {
		return &Error{Kind: KindConnectTimeout, Message: err.Error(), Cause: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok && c.opts.NoDelay {
		_ = tc.SetNoDelay(true)
	}

	c.mu.Lock()
	c.conn = conn
	c.w = bufio.NewWriter(conn)
	c.readDone = make(chan struct{})
	c.state = StateConnect
	c.mu.Unlock()

	c.opts.Logger.Printf("connected to %s", addr)
	c.opts.Events.OnConnect()
	go c.readLoop(conn, c.readDone)

	if err := c.handshake(); err != nil {
		c.teardown(err)
		return err
	}

	c.setState(StateReady)
	c.attempt = 0
	c.opts.Logger.Printf("ready on %s", addr)
	c.opts.Events.OnReady()
	c.replayOfflineQueue()
	return nil
}

// handshake reapplies the live priorCondition snapshot rather than
// Options' static defaults, so a connection that had its DB changed by an
// explicit SELECT (or was re-AUTHed) comes back in the same condition it
// was in right before the disconnect, not the condition it started in.
func (c *Connection) handshake() error {
	c.mu.Lock()
	cond := c.cond
	c.mu.Unlock()

	if cond.password != "" {
		args := []interface{}{}
		if cond.username != "" {
			args = append(args, cond.username)
		}
		args = append(args, cond.password)
		if _, err := c.doNow(NewCommand("auth", args...)); err != nil {
			return err
		}
	}
	if cond.db != 0 {
		if _, err := c.doNow(NewCommand("select", cond.db)); err != nil {
			return err
		}
	}
	if c.opts.ConnectionName != "" {
		if _, err := c.doNow(NewCommand("client", "setname", c.opts.ConnectionName)); err != nil {
			return err
		}
	}
	if c.opts.EnableReadyCheck {
		return c.readyCheck()
	}
	return nil
}

// readyCheck sends INFO and parses loading/loading_eta_seconds.
// A truthy loading reschedules after min(eta*1000,
// MaxLoadingRetryTime); if the caller's ReadyCheckFn returns false the
// connection disconnects with reconnect.
func (c *Connection) readyCheck() error {
	deadline := time.Now().Add(c.opts.MaxLoadingRetryTime)
	for {
		r, err := c.doNow(NewCommand("info"))
		if err != nil {
			return err
		}
		info, _ := parseInfo(r.Str).(map[string]string)
		if info["loading"] == "1" {
			etaSec := 1
			fmt.Sscanf(info["loading_eta_seconds"], "%d", &etaSec)
			wait := time.Duration(etaSec) * time.Second
			if remaining := deadline.Sub(time.Now()); wait > remaining {
				wait = remaining
			}
			if wait <= 0 {
				return newError(KindConnectTimeout, "server still loading after max_loading_retry_time")
			}
			time.Sleep(wait)
			continue
		}
		if c.opts.ReadyCheckFn != nil && !c.opts.ReadyCheckFn(info) {
			return newError(KindConnectionClosed, "ready check rejected by caller")
		}
		return nil
	}
}

// doNow writes cmd and blocks for its reply, bypassing the offline queue
// and subscriber/monitor gating — used only during the handshake, before
// the connection is `ready`. It does not consult ReconnectOnError: a
// handshake failure already flows back to dialAndHandshake, which tears
// the connection down and lets the retry strategy decide whether to
// reconnect, so a second reconnect decision here would race the first.
func (c *Connection) doNow(cmd *Command) (resp.Reply, error) {
	if err := c.write(cmd); err != nil {
		return resp.Reply{}, err
	}
	c.inflight.Push(cmd)
	r, err := cmd.Wait()
	if err != nil {
		return r, err
	}
	if r.IsError() {
		return r, &Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg}
	}
	c.trackCondition(cmd)
	return r, nil
}

// Do submits cmd for execution as part of the Commander surface. It
// applies the subscriber-mode and monitor-mode gates, queues
// offline if not ready and offline queuing is enabled, and otherwise
// writes immediately and awaits the reply.
func (c *Connection) Do(cmd *Command) (r resp.Reply, err error) {
	cmd.ApplyKeyPrefix(c.opts.KeyPrefix)

	if c.opts.ShowFriendlyErrorStack {
		stack := debug.Stack()
		defer func() { attachStack(err, stack) }()
	}

	c.mu.Lock()
	state := c.state
	subMode := c.subscriberMode
	monMode := c.monitorMode
	c.mu.Unlock()

	if subMode && !cmd.ValidInSubscriberMode() {
		return resp.Reply{}, newError(KindSubscriberMode, "%s not valid in subscriber mode", cmd.Name)
	}
	if monMode && !cmd.ValidInMonitorMode() {
		return resp.Reply{}, newError(KindMonitorMode, "%s not valid in monitor mode", cmd.Name)
	}

	if state != StateReady && state != StateMonitoring {
		if !c.opts.EnableOfflineQueue {
			return resp.Reply{}, newError(KindConnectionClosed, "not writable (offline queue disabled)")
		}
		c.mu.Lock()
		cmd.db = c.cond.db
		c.offline = append(c.offline, cmd)
		c.mu.Unlock()
		qr, qerr := cmd.Wait()
		if qerr != nil {
			return qr, qerr
		}
		if qr.IsError() {
			return qr, &Error{Kind: KindReply, Name: qr.ErrName, Message: qr.ErrMsg}
		}
		return qr, nil
	}

	return c.submit(cmd)
}

// attachStack records the caller's submission stack on err's *Error, when
// ShowFriendlyErrorStack is enabled, so a failure can be traced back to
// where it was issued rather than just where it failed.
func attachStack(err error, stack []byte) {
	if err == nil || len(stack) == 0 {
		return
	}
	if ierr, ok := err.(*Error); ok && ierr.Stack == "" {
		ierr.Stack = string(stack)
	}
}

// DoTransformed behaves like Do but decodes the reply into a plain Go
// value and applies the command's reply transform (commandtable.go's
// transformReply) — e.g. HGETALL comes back as a map instead of the raw
// pairs array. Do itself keeps returning the wire-level resp.Reply, since
// cluster routing and error introspection need that shape.
func (c *Connection) DoTransformed(cmd *Command) (interface{}, error) {
	r, err := c.Do(cmd)
	if err != nil {
		return nil, err
	}
	return cmd.Transformed(r, c.opts.StringifyNumbers), nil
}

func (c *Connection) submit(cmd *Command) (resp.Reply, error) {
	if err := c.write(cmd); err != nil {
		return resp.Reply{}, err
	}
	c.inflight.Push(cmd)
	c.trackSubscription(cmd)

	r, err := cmd.Wait()
	if err != nil {
		return r, err
	}
	if r.IsError() {
		return c.handleReplyError(cmd, r, &Error{Kind: KindReply, Name: r.ErrName, Message: r.ErrMsg})
	}
	c.trackCondition(cmd)
	return r, nil
}

// handleReplyError applies ReconnectOnError's verdict to an error reply.
// With no ReconnectOnError configured, or a ReconnectNever verdict, the
// error surfaces as-is. ReconnectAndFail disconnects the connection in
// the background and still surfaces the original error. ReconnectAndResend
// also disconnects in the background, but queues a clone of cmd onto the
// offline queue first, so the command is resent once the connection is
// ready again, and returns that resend's outcome to the caller instead.
func (c *Connection) handleReplyError(cmd *Command, r resp.Reply, replyErr *Error) (resp.Reply, error) {
	if c.opts.ReconnectOnError == nil {
		return r, replyErr
	}
	switch c.opts.ReconnectOnError(replyErr) {
	case ReconnectAndFail:
		go c.Disconnect(true)
		return r, replyErr
	case ReconnectAndResend:
		resend := cmd.Clone()
		c.mu.Lock()
		resend.db = c.cond.db
		c.offline = append(c.offline, resend)
		c.mu.Unlock()
		go c.Disconnect(true)
		return resend.Wait()
	default:
		return r, replyErr
	}
}

// trackCondition updates the live priorCondition snapshot after a
// successful SELECT or AUTH, so a later reconnect restores the database
// and credentials actually in effect rather than Options' starting
// values.
func (c *Connection) trackCondition(cmd *Command) {
	switch cmd.Name {
	case "select":
		if len(cmd.Args) == 1 {
			if db, err := strconv.Atoi(argString(cmd.Args[0])); err == nil {
				c.mu.Lock()
				c.cond.db = db
				c.mu.Unlock()
			}
		}
	case "auth":
		c.mu.Lock()
		switch len(cmd.Args) {
		case 1:
			c.cond.username = ""
			c.cond.password = argString(cmd.Args[0])
		case 2:
			c.cond.username = argString(cmd.Args[0])
			c.cond.password = argString(cmd.Args[1])
		}
		c.mu.Unlock()
	}
}

func (c *Connection) trackSubscription(cmd *Command) {
	kind, ok := kindForCommand(cmd.Name)
	if !ok {
		return
	}
	add := cmd.Name == "subscribe" || cmd.Name == "psubscribe"
	if !add && len(cmd.Args) == 0 {
		// bare UNSUBSCRIBE/PUNSUBSCRIBE drops everything currently
		// subscribed under kind, not just the (empty) argument list.
		c.subs.Clear(kind)
	} else {
		for _, a := range cmd.Args {
			ch := argString(a)
			if add {
				c.subs.Add(kind, ch)
			} else {
				c.subs.Remove(kind, ch)
			}
		}
	}
	c.mu.Lock()
	if add {
		c.subscriberMode = true
	} else if c.subs.Empty() {
		c.subscriberMode = false
	}
	c.mu.Unlock()
}

// write encodes and flushes cmd's arguments to the stream. The caller
// must Push cmd onto the in-flight queue only after write returns
// successfully.
func (c *Connection) write(cmd *Command) error {
	c.mu.Lock()
	w := c.w
	c.mu.Unlock()
	if w == nil {
		return newError(KindConnectionClosed, "no writable stream")
	}
	args := make([]interface{}, 0, len(cmd.Args)+1)
	args = append(args, cmd.Name)
	args = append(args, cmd.Args...)
	if err := resp.EncodeCommand(w, args); err != nil {
		return &Error{Kind: KindConnectionClosed, Cause: err}
	}
	return w.Flush()
}

// WriteBatch encodes every command in cmds into a single write buffer
// and flushes once: writes accumulate
// until the last command of the batch is serialized. Each command is
// pushed onto the in-flight queue in order immediately after its bytes
// are appended, preserving the ordering invariant even though the flush
// itself is deferred to the end of the batch.
func (c *Connection) WriteBatch(cmds []*Command) error {
	c.mu.Lock()
	w := c.w
	c.mu.Unlock()
	if w == nil {
		return newError(KindConnectionClosed, "no writable stream")
	}
	for _, cmd := range cmds {
		args := make([]interface{}, 0, len(cmd.Args)+1)
		args = append(args, cmd.Name)
		args = append(args, cmd.Args...)
		if err := resp.EncodeCommand(w, args); err != nil {
			return &Error{Kind: KindConnectionClosed, Cause: err}
		}
		c.inflight.Push(cmd)
		c.trackSubscription(cmd)
	}
	if err := w.Flush(); err != nil {
		return &Error{Kind: KindConnectionClosed, Cause: err}
	}
	return nil
}

// readLoop consumes decoded replies and completes the head of the
// in-flight queue, or routes subscriber/monitor push frames to the
// listener. One such loop runs per connection.
func (c *Connection) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	dec := resp.NewDecoder(conn)
	for {
		r, err := dec.Decode()
		if err != nil {
			c.onStreamError(err)
			return
		}
		if c.isPush(r) {
			c.dispatchPush(r)
			continue
		}
		entry := c.inflight.PopFront()
		if entry == nil {
			continue
		}
		entry.Complete(r, nil)
	}
}

// isPush detects subscriber-mode push frames by leading-element shape —
// except the subscription confirmations, which still
// complete the originating subscribe/unsubscribe command.
func (c *Connection) isPush(r resp.Reply) bool {
	if r.Type != resp.Array || len(r.Elems) == 0 {
		return false
	}
	head := r.Elems[0]
	if head.Type != resp.BulkString && head.Type != resp.SimpleString {
		return false
	}
	switch head.Str {
	case "message", "pmessage":
		return true
	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		// confirmations complete the originating command instead.
		return false
	default:
		return false
	}
}

func (c *Connection) dispatchPush(r resp.Reply) {
	if c.listener == nil || len(r.Elems) == 0 {
		return
	}
	switch r.Elems[0].Str {
	case "message":
		if len(r.Elems) >= 3 {
			c.listener.OnMessage(r.Elems[1].Str, r.Elems[2].Bytes)
		}
	case "pmessage":
		if len(r.Elems) >= 4 {
			c.listener.OnPMessage(r.Elems[1].Str, r.Elems[2].Str, r.Elems[3].Bytes)
		}
	}
}

// SetListener installs the subscriber/monitor push listener.
func (c *Connection) SetListener(l PushListener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Connection) onStreamError(err error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()

	if !isManualCloseError(err) || !closing {
		c.opts.Logger.Printf("stream error: %v", err)
		c.opts.Events.OnError(reportableStreamError(err))
	}
	c.teardown(newError(KindConnectionClosed, "%v", err))
}

// reportableStreamError classifies a readLoop error for Events.OnError:
// a resp decode failure is a protocol fault, not merely a closed stream,
// even though both still tear the connection down as
// KindConnectionClosed below.
func reportableStreamError(err error) error {
	if isDecodeError(err) {
		return &Error{Kind: KindProtocol, Cause: err}
	}
	return err
}

// isDecodeError reports whether err originated from resp.Decoder.Decode
// encountering malformed RESP on the wire, as opposed to a transport-level
// close or read failure.
func isDecodeError(err error) bool {
	return errors.Is(err, resp.ErrInvalidPrefix) ||
		errors.Is(err, resp.ErrInvalidInteger) ||
		errors.Is(err, resp.ErrInvalidBulk) ||
		errors.Is(err, resp.ErrInvalidArray) ||
		errors.Is(err, resp.ErrMissingCRLF)
}

// isManualCloseError suppresses transport errors that are the expected
// consequence of a caller-initiated disconnect: net.OpError for "read" or "connect"
// syscalls, and the connection-closed sentinel.
func isManualCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	if op, ok := err.(*net.OpError); ok {
		return op.Op == "read" || op.Op == "connect"
	}
	return false
}

// teardown fails every in-flight command, closes the stream, and moves
// the connection to `close`, then either `reconnecting` or `end` per the
// retry strategy.
func (c *Connection) teardown(cause error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.w = nil
	closing := c.closing
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	failed := c.inflight.FailAll(cause)
	if c.opts.AutoResendUnfulfilledCommands && !closing {
		for _, e := range failed {
			if cmd, ok := e.(*Command); ok {
				c.mu.Lock()
				c.offline = append(c.offline, cmd)
				c.mu.Unlock()
			}
		}
	}

	c.setState(StateClose)
	c.opts.Events.OnClose()

	if closing {
		c.setState(StateEnd)
		return
	}

	c.attempt++
	delay, ok := c.opts.RetryStrategy(c.attempt)
	if !ok {
		c.setState(StateEnd)
		c.offlineFailAll(newError(KindAbort, "retry strategy declined reconnect"))
		return
	}

	c.setState(StateReconnecting)
	c.opts.Logger.Printf("reconnecting, attempt %d after %v", c.attempt, delay)
	c.opts.Events.OnReconnecting(c.attempt, int64(delay))

	if c.opts.MaxRetriesPerRequest > 0 && c.attempt%(c.opts.MaxRetriesPerRequest+1) == 0 {
		c.offlineFailAll(newError(KindMaxRetries, "max_retries_per_request exceeded"))
	}

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()
		if state != StateReconnecting {
			return
		}
		_ = c.dialAndHandshake()
	})
}

func (c *Connection) offlineFailAll(err error) {
	c.mu.Lock()
	pending := c.offline
	c.offline = nil
	c.mu.Unlock()
	for _, cmd := range pending {
		cmd.complete(resp.Reply{}, err)
	}
}

// replayOfflineQueue flushes commands queued while not ready, preceding
// each with a SELECT if its captured DB differs from the current one.
// It also replays the subscription set if AutoResubscribe is
// set, and the password/db priorCondition snapshot, so a
// disconnect/connect cycle does not lose offline-queued commands.
func (c *Connection) replayOfflineQueue() {
	c.mu.Lock()
	pending := c.offline
	c.offline = nil
	c.mu.Unlock()

	c.mu.Lock()
	currentDB := c.cond.db
	c.mu.Unlock()
	for _, cmd := range pending {
		if cmd.db != currentDB {
			_, _ = c.doNow(NewCommand("select", cmd.db))
			currentDB = cmd.db
		}
		go func(cmd *Command) {
			r, err := c.submit(cmd)
			cmd.complete(r, err)
		}(cmd)
	}

	if c.opts.AutoResubscribe && !c.subs.Empty() {
		c.resubscribe()
	}
}

func (c *Connection) resubscribe() {
	if chans := c.subs.List(SubChannel); len(chans) > 0 {
		args := make([]interface{}, len(chans))
		for i, ch := range chans {
			args[i] = ch
		}
		cmd := NewCommand("subscribe", args...)
		go func() { _, _ = c.submit(cmd) }()
	}
	if pats := c.subs.List(SubPattern); len(pats) > 0 {
		args := make([]interface{}, len(pats))
		for i, p := range pats {
			args[i] = p
		}
		cmd := NewCommand("psubscribe", args...)
		go func() { _, _ = c.submit(cmd) }()
	}
}

// Monitor enters monitor mode: all subsequent commands except those
// flagged valid-in-monitor-mode are rejected, and push frames are
// delivered to the listener.
func (c *Connection) Monitor() error {
	cmd := NewCommand("monitor")
	if _, err := c.Do(cmd); err != nil {
		return err
	}
	c.setState(StateMonitoring)
	c.mu.Lock()
	c.monitorMode = true
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection. If reconnect is false the connection
// moves to `end` and does not retry; commands still in flight fail with
// ConnectionClosed.
func (c *Connection) Disconnect(reconnect bool) error {
	c.mu.Lock()
	c.closing = !reconnect
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.setState(StateEnd)
		return nil
	}
	return conn.Close()
}

// Bind pins this connection to the node owning keys' slot, failing if
// they straddle slots. It does not
// route by itself — it is meaningful only on a connection obtained from
// a cluster's pool, where the caller wants explicit control over node
// selection; see Cluster.Bind.
func (c *Connection) Bind(keys ...string) error {
	keys = applyPrefixToKeys(c.opts.KeyPrefix, keys)
	if multiSlot(keys) == -1 && len(keys) > 1 {
		return newError(KindCrossSlot, "keys do not belong to the same slot")
	}
	return nil
}

// applyPrefixToKeys returns keys with prefix prepended to each, without
// mutating the caller's slice, so slot computation on a bound connection
// agrees with the slot ApplyKeyPrefix will compute once KeyPrefix is
// actually applied to a Command's arguments.
func applyPrefixToKeys(prefix string, keys []string) []string {
	if prefix == "" {
		return keys
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = prefix + k
	}
	return out
}
