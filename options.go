package ioredis

import (
	"crypto/tls"
	"time"

	"github.com/yohaiaga/ioredis/internal/logctx"
)

// RetryStrategy computes the delay before the (attempt)th reconnection
// attempt. Returning ok=false terminates the connection permanently
// (transition to `end`). A zero delay means "reconnect on the next tick".
type RetryStrategy func(attempt int) (delay time.Duration, ok bool)

// ReconnectDecision is the result of a ReconnectOnError predicate.
type ReconnectDecision int

const (
	// ReconnectNever leaves the connection alone; the erroring command
	// simply fails to the caller.
	ReconnectNever ReconnectDecision = iota
	// ReconnectAndFail disconnects and fails the erroring command.
	ReconnectAndFail
	// ReconnectAndResend disconnects and resends the erroring command
	// once the connection is ready again.
	ReconnectAndResend
)

// ReconnectOnError inspects a server error reply and decides whether it
// should trigger a reconnect.
type ReconnectOnError func(err *Error) ReconnectDecision

// ReadyCheck is a caller-supplied gate consulted with the parsed INFO
// map after the ready check's own loading-check succeeds. Returning
// false causes a disconnect-with-reconnect.
type ReadyCheck func(info map[string]string) bool

// Options configures a single Connection. Fields are plain exported struct
// values the caller sets before Connect, the same shape redisc uses
// for Cluster's StartupNodes/DialOptions/CreatePool.
type Options struct {
	Network string // "tcp" or "unix"; defaults to "tcp"
	Host    string
	Port    int
	Path    string // for Network == "unix"

	TLS *tls.Config

	Password string
	Username string
	DB       int

	ConnectionName string

	KeepAlive time.Duration
	NoDelay   bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	RetryStrategy        RetryStrategy
	MaxRetriesPerRequest int

	ReconnectOnError ReconnectOnError

	EnableOfflineQueue  bool
	EnableReadyCheck    bool
	MaxLoadingRetryTime time.Duration
	ReadyCheckFn        ReadyCheck

	LazyConnect bool

	AutoResubscribe               bool
	AutoResendUnfulfilledCommands bool

	ReadOnly bool

	StringifyNumbers bool

	KeyPrefix string

	ShowFriendlyErrorStack bool

	Events EventSink

	// Logger receives operational messages (connect, reconnect, ready
	// checks). Nil discards everything; library users never see output
	// unless they supply one.
	Logger *logctx.Logger
}

func (o *Options) addr() string {
	if o.Network == "unix" {
		return o.Path
	}
	return joinHostPort(o.Host, o.Port)
}

func (o *Options) network() string {
	if o.Network == "" {
		return "tcp"
	}
	return o.Network
}

func (o *Options) withDefaults() *Options {
	cp := *o
	if cp.RetryStrategy == nil {
		cp.RetryStrategy = defaultRetryStrategy
	}
	if cp.ConnectTimeout == 0 {
		cp.ConnectTimeout = 10 * time.Second
	}
	if cp.MaxLoadingRetryTime == 0 {
		cp.MaxLoadingRetryTime = 10 * time.Second
	}
	if cp.Events == nil {
		cp.Events = NopEventSink{}
	}
	if cp.Logger == nil {
		cp.Logger = logctx.Discard
	}
	return &cp
}

// defaultRetryStrategy backs off linearly, capped at 2s, and never gives
// up — matching common client defaults across the corpus (a bounded,
// ever-retrying reconnect policy).
func defaultRetryStrategy(attempt int) (time.Duration, bool) {
	d := time.Duration(attempt) * 50 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d, true
}
