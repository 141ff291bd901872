package ioredis

import (
	"net"
	"strconv"
	"strings"

	"github.com/yohaiaga/ioredis/resp"
)

// NATMap rewrites a sentinel-reported "host:port" address before it is
// handed back to the caller, for a Sentinel deployment running behind a
// NAT or a container network whose advertised addresses are not the ones
// reachable from outside it. A nil map leaves every address unchanged.
type NATMap map[string]string

// applyNATMap rewrites addr through nat, or returns it unchanged if nat
// is nil or carries no entry for it.
func applyNATMap(nat NATMap, addr string) string {
	if mapped, ok := nat[addr]; ok {
		return mapped
	}
	return addr
}

// DiscoverPrimary asks each address in sentinels, in order, for the
// current primary of serviceName via SENTINEL get-master-addr-by-name.
// dialOpts supplies TLS/password/timeouts for the transient
// connections opened to the sentinels themselves; it may be nil. nat
// rewrites the discovered address, for deployments behind NAT/container
// networking; pass nil to leave it unchanged.
// Generalizes redisc's plain redigo Dial+Do pattern (there is no
// sentinel support in redisc; this follows conn.go's own
// one-shot-command style, the same way redisc's ccheck.go opens a
// throwaway connection to run a single diagnostic command).
func DiscoverPrimary(sentinels []string, serviceName string, dialOpts *Options, nat NATMap) (string, error) {
	var lastErr error
	for _, addr := range sentinels {
		conn, err := dialSentinel(addr, dialOpts)
		if err != nil {
			lastErr = err
			continue
		}
		r, err := conn.Do(NewCommand("sentinel", "get-master-addr-by-name", serviceName))
		_ = conn.Disconnect(false)
		if err != nil {
			lastErr = err
			continue
		}
		if r.Null || len(r.Elems) != 2 {
			lastErr = newError(KindProtocol, "sentinel returned no primary for %q", serviceName)
			continue
		}
		return applyNATMap(nat, joinHostPortStrings(r.Elems[0].Str, r.Elems[1].Str)), nil
	}
	if lastErr == nil {
		lastErr = newError(KindClusterAllFailed, "no sentinel addresses configured")
	}
	return "", lastErr
}

// DiscoverReplicas asks sentinelAddr for the replica set of serviceName
// via SENTINEL slaves, filtering out
// any replica flagged s_down or disconnected. nat rewrites each
// discovered address; pass nil to leave them unchanged.
func DiscoverReplicas(sentinelAddr, serviceName string, dialOpts *Options, nat NATMap) ([]string, error) {
	conn, err := dialSentinel(sentinelAddr, dialOpts)
	if err != nil {
		return nil, err
	}
	defer conn.Disconnect(false)

	r, err := conn.Do(NewCommand("sentinel", "slaves", serviceName))
	if err != nil {
		return nil, err
	}

	var addrs []string
	for _, entry := range r.Elems {
		fields := fieldMap(entry)
		if isDown(fields["flags"]) {
			continue
		}
		ip, port := fields["ip"], fields["port"]
		if ip == "" || port == "" {
			continue
		}
		addrs = append(addrs, applyNATMap(nat, joinHostPortStrings(ip, port)))
	}
	return addrs, nil
}

// ValidateSentinels merges the caller's known sentinel list with the set
// reported by SENTINEL sentinels: every address in knownAddr is kept, and
// any new address reported by the first sentinel that answers (and not
// flagged down) is appended. nat rewrites every address, known or discovered, the same
// way DiscoverPrimary/DiscoverReplicas do. updateSentinels gates the
// discovery side entirely: when false, the known list is returned as-is
// (rewritten through nat) without querying any sentinel for its peers,
// for callers that want to pin their sentinel set rather than let it
// drift as sentinels come and go.
func ValidateSentinels(knownAddr []string, serviceName string, dialOpts *Options, nat NATMap, updateSentinels bool) []string {
	seen := make(map[string]bool, len(knownAddr))
	out := make([]string, len(knownAddr))
	for i, a := range knownAddr {
		mapped := applyNATMap(nat, a)
		out[i] = mapped
		seen[mapped] = true
	}
	if !updateSentinels {
		return out
	}
	for _, addr := range knownAddr {
		conn, err := dialSentinel(addr, dialOpts)
		if err != nil {
			continue
		}
		r, err := conn.Do(NewCommand("sentinel", "sentinels", serviceName))
		_ = conn.Disconnect(false)
		if err != nil {
			continue
		}
		for _, entry := range r.Elems {
			fields := fieldMap(entry)
			ip, port := fields["ip"], fields["port"]
			if ip == "" || port == "" || isDown(fields["flags"]) {
				continue
			}
			addr := applyNATMap(nat, joinHostPortStrings(ip, port))
			if !seen[addr] {
				seen[addr] = true
				out = append(out, addr)
			}
		}
		break
	}
	return out
}

func dialSentinel(addr string, dialOpts *Options) (*Connection, error) {
	opts := Options{}
	if dialOpts != nil {
		opts = *dialOpts
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Cause: err}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Cause: err}
	}
	opts.Host = host
	opts.Port = port
	opts.Password = "" // sentinels are typically unauthenticated
	conn := NewConnection(&opts)
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	return conn, nil
}

// fieldMap flattens a RESP array of alternating field/value bulk strings
// (SENTINEL slaves/sentinels entry shape) into a map.
func fieldMap(entry resp.Reply) map[string]string {
	m := make(map[string]string, len(entry.Elems)/2)
	for i := 0; i+1 < len(entry.Elems); i += 2 {
		m[entry.Elems[i].Str] = entry.Elems[i+1].Str
	}
	return m
}

func isDown(flags string) bool {
	return flags != "" && (containsFlag(flags, "s_down") || containsFlag(flags, "disconnected"))
}

func containsFlag(flags, want string) bool {
	for _, f := range strings.Split(flags, ",") {
		if f == want {
			return true
		}
	}
	return false
}

func joinHostPortStrings(host, port string) string {
	return joinHostPort(host, atoiOrZero(port))
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

