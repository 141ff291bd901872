package ioredis

// commandFlags is a bitset of the classification flags carried by
// every Command.
type commandFlags uint16

const (
	flagReadonly commandFlags = 1 << iota
	flagWrite
	flagEntersSubscriber
	flagExitsSubscriber
	flagWillDisconnect
	flagValidInMonitor
	flagValidInSubscriber
	flagIsCustom
)

type keySpecKind int

const (
	keyNone keySpecKind = iota
	keyIndex
	keyNumkeys // eval-style: args[0] is the key count, keys follow
)

// keySpec locates the routing keys within a command's argument list. For
// keyIndex, keys run from first to last (inclusive) in steps of step; a
// negative last means "to the end of the argument list".
type keySpec struct {
	kind  keySpecKind
	first int
	last  int
	step  int
}

type commandInfo struct {
	flags   commandFlags
	keySpec keySpec
}

func idx(first, last, step int) keySpec { return keySpec{kind: keyIndex, first: first, last: last, step: step} }

var noKeys = keySpec{kind: keyNone}
var evalKeys = keySpec{kind: keyNumkeys}

// commandTable is the static, compile-time classification table
// consulted by Command construction (flags) and the router (key
// extraction). It is not exhaustive of the full RESP command
// surface, but it covers the commands exercised by this
// module's routing, pipelining, transaction, pub/sub and monitor logic.
var commandTable = map[string]commandInfo{
	// connection & server
	"auth":     {flags: flagValidInSubscriber | flagValidInMonitor, keySpec: noKeys},
	"ping":     {flags: flagValidInSubscriber | flagValidInMonitor, keySpec: noKeys},
	"echo":     {keySpec: noKeys},
	"select":   {keySpec: noKeys},
	"quit":     {flags: flagWillDisconnect | flagValidInSubscriber, keySpec: noKeys},
	"client":   {keySpec: noKeys},
	"hello":    {keySpec: noKeys},
	"info":     {flags: flagValidInMonitor, keySpec: noKeys},
	"monitor":  {keySpec: noKeys},
	"readonly": {keySpec: noKeys},
	"readwrite": {keySpec: noKeys},
	"asking":   {keySpec: noKeys},
	"cluster":  {keySpec: noKeys},

	// transactions
	"multi":     {keySpec: noKeys},
	"exec":      {flags: flagWrite, keySpec: noKeys},
	"discard":   {keySpec: noKeys},
	"watch":     {flags: flagReadonly, keySpec: idx(0, -1, 1)},
	"unwatch":   {keySpec: noKeys},

	// strings
	"get":    {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"set":    {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"setnx":  {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"setex":  {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"getset": {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"incr":   {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"decr":   {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"incrby": {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"decrby": {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"append": {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"strlen": {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"mget":   {flags: flagReadonly, keySpec: idx(0, -1, 1)},
	"mset":   {flags: flagWrite, keySpec: idx(0, -1, 2)},

	// generic
	"del":    {flags: flagWrite, keySpec: idx(0, -1, 1)},
	"exists": {flags: flagReadonly, keySpec: idx(0, -1, 1)},
	"expire": {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"ttl":    {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"type":   {flags: flagReadonly, keySpec: idx(0, 0, 1)},

	// hashes
	"hget":    {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"hset":    {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"hgetall": {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"hdel":    {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"hmget":   {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"hmset":   {flags: flagWrite, keySpec: idx(0, 0, 1)},

	// lists
	"lpush":  {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"rpush":  {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"lpop":   {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"rpop":   {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"lrange": {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"llen":   {flags: flagReadonly, keySpec: idx(0, 0, 1)},

	// sets
	"sadd":      {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"srem":      {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"smembers":  {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"sismember": {flags: flagReadonly, keySpec: idx(0, 0, 1)},

	// sorted sets
	"zadd":   {flags: flagWrite, keySpec: idx(0, 0, 1)},
	"zscore": {flags: flagReadonly, keySpec: idx(0, 0, 1)},
	"zrange": {flags: flagReadonly, keySpec: idx(0, 0, 1)},

	// scripting (eval-class key extraction)
	"eval":    {flags: flagWrite, keySpec: evalKeys},
	"evalsha": {flags: flagWrite, keySpec: evalKeys},

	// pub/sub
	"subscribe":    {flags: flagEntersSubscriber | flagValidInSubscriber, keySpec: noKeys},
	"unsubscribe":  {flags: flagValidInSubscriber, keySpec: noKeys},
	"psubscribe":   {flags: flagEntersSubscriber | flagValidInSubscriber, keySpec: noKeys},
	"punsubscribe": {flags: flagValidInSubscriber, keySpec: noKeys},
	"publish":      {flags: flagWrite, keySpec: noKeys},

	// sentinel
	"sentinel": {keySpec: noKeys},
}

// transformReply post-processes a raw reply for commands whose RESP
// shape needs client-side reshaping (e.g. HGETALL flattens
// pairs into a mapping; INFO parses into a map; MULTI/EXEC pass through
// unchanged themselves, though EXEC's sub-replies are transformed
// individually by the pipeline engine).
func transformReply(name string, r interface{}) interface{} {
	switch name {
	case "hgetall":
		return flattenPairs(r)
	case "info":
		return parseInfo(r)
	default:
		return r
	}
}

func flattenPairs(r interface{}) interface{} {
	arr, ok := r.([]interface{})
	if !ok {
		return r
	}
	m := make(map[string]interface{}, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		k, ok := arr[i].(string)
		if !ok {
			continue
		}
		m[k] = arr[i+1]
	}
	return m
}

func parseInfo(r interface{}) interface{} {
	text, ok := r.(string)
	if !ok {
		return r
	}
	m := make(map[string]string)
	line := ""
	for _, r := range text {
		if r == '\n' {
			addInfoLine(m, line)
			line = ""
			continue
		}
		if r == '\r' {
			continue
		}
		line += string(r)
	}
	addInfoLine(m, line)
	return m
}

func addInfoLine(m map[string]string, line string) {
	if line == "" || line[0] == '#' {
		return
	}
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			m[line[:i]] = line[i+1:]
			return
		}
	}
}
