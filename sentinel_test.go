package ioredis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yohaiaga/ioredis/resp"
)

func TestFieldMap(t *testing.T) {
	entry := resp.Reply{Elems: []resp.Reply{
		{Str: "name"}, {Str: "node1"},
		{Str: "ip"}, {Str: "127.0.0.1"},
		{Str: "port"}, {Str: "6380"},
		{Str: "flags"}, {Str: "slave"},
	}}
	m := fieldMap(entry)
	assert.Equal(t, "node1", m["name"])
	assert.Equal(t, "127.0.0.1", m["ip"])
	assert.Equal(t, "6380", m["port"])
	assert.Equal(t, "slave", m["flags"])
}

func TestFieldMapOddTrailingFieldIgnored(t *testing.T) {
	entry := resp.Reply{Elems: []resp.Reply{{Str: "ip"}, {Str: "127.0.0.1"}, {Str: "dangling"}}}
	m := fieldMap(entry)
	assert.Equal(t, "127.0.0.1", m["ip"])
	assert.Len(t, m, 1)
}

func TestIsDown(t *testing.T) {
	assert.True(t, isDown("slave,s_down"))
	assert.True(t, isDown("master,disconnected"))
	assert.False(t, isDown("slave"))
	assert.False(t, isDown(""))
}

func TestContainsFlag(t *testing.T) {
	assert.True(t, containsFlag("a,b,c", "b"))
	assert.False(t, containsFlag("a,b,c", "d"))
	assert.False(t, containsFlag("", "a"))
}

func TestJoinHostPortStrings(t *testing.T) {
	assert.Equal(t, "127.0.0.1:6379", joinHostPortStrings("127.0.0.1", "6379"))
}

func TestAtoiOrZero(t *testing.T) {
	assert.Equal(t, 6379, atoiOrZero("6379"))
	assert.Equal(t, 0, atoiOrZero("not-a-number"))
}

func TestApplyNATMap(t *testing.T) {
	nat := NATMap{"10.0.0.1:6379": "203.0.113.1:26379"}
	assert.Equal(t, "203.0.113.1:26379", applyNATMap(nat, "10.0.0.1:6379"))
	assert.Equal(t, "10.0.0.2:6379", applyNATMap(nat, "10.0.0.2:6379"))
	assert.Equal(t, "10.0.0.2:6379", applyNATMap(nil, "10.0.0.2:6379"))
}

func TestValidateSentinelsUpdateDisabledSkipsDiscovery(t *testing.T) {
	known := []string{"10.0.0.1:26379", "10.0.0.2:26379"}
	out := ValidateSentinels(known, "mymaster", nil, nil, false)
	assert.Equal(t, known, out)
}

func TestValidateSentinelsAppliesNATMapWithoutDiscovery(t *testing.T) {
	known := []string{"10.0.0.1:26379"}
	nat := NATMap{"10.0.0.1:26379": "203.0.113.1:26379"}
	out := ValidateSentinels(known, "mymaster", nil, nat, false)
	assert.Equal(t, []string{"203.0.113.1:26379"}, out)
}
