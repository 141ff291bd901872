package resp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	cases := []struct {
		args []interface{}
		want string
	}{
		{[]interface{}{"PING"}, "*1\r\n$4\r\nPING\r\n"},
		{[]interface{}{"SET", "foo", "bar"}, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"},
		{[]interface{}{"INCR", "c"}, "*2\r\n$4\r\nINCR\r\n$1\r\nc\r\n"},
		{[]interface{}{"SET", "n", 42}, "*3\r\n$3\r\nSET\r\n$1\r\nn\r\n$2\r\n42\r\n"},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		require.NoError(t, EncodeCommand(&buf, c.args))
		assert.Equal(t, c.want, buf.String())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCommand(&buf, []interface{}{"SET", "k", "v"}))
	d := NewDecoder(&buf)
	got, err := d.Decode()
	require.NoError(t, err)
	require.Equal(t, Array, got.Type)
	require.Len(t, got.Elems, 3)
	assert.Equal(t, "SET", got.Elems[0].Str)
	assert.Equal(t, "k", got.Elems[1].Str)
	assert.Equal(t, "v", got.Elems[2].Str)
}
