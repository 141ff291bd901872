package resp

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValid(t *testing.T) {
	cases := []struct {
		enc  string
		want Reply
	}{
		{"+\r\n", Reply{Type: SimpleString}},
		{"+OK\r\n", Reply{Type: SimpleString, Str: "OK"}},
		{"-ERR bad\r\n", Reply{Type: Error, ErrName: "ERR", ErrMsg: "ERR bad"}},
		{":123\r\n", Reply{Type: Integer, Int: 123}},
		{":-5\r\n", Reply{Type: Integer, Int: -5}},
		{"$0\r\n\r\n", Reply{Type: BulkString, Str: "", Bytes: []byte{}}},
		{"$3\r\nfoo\r\n", Reply{Type: BulkString, Str: "foo", Bytes: []byte("foo")}},
		{"$-1\r\n", NullBulk()},
		{"*-1\r\n", NullArray()},
		{"*0\r\n", Reply{Type: Array, Elems: []Reply{}}},
		{"*2\r\n$3\r\nfoo\r\n:1\r\n", Reply{Type: Array, Elems: []Reply{
			{Type: BulkString, Str: "foo", Bytes: []byte("foo")},
			{Type: Integer, Int: 1},
		}}},
	}
	for _, c := range cases {
		d := NewDecoder(bytes.NewBufferString(c.enc))
		got, err := d.Decode()
		require.NoError(t, err, c.enc)
		assert.Equal(t, c.want, got, c.enc)
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		enc string
		err error
	}{
		{":123a\r\n", ErrInvalidInteger},
		{":123\n", ErrMissingCRLF},
		{"$-3\r\n", ErrInvalidBulk},
		{"*-3\r\n", ErrInvalidArray},
		{"?nope\r\n", ErrInvalidPrefix},
	}
	for _, c := range cases {
		d := NewDecoder(bytes.NewBufferString(c.enc))
		_, err := d.Decode()
		assert.Equal(t, c.err, err, c.enc)
	}
}

func TestDecodeShortRead(t *testing.T) {
	d := NewDecoder(bytes.NewBufferString("$5\r\nab"))
	_, err := d.Decode()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeStream(t *testing.T) {
	// Two whole replies back to back must decode one at a time, matching
	// the streaming behaviour described for the connection read loop.
	d := NewDecoder(bytes.NewBufferString("+OK\r\n:7\r\n"))
	first, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, Reply{Type: SimpleString, Str: "OK"}, first)
	second, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, Reply{Type: Integer, Int: 7}, second)
}
