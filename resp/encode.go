package resp

import (
	"fmt"
	"io"
	"strconv"
)

// EncodeCommand writes args as a RESP request array of bulk strings:
// "*<n>\r\n" followed by n "$<len>\r\n<bytes>\r\n" frames. Each argument
// is rendered with Bytes.
func EncodeCommand(w io.Writer, args []interface{}) error {
	buf := make([]byte, 0, 64)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	if _, err := w.Write(buf); err != nil {
		return err
	}
	for _, a := range args {
		if err := encodeBulk(w, Bytes(a)); err != nil {
			return err
		}
	}
	return nil
}

func encodeBulk(w io.Writer, v []byte) error {
	buf := make([]byte, 0, len(v)+16)
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(v)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, v...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

// Bytes renders an argument (byte string, number, or nested array
// flattened by the caller beforehand) as its wire byte representation.
func Bytes(a interface{}) []byte {
	switch v := a.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case int:
		return strconv.AppendInt(nil, int64(v), 10)
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case uint64:
		return strconv.AppendUint(nil, v, 10)
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64)
	case bool:
		if v {
			return []byte("1")
		}
		return []byte("0")
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
