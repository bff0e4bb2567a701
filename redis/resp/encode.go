package resp

import (
	"fmt"

	"github.com/tidwall/redcon"
)

// Encode returns the wire form of f.
func Encode(f Frame) []byte {
	return AppendFrame(nil, f)
}

// AppendFrame appends the wire form of f to dst and returns the extended buffer.
func AppendFrame(dst []byte, f Frame) []byte {
	switch f.kind {
	case Null:
		return redcon.AppendNull(dst)
	case Integer:
		return redcon.AppendInt(dst, f.num)
	case SimpleString:
		return redcon.AppendString(dst, f.str)
	case Error:
		return redcon.AppendError(dst, f.str)
	case BulkString:
		return redcon.AppendBulk(dst, f.bulk)
	case Array:
		dst = redcon.AppendArray(dst, len(f.elems))
		for _, e := range f.elems {
			dst = AppendFrame(dst, e)
		}
		return dst
	default:
		panic(fmt.Sprintf("resp: unknown frame kind %d", f.kind))
	}
}
