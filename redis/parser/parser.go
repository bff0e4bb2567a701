// Package parser decodes RESP2 frames from a byte stream that may arrive in
// arbitrary fragments.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"hermes/redis/resp"
)

// 协议限制，防止恶意客户端耗尽内存
const (
	// MaxArrayLen limits the number of elements of one array.
	MaxArrayLen = 1024 * 1024
	// MaxBulkLen limits the size of one bulk string (512MB, same as redis).
	MaxBulkLen = 512 * 1024 * 1024
	// MaxInlineLen limits the length of an array, bulk or integer header
	// line. Status and error lines are bounded by the read buffer limit.
	MaxInlineLen = 64 * 1024
	// MaxDepth limits array nesting.
	MaxDepth = 32
)

var (
	ErrProtocol      = errors.New("resp: protocol error")
	ErrLimitExceeded = errors.New("resp: limit exceeded")
)

var crlf = []byte("\r\n")

// Decode parses one frame from the front of b.
//
// If b holds only a prefix of a frame, Decode returns n == 0 and a nil error
// and the caller should retry once more bytes have arrived. Otherwise it
// returns the frame and the number of bytes it occupies; anything after
// those n bytes is left for the next call. Malformed input yields an error
// wrapping ErrProtocol or ErrLimitExceeded.
func Decode(b []byte) (resp.Frame, int, error) {
	var d Decoder
	return d.Decode(b)
}

// Decoder is Decode with memory: when a frame is incomplete it keeps the
// elements of its arrays that were already decoded, so the next call
// resumes where the previous one stopped.
//
// Every call must pass the same frame start, with at least the bytes of
// the previous call. After a frame or an error is returned the Decoder is
// reset and b may start at the next frame.
type Decoder struct {
	stack []pending // 尚未收齐的数组，最外层在前
	off   int       // b[:off] 已经解析进 stack
}

type pending struct {
	count int
	elems []resp.Frame
}

func (d *Decoder) Decode(b []byte) (resp.Frame, int, error) {
	for {
		// 收齐的数组出栈，作为上一层的一个元素
		if top := len(d.stack) - 1; top >= 0 && len(d.stack[top].elems) == d.stack[top].count {
			f := resp.NewArray(d.stack[top].elems...)
			d.stack = d.stack[:top]
			if done, n := d.complete(f); done {
				return f, n, nil
			}
			continue
		}

		rest := b[d.off:]
		if len(rest) == 0 {
			return resp.Frame{}, 0, nil
		}
		if rest[0] != '*' {
			f, n, err := decodeScalar(rest)
			if err != nil {
				d.Reset()
				return resp.Frame{}, 0, err
			}
			if n == 0 {
				return resp.Frame{}, 0, nil
			}
			d.off += n
			if done, n := d.complete(f); done {
				return f, n, nil
			}
			continue
		}

		line, n, err := readLine(rest, MaxInlineLen)
		if err != nil {
			d.Reset()
			return resp.Frame{}, 0, err
		}
		if n == 0 {
			return resp.Frame{}, 0, nil
		}
		count, err := parseLength(line[1:], MaxArrayLen, "array")
		if err != nil {
			d.Reset()
			return resp.Frame{}, 0, err
		}
		if count >= 0 && len(d.stack) >= MaxDepth {
			d.Reset()
			return resp.Frame{}, 0, fmt.Errorf("%w: nesting deeper than %d", ErrLimitExceeded, MaxDepth)
		}
		d.off += n
		if count < 0 {
			if done, n := d.complete(resp.NewNull()); done {
				return resp.NewNull(), n, nil
			}
			continue
		}
		// 元素个数可能很大但数据尚未到达，按需扩容
		d.stack = append(d.stack, pending{count: count, elems: make([]resp.Frame, 0, min(count, 64))})
	}
}

// complete 把解析出的值交给外层数组；没有外层时整帧完成，返回其长度
func (d *Decoder) complete(f resp.Frame) (bool, int) {
	if top := len(d.stack) - 1; top >= 0 {
		d.stack[top].elems = append(d.stack[top].elems, f)
		return false, 0
	}
	n := d.off
	d.Reset()
	return true, n
}

// Reset drops any partially decoded frame.
func (d *Decoder) Reset() {
	d.stack = d.stack[:0]
	d.off = 0
}

// decodeScalar 解析除数组以外的帧
func decodeScalar(b []byte) (resp.Frame, int, error) {
	switch b[0] {
	case '+', '-':
		// 状态行的长度只受连接的 maxQueryBuffer 限制
		line, n, err := readLine(b, 0)
		if err != nil || n == 0 {
			return resp.Frame{}, 0, err
		}
		if b[0] == '+' {
			return resp.NewSimpleString(string(line[1:])), n, nil
		}
		return resp.NewError(string(line[1:])), n, nil
	case ':':
		line, n, err := readLine(b, MaxInlineLen)
		if err != nil || n == 0 {
			return resp.Frame{}, 0, err
		}
		v, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return resp.Frame{}, 0, fmt.Errorf("%w: invalid integer %q", ErrProtocol, line[1:])
		}
		return resp.NewInteger(v), n, nil
	case '$':
		line, n, err := readLine(b, MaxInlineLen)
		if err != nil || n == 0 {
			return resp.Frame{}, 0, err
		}
		size, err := parseLength(line[1:], MaxBulkLen, "bulk")
		if err != nil {
			return resp.Frame{}, 0, err
		}
		if size < 0 {
			return resp.NewNull(), n, nil
		}
		end := n + size
		if len(b) < end+len(crlf) {
			return resp.Frame{}, 0, nil
		}
		if !bytes.Equal(b[end:end+len(crlf)], crlf) {
			return resp.Frame{}, 0, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
		}
		return resp.NewBulk(b[n:end]), end + len(crlf), nil
	default:
		return resp.Frame{}, 0, fmt.Errorf("%w: unexpected type byte %q", ErrProtocol, b[0])
	}
}

// readLine returns the line at the front of b without its CRLF, and the
// number of bytes including the CRLF. n == 0 means the line is incomplete.
// A positive limit caps the bytes before LF, whether or not LF has arrived,
// so the result does not depend on how the line was split.
func readLine(b []byte, limit int) ([]byte, int, error) {
	i := bytes.IndexByte(b, '\n')
	size := i
	if i < 0 {
		size = len(b)
	}
	if limit > 0 && size > limit {
		return nil, 0, fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, limit)
	}
	if i < 0 {
		return nil, 0, nil
	}
	if i == 0 || b[i-1] != '\r' {
		return nil, 0, fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return b[:i-1], i + 1, nil
}

// parseLength parses the declared length of a bulk string or array.
// -1 denotes Null and is returned as is.
func parseLength(b []byte, limit int, what string) (int, error) {
	n, err := strconv.Atoi(string(b))
	if err != nil || n < -1 {
		return 0, fmt.Errorf("%w: invalid %s length %q", ErrProtocol, what, b)
	}
	if n > limit {
		return 0, fmt.Errorf("%w: %s length %d exceeds limit %d", ErrLimitExceeded, what, n, limit)
	}
	return n, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
