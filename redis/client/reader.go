package client

import (
	"errors"
	"io"

	"hermes/redis/parser"
	"hermes/redis/resp"
)

var ErrQueryBufferLimit = errors.New("client: query buffer limit exceeded")

const defaultReadBufferSize = 4096

// frameReader decodes frames from a stream. buf[:fill] holds bytes that were
// read but not consumed yet; a frame split across reads stays there until
// the rest of it arrives.
type frameReader struct {
	rd    io.Reader
	dec   parser.Decoder // 跨多次读取保留已解析的数组元素
	buf   []byte
	fill  int
	limit int   // buf 上限，0 表示不限
	err   error // 读到的错误，等缓冲区中的完整帧处理完再返回
}

func newFrameReader(rd io.Reader, size, limit int) *frameReader {
	if size <= 0 {
		size = defaultReadBufferSize
	}
	if limit > 0 && size > limit {
		size = limit
	}
	return &frameReader{
		rd:    rd,
		buf:   make([]byte, size),
		limit: limit,
	}
}

// ReadFrame returns the next complete frame. It returns io.EOF when the peer
// closed the stream between frames, io.ErrUnexpectedEOF when it closed it in
// the middle of one, and a parser error for malformed input.
func (r *frameReader) ReadFrame() (resp.Frame, error) {
	for {
		if r.fill > 0 {
			f, n, err := r.dec.Decode(r.buf[:r.fill])
			if err != nil {
				return resp.Frame{}, err
			}
			if n > 0 {
				r.consume(n)
				return f, nil
			}
		}
		if r.err != nil {
			if r.err == io.EOF && r.fill > 0 {
				return resp.Frame{}, io.ErrUnexpectedEOF
			}
			return resp.Frame{}, r.err
		}
		if r.fill == len(r.buf) {
			if err := r.grow(); err != nil {
				return resp.Frame{}, err
			}
		}
		n, err := r.rd.Read(r.buf[r.fill:])
		r.fill += n
		if err != nil {
			r.err = err
		} else if n == 0 {
			// 读到 0 字节视为对端关闭
			r.err = io.EOF
		}
	}
}

// consume 丢弃已解析的 n 个字节，剩余数据移到缓冲区开头
func (r *frameReader) consume(n int) {
	r.fill = copy(r.buf, r.buf[n:r.fill])
}

func (r *frameReader) grow() error {
	size := len(r.buf) * 2
	if r.limit > 0 && size > r.limit {
		if len(r.buf) >= r.limit {
			return ErrQueryBufferLimit
		}
		size = r.limit
	}
	buf := make([]byte, size)
	copy(buf, r.buf[:r.fill])
	r.buf = buf
	return nil
}

// Buffered 已读入但尚未解析的字节数
func (r *frameReader) Buffered() int {
	return r.fill
}
