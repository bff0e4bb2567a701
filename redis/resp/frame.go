// Package resp holds the RESP2 value shared by requests and replies.
package resp

import (
	"bytes"
	"strconv"
	"strings"
)

// Kind 帧类型
type Kind byte

const (
	Null Kind = iota
	Integer
	SimpleString
	BulkString
	Error
	Array
)

var kindNames = []string{"null", "integer", "simple-string", "bulk-string", "error", "array"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Frame is an immutable RESP value. The zero Frame is Null.
//
// Frames are built only through the New* constructors, which copy their
// inputs, so a Frame can be shared between goroutines freely.
type Frame struct {
	kind  Kind
	num   int64
	str   string
	bulk  []byte
	elems []Frame
}

// 常用的固定回复
var (
	OK   = NewSimpleString("OK")
	Pong = NewSimpleString("PONG")
)

func NewNull() Frame {
	return Frame{}
}

func NewInteger(n int64) Frame {
	return Frame{kind: Integer, num: n}
}

// NewSimpleString builds a status reply. CR and LF cannot travel inside a
// status line and are replaced by spaces.
func NewSimpleString(s string) Frame {
	return Frame{kind: SimpleString, str: stripNewlines(s)}
}

// NewError builds an error reply, with the same CR/LF rule as NewSimpleString.
func NewError(s string) Frame {
	return Frame{kind: Error, str: stripNewlines(s)}
}

func NewBulk(b []byte) Frame {
	return Frame{kind: BulkString, bulk: append([]byte(nil), b...)}
}

func NewBulkString(s string) Frame {
	return Frame{kind: BulkString, bulk: append([]byte(nil), s...)}
}

func NewArray(elems ...Frame) Frame {
	return Frame{kind: Array, elems: append([]Frame(nil), elems...)}
}

// NewBulkArray builds an array of bulk strings.
func NewBulkArray(items ...string) Frame {
	elems := make([]Frame, 0, len(items))
	for _, s := range items {
		elems = append(elems, NewBulkString(s))
	}
	return Frame{kind: Array, elems: elems}
}

func (f Frame) Kind() Kind {
	return f.kind
}

func (f Frame) IsNull() bool {
	return f.kind == Null
}

// Int returns the value of an Integer frame, 0 for any other kind.
func (f Frame) Int() int64 {
	return f.num
}

// Text returns the text of a SimpleString or Error frame, and the contents
// of a BulkString frame as a string.
func (f Frame) Text() string {
	if f.kind == BulkString {
		return string(f.bulk)
	}
	return f.str
}

// Bytes returns the contents of a BulkString frame. The returned slice is
// shared with the frame and must not be modified.
func (f Frame) Bytes() []byte {
	return f.bulk
}

// Len returns the number of elements of an Array frame.
func (f Frame) Len() int {
	return len(f.elems)
}

// Index returns the i-th element of an Array frame.
func (f Frame) Index(i int) Frame {
	return f.elems[i]
}

// Elems returns a copy of the elements of an Array frame.
func (f Frame) Elems() []Frame {
	return append([]Frame(nil), f.elems...)
}

// Equal reports whether two frames are structurally identical.
func (f Frame) Equal(o Frame) bool {
	if f.kind != o.kind {
		return false
	}
	switch f.kind {
	case Null:
		return true
	case Integer:
		return f.num == o.num
	case SimpleString, Error:
		return f.str == o.str
	case BulkString:
		return bytes.Equal(f.bulk, o.bulk)
	case Array:
		if len(f.elems) != len(o.elems) {
			return false
		}
		for i := range f.elems {
			if !f.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the frame the way redis-cli prints replies.
func (f Frame) String() string {
	var sb strings.Builder
	f.format(&sb)
	return sb.String()
}

func (f Frame) format(sb *strings.Builder) {
	switch f.kind {
	case Null:
		sb.WriteString("(nil)")
	case Integer:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(f.num, 10))
	case SimpleString:
		sb.WriteString(f.str)
	case Error:
		sb.WriteString("(error) ")
		sb.WriteString(f.str)
	case BulkString:
		sb.WriteString(strconv.Quote(string(f.bulk)))
	case Array:
		sb.WriteByte('[')
		for i, e := range f.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.format(sb)
		}
		sb.WriteByte(']')
	}
}

func stripNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
