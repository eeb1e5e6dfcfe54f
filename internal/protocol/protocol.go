// Package protocol implements the frame grammar spoken between kv-server and its clients.
//
// Every frame starts with a one byte tag:
//
//	+<len>\r\n<bytes>\r\n   tag
//	-<len>\r\n<bytes>\r\n   value
//	?<len>\r\n<bytes>\r\n   error
//	*<count>\r\n<frame>...  array
//	!\r\n                   null
//
// Payloads are raw bytes. The codec never interprets them as text.
package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

type Kind byte

const (
	KindTag   Kind = '+'
	KindValue Kind = '-'
	KindError Kind = '?'
	KindArray Kind = '*'
	KindNull  Kind = '!'
)

func (k Kind) String() string {
	switch k {
	case KindTag:
		return "tag"
	case KindValue:
		return "value"
	case KindError:
		return "error"
	case KindArray:
		return "array"
	case KindNull:
		return "null"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Frame is the unit placed on the wire. Data is set for tag, value and
// error frames; Array is set for array frames.
type Frame struct {
	Kind  Kind
	Data  []byte
	Array []Frame
}

func Tag(name string) Frame {
	return Frame{Kind: KindTag, Data: []byte(name)}
}

func Value(b []byte) Frame {
	return Frame{Kind: KindValue, Data: b}
}

func ValueString(s string) Frame {
	return Frame{Kind: KindValue, Data: []byte(s)}
}

func Error(msg string) Frame {
	return Frame{Kind: KindError, Data: []byte(msg)}
}

func Array(items ...Frame) Frame {
	return Frame{Kind: KindArray, Array: items}
}

func Null() Frame {
	return Frame{Kind: KindNull}
}

// Len returns the payload byte count for scalar frames and the element count for arrays.
func (f Frame) Len() int {
	if f.Kind == KindArray {
		return len(f.Array)
	}
	return len(f.Data)
}

// Equal reports whether two frames have the same kind and content. A nil
// and an empty payload compare equal.
func (f Frame) Equal(o Frame) bool {
	if f.Kind != o.Kind {
		return false
	}
	switch f.Kind {
	case KindArray:
		if len(f.Array) != len(o.Array) {
			return false
		}
		for i := range f.Array {
			if !f.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindNull:
		return true
	default:
		return bytes.Equal(f.Data, o.Data)
	}
}

// String renders a short, human readable form used in logs, e.g. *[+"get" -"foo"].
func (f Frame) String() string {
	var sb strings.Builder
	f.describe(&sb)
	return sb.String()
}

func (f Frame) describe(sb *strings.Builder) {
	switch f.Kind {
	case KindArray:
		sb.WriteString("*[")
		for i, item := range f.Array {
			if i > 0 {
				sb.WriteByte(' ')
			}
			item.describe(sb)
		}
		sb.WriteByte(']')
	case KindNull:
		sb.WriteByte('!')
	case KindTag, KindValue, KindError:
		sb.WriteByte(byte(f.Kind))
		sb.WriteString(strconv.Quote(string(f.Data)))
	default:
		sb.WriteString(f.Kind.String())
	}
}
