package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
)

// Encode returns the wire form of f.
func Encode(f Frame) ([]byte, error) {
	return Append(make([]byte, 0, 64), f)
}

// Append appends the wire form of f to dst. Scalar payloads may not contain
// CRLF since the decoder reads them as a single line.
func Append(dst []byte, f Frame) ([]byte, error) {
	switch f.Kind {
	case KindTag, KindValue, KindError:
		if bytes.Contains(f.Data, crlf) {
			return dst, fmt.Errorf("%w: %s payload contains CRLF", ErrProtocol, f.Kind)
		}
		dst = append(dst, byte(f.Kind))
		dst = strconv.AppendInt(dst, int64(len(f.Data)), 10)
		dst = append(dst, crlf...)
		dst = append(dst, f.Data...)
		dst = append(dst, crlf...)
		return dst, nil
	case KindArray:
		dst = append(dst, byte(KindArray))
		dst = strconv.AppendInt(dst, int64(len(f.Array)), 10)
		dst = append(dst, crlf...)
		for _, item := range f.Array {
			var err error
			if dst, err = Append(dst, item); err != nil {
				return dst, err
			}
		}
		return dst, nil
	case KindNull:
		dst = append(dst, byte(KindNull))
		return append(dst, crlf...), nil
	default:
		return dst, fmt.Errorf("%w: cannot encode %s", ErrProtocol, f.Kind)
	}
}

// WriteFrame encodes f into w without flushing. Nothing is written when f
// cannot be encoded.
func WriteFrame(w *bufio.Writer, f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
