package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrProtocol = errors.New("protocol error")
	// ErrIncomplete means the buffer ended before a full frame. Reading more
	// bytes may complete it.
	ErrIncomplete    = errors.New("incomplete frame")
	ErrLimitExceeded = fmt.Errorf("%w: limit exceeded", ErrProtocol)
)

var crlf = []byte("\r\n")

// maxCountDigits bounds the length line. Every limit fits in ten digits.
const maxCountDigits = 10

// Limits constrains decode memory use. Zero fields take the default.
type Limits struct {
	MaxPayload  int
	MaxArrayLen int
	MaxDepth    int
	// MaxFrame bounds the encoded size of one whole frame.
	MaxFrame int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayload:  512 * 1024,
		MaxArrayLen: 1024,
		MaxDepth:    8,
		MaxFrame:    2 << 20,
	}
}

func (l Limits) orDefault() Limits {
	d := DefaultLimits()
	if l.MaxPayload <= 0 {
		l.MaxPayload = d.MaxPayload
	}
	if l.MaxFrame <= 0 {
		l.MaxFrame = d.MaxFrame
	}
	if l.MaxArrayLen <= 0 {
		l.MaxArrayLen = d.MaxArrayLen
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	return l
}

// Parse decodes one frame from the front of buf and returns it together with
// the number of bytes it occupied. Bytes after the frame are left untouched.
// It returns ErrIncomplete when buf holds only a prefix of a valid frame and
// an error wrapping ErrProtocol when buf can never become a valid frame.
func Parse(buf []byte, limits Limits) (Frame, int, error) {
	limits = limits.orDefault()
	n, err := NewScanner(limits).Scan(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	c := cursor{buf: buf[:n], limits: limits}
	f, err := c.frame(0)
	if err != nil {
		return Frame{}, 0, err
	}
	return f, n, nil
}

// Decode decodes buf as exactly one frame. A truncated buffer or trailing
// bytes are protocol errors.
func Decode(buf []byte) (Frame, error) {
	f, n, err := Parse(buf, DefaultLimits())
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return Frame{}, fmt.Errorf("%w: truncated input", ErrProtocol)
		}
		return Frame{}, err
	}
	if n != len(buf) {
		return Frame{}, fmt.Errorf("%w: %d trailing bytes", ErrProtocol, len(buf)-n)
	}
	return f, nil
}

type cursor struct {
	buf    []byte
	pos    int
	limits Limits
}

func (c *cursor) frame(depth int) (Frame, error) {
	if c.pos >= len(c.buf) {
		return Frame{}, ErrIncomplete
	}
	kind := Kind(c.buf[c.pos])
	c.pos++

	switch kind {
	case KindTag, KindValue, KindError:
		data, err := c.payload()
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, Data: data}, nil
	case KindArray:
		if depth >= c.limits.MaxDepth {
			return Frame{}, fmt.Errorf("%w: nesting deeper than %d", ErrLimitExceeded, c.limits.MaxDepth)
		}
		n, err := c.count()
		if err != nil {
			return Frame{}, err
		}
		if n > c.limits.MaxArrayLen {
			return Frame{}, fmt.Errorf("%w: array length %d exceeds %d", ErrLimitExceeded, n, c.limits.MaxArrayLen)
		}
		items := make([]Frame, 0, min(n, 16))
		for i := 0; i < n; i++ {
			item, err := c.frame(depth + 1)
			if err != nil {
				return Frame{}, err
			}
			items = append(items, item)
		}
		return Frame{Kind: KindArray, Array: items}, nil
	case KindNull:
		rest := c.buf[c.pos:]
		if len(rest) < len(crlf) {
			if bytes.HasPrefix(crlf, rest) {
				return Frame{}, ErrIncomplete
			}
			return Frame{}, fmt.Errorf("%w: null frame not terminated", ErrProtocol)
		}
		if !bytes.HasPrefix(rest, crlf) {
			return Frame{}, fmt.Errorf("%w: null frame not terminated", ErrProtocol)
		}
		c.pos += len(crlf)
		return Null(), nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown tag byte %q", ErrProtocol, byte(kind))
	}
}

func (c *cursor) count() (int, error) {
	n, next, err := readCount(c.buf, c.pos)
	if err != nil {
		return 0, err
	}
	c.pos = next
	return n, nil
}

// payload reads the length line and the data line of a scalar frame. The
// data line must be exactly as long as declared.
func (c *cursor) payload() ([]byte, error) {
	n, err := c.count()
	if err != nil {
		return nil, err
	}
	if n > c.limits.MaxPayload {
		return nil, fmt.Errorf("%w: payload length %d exceeds %d", ErrLimitExceeded, n, c.limits.MaxPayload)
	}
	line, next, err := readLine(c.buf, c.pos, n+len(crlf))
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: payload longer than declared length %d", ErrProtocol, n)
	}
	if len(line) != n {
		return nil, fmt.Errorf("%w: payload length %d does not match declared length %d", ErrProtocol, len(line), n)
	}
	c.pos = next
	out := make([]byte, n)
	copy(out, line)
	return out, nil
}

// readCount reads the CRLF terminated decimal count at pos and returns it
// with the position after the terminator.
func readCount(buf []byte, pos int) (int, int, error) {
	line, next, err := readLine(buf, pos, maxCountDigits+len(crlf))
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("%w: length line too long", ErrProtocol)
	}
	if len(line) == 0 {
		return 0, 0, fmt.Errorf("%w: empty length", ErrProtocol)
	}
	for _, b := range line {
		if b < '0' || b > '9' {
			return 0, 0, fmt.Errorf("%w: non-numeric length %q", ErrProtocol, line)
		}
	}
	n, err := strconv.Atoi(string(line))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid length %q", ErrProtocol, line)
	}
	return n, next, nil
}

var errLineTooLong = errors.New("line too long")

// readLine returns the bytes from pos up to the next CRLF and the position
// after the terminator. Only the first window bytes are searched; if they
// are all present and hold no CRLF the line can never fit.
func readLine(buf []byte, pos, window int) ([]byte, int, error) {
	rest := buf[pos:]
	limit := len(rest)
	if limit > window {
		limit = window
	}
	idx := bytes.Index(rest[:limit], crlf)
	if idx < 0 {
		if len(rest) >= window {
			return nil, 0, errLineTooLong
		}
		return nil, 0, ErrIncomplete
	}
	return rest[:idx], pos + idx + len(crlf), nil
}
