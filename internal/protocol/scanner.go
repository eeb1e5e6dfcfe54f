package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// Scanner finds where the frame at the front of a growing buffer ends
// without decoding it. It remembers how far it got, so a frame arriving
// over many reads is examined once instead of once per read.
type Scanner struct {
	limits Limits
	pos    int   // first byte of the element being checked
	open   []int // elements still expected by each enclosing array

	// set while inside the payload line of a scalar
	body    int // start of the payload line, 0 when not in one
	size    int // declared payload length
	scanned int // payload bytes known to hold no CRLF
}

func NewScanner(limits Limits) *Scanner {
	return &Scanner{limits: limits.orDefault()}
}

// Reset prepares the scanner for the next frame.
func (s *Scanner) Reset() {
	s.pos = 0
	s.open = s.open[:0]
	s.body, s.size, s.scanned = 0, 0, 0
}

// Scan returns the encoded size of the frame at the front of buf. Every
// call until Reset must pass a buffer starting with the bytes of the
// previous call. It returns ErrIncomplete while the frame is still partial
// and an error wrapping ErrProtocol once it can never become valid.
func (s *Scanner) Scan(buf []byte) (int, error) {
	for {
		done, err := s.element(buf)
		if err != nil {
			if errors.Is(err, ErrIncomplete) && len(buf) > s.limits.MaxFrame {
				return 0, s.tooLarge()
			}
			return 0, err
		}
		if s.pos > s.limits.MaxFrame {
			return 0, s.tooLarge()
		}
		if done && s.closeElement() {
			return s.pos, nil
		}
	}
}

func (s *Scanner) tooLarge() error {
	return fmt.Errorf("%w: frame exceeds %d bytes", ErrLimitExceeded, s.limits.MaxFrame)
}

// element checks the element at s.pos. It reports true once the element is
// whole; an array header reports false since its items follow.
func (s *Scanner) element(buf []byte) (bool, error) {
	if s.body > 0 {
		return s.payload(buf)
	}
	if s.pos >= len(buf) {
		return false, ErrIncomplete
	}

	switch kind := Kind(buf[s.pos]); kind {
	case KindTag, KindValue, KindError:
		n, next, err := readCount(buf, s.pos+1)
		if err != nil {
			return false, err
		}
		if n > s.limits.MaxPayload {
			return false, fmt.Errorf("%w: payload length %d exceeds %d", ErrLimitExceeded, n, s.limits.MaxPayload)
		}
		if next+n+len(crlf) > s.limits.MaxFrame {
			return false, s.tooLarge()
		}
		s.body, s.size, s.scanned = next, n, 0
		return s.payload(buf)
	case KindArray:
		if len(s.open) >= s.limits.MaxDepth {
			return false, fmt.Errorf("%w: nesting deeper than %d", ErrLimitExceeded, s.limits.MaxDepth)
		}
		n, next, err := readCount(buf, s.pos+1)
		if err != nil {
			return false, err
		}
		if n > s.limits.MaxArrayLen {
			return false, fmt.Errorf("%w: array length %d exceeds %d", ErrLimitExceeded, n, s.limits.MaxArrayLen)
		}
		s.pos = next
		if n == 0 {
			return true, nil
		}
		s.open = append(s.open, n)
		return false, nil
	case KindNull:
		rest := buf[s.pos+1:]
		if len(rest) < len(crlf) {
			if bytes.HasPrefix(crlf, rest) {
				return false, ErrIncomplete
			}
			return false, fmt.Errorf("%w: null frame not terminated", ErrProtocol)
		}
		if !bytes.HasPrefix(rest, crlf) {
			return false, fmt.Errorf("%w: null frame not terminated", ErrProtocol)
		}
		s.pos += 1 + len(crlf)
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown tag byte %q", ErrProtocol, byte(kind))
	}
}

// payload looks for the CRLF ending the current payload line in the bytes
// not searched by earlier calls.
func (s *Scanner) payload(buf []byte) (bool, error) {
	end := s.body + s.size + len(crlf)
	avail := min(len(buf), end)
	from := s.body + s.scanned
	if s.scanned > 0 {
		// the last searched byte may be the CR of a split CRLF
		from--
	}

	if idx := bytes.Index(buf[from:avail], crlf); idx >= 0 {
		if got := from + idx - s.body; got != s.size {
			return false, fmt.Errorf("%w: payload length %d does not match declared length %d", ErrProtocol, got, s.size)
		}
		s.pos = end
		s.body, s.size, s.scanned = 0, 0, 0
		return true, nil
	}
	if avail == end {
		return false, fmt.Errorf("%w: payload longer than declared length %d", ErrProtocol, s.size)
	}
	s.scanned = avail - s.body
	return false, ErrIncomplete
}

// closeElement records that an element ended at s.pos and reports whether
// that finished the whole frame.
func (s *Scanner) closeElement() bool {
	for len(s.open) > 0 {
		last := len(s.open) - 1
		s.open[last]--
		if s.open[last] > 0 {
			return false
		}
		s.open = s.open[:last]
	}
	return true
}

// checked returns how many leading bytes of the frame are already known
// to be valid.
func (s *Scanner) checked() int {
	if s.body > 0 {
		return s.body + s.scanned
	}
	return s.pos
}
