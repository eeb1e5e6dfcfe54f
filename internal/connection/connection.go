// Package connection frames a byte stream into protocol frames.
package connection

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/loganszeto/framekv/internal/protocol"
)

const (
	initialBufferSize = 128
	minRead           = 512
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn reads and writes whole frames over a stream. Frames may arrive split
// across any number of reads; bytes past the first frame stay buffered for
// the next ReadFrame. A Conn is not safe for concurrent use.
type Conn struct {
	rwc     io.ReadWriteCloser
	w       *bufio.Writer
	buf     []byte
	scan    *protocol.Scanner
	limits  protocol.Limits
	timeout time.Duration
}

func New(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc:    rwc,
		w:      bufio.NewWriter(rwc),
		buf:    make([]byte, 0, initialBufferSize),
		scan:   protocol.NewScanner(protocol.DefaultLimits()),
		limits: protocol.DefaultLimits(),
	}
}

// SetLimits replaces the decode limits.
func (c *Conn) SetLimits(l protocol.Limits) {
	c.limits = l
	c.scan = protocol.NewScanner(l)
}

// SetTimeout bounds every read and write when the stream supports
// deadlines. Zero disables it.
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeout = d
}

// ReadFrame returns the next frame. It returns io.EOF if the peer closed the
// stream between frames, io.ErrUnexpectedEOF if it closed in the middle of
// one, and an error wrapping protocol.ErrProtocol for malformed input.
// Each read only checks the bytes it added; the frame is decoded once it
// is whole.
func (c *Conn) ReadFrame() (protocol.Frame, error) {
	for {
		if len(c.buf) > 0 {
			n, err := c.scan.Scan(c.buf)
			if err == nil {
				f, _, err := protocol.Parse(c.buf[:n], c.limits)
				c.buf = c.buf[n:]
				c.scan.Reset()
				return f, err
			}
			if !errors.Is(err, protocol.ErrIncomplete) {
				return protocol.Frame{}, err
			}
		}
		if err := c.fill(); err != nil {
			if errors.Is(err, io.EOF) {
				if len(c.buf) == 0 {
					return protocol.Frame{}, io.EOF
				}
				return protocol.Frame{}, io.ErrUnexpectedEOF
			}
			return protocol.Frame{}, err
		}
	}
}

// fill performs one read into the free space after the buffered bytes.
func (c *Conn) fill() error {
	if cap(c.buf)-len(c.buf) < minRead {
		grown := make([]byte, len(c.buf), 2*cap(c.buf)+minRead)
		copy(grown, c.buf)
		c.buf = grown
	}
	if d, ok := c.rwc.(readDeadliner); ok && c.timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	n, err := c.rwc.Read(c.buf[len(c.buf):cap(c.buf)])
	c.buf = c.buf[:len(c.buf)+n]
	if n > 0 {
		return nil
	}
	if err != nil {
		return err
	}
	// a read of zero bytes without an error is treated as a closed peer
	return io.EOF
}

// WriteFrame encodes f and flushes it to the stream before returning.
func (c *Conn) WriteFrame(f protocol.Frame) error {
	if d, ok := c.rwc.(writeDeadliner); ok && c.timeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	if err := protocol.WriteFrame(c.w, f); err != nil {
		return err
	}
	return c.w.Flush()
}

// Buffered returns the number of read bytes not yet consumed by a frame.
func (c *Conn) Buffered() int {
	return len(c.buf)
}

func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return ""
}

func (c *Conn) Close() error {
	return c.rwc.Close()
}
