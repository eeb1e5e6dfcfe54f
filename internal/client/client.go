// Package client talks to a kv-server. Every call opens its own connection,
// sends one command and waits for one response.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
	"unicode/utf8"

	"github.com/loganszeto/framekv/internal/command"
	"github.com/loganszeto/framekv/internal/connection"
	"github.com/loganszeto/framekv/internal/protocol"
)

var (
	ErrUnexpectedFrame = errors.New("unexpected response frame")
	ErrServer          = errors.New("server error")
)

type Client struct {
	addr    string
	dialer  net.Dialer
	timeout time.Duration
}

type Option func(*Client)

// WithTimeout bounds a whole call, from dial to response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialer.Timeout = d
	}
}

func New(addr string, opts ...Option) *Client {
	c := &Client{addr: addr}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Addr() string {
	return c.addr
}

// Set stores value under key and returns the previous value, or "" if the
// key was new.
func (c *Client) Set(ctx context.Context, key, value string) (string, error) {
	return c.Do(ctx, command.Set(key, value))
}

// Get returns the value under key, or "" if it is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.Do(ctx, command.Get(key))
}

// Del removes key and returns the removed value, or "" if it was absent.
func (c *Client) Del(ctx context.Context, key string) (string, error) {
	return c.Do(ctx, command.Del(key))
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	return c.Do(ctx, command.Ping())
}

// Do sends cmd on a fresh connection and interprets the response. A value
// frame yields its text, a null frame yields "". Anything else is an error.
// Failed calls are not retried.
func (c *Client) Do(ctx context.Context, cmd command.Command) (string, error) {
	req, err := cmd.ToFrame()
	if err != nil {
		return "", fmt.Errorf("client: %s: %w", cmd.Type, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	nc, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("client: %s: connect %s: %w", cmd.Type, c.addr, err)
	}
	defer nc.Close()

	// unblock any pending read or write once ctx is done
	stop := context.AfterFunc(ctx, func() {
		_ = nc.SetDeadline(time.Now())
	})
	defer stop()

	conn := connection.New(nc)

	if err := conn.WriteFrame(req); err != nil {
		return "", fmt.Errorf("client: %s: send: %w", cmd.Type, c.ctxErr(ctx, err))
	}
	resp, err := conn.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("client: %s: read response: %w", cmd.Type, c.ctxErr(ctx, err))
	}
	val, err := interpret(resp)
	if err != nil {
		return "", fmt.Errorf("client: %s: %w", cmd.Type, err)
	}
	return val, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func interpret(resp protocol.Frame) (string, error) {
	switch resp.Kind {
	case protocol.KindValue:
		if !utf8.Valid(resp.Data) {
			return "", fmt.Errorf("%w: value is not valid UTF-8", ErrUnexpectedFrame)
		}
		return string(resp.Data), nil
	case protocol.KindNull:
		return "", nil
	case protocol.KindError:
		return "", fmt.Errorf("%w: %s", ErrServer, resp.Data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnexpectedFrame, resp.Kind)
	}
}
