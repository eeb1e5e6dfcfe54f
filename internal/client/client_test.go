package client

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/loganszeto/framekv/internal/command"
	"github.com/loganszeto/framekv/internal/connection"
	"github.com/loganszeto/framekv/internal/protocol"
)

// fakeServer answers every connection with reply and sends the decoded
// request on the returned channel.
func fakeServer(t *testing.T, reply func(*connection.Conn)) (string, <-chan protocol.Frame) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	reqs := make(chan protocol.Frame, 16)
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer nc.Close()
				conn := connection.New(nc)
				req, err := conn.ReadFrame()
				if err != nil {
					return
				}
				reqs <- req
				reply(conn)
			}()
		}
	}()
	return ln.Addr().String(), reqs
}

func respondWith(f protocol.Frame) func(*connection.Conn) {
	return func(c *connection.Conn) {
		_ = c.WriteFrame(f)
	}
}

func TestValueAndNull(t *testing.T) {
	ctx := context.Background()
	addr, reqs := fakeServer(t, respondWith(protocol.ValueString("bar")))
	c := New(addr)

	got, err := c.Get(ctx, "foo")
	if err != nil || got != "bar" {
		t.Fatalf("expected bar, got %q %v", got, err)
	}
	if req := <-reqs; !req.Equal(protocol.Array(protocol.Tag("get"), protocol.ValueString("foo"))) {
		t.Fatalf("unexpected request %v", req)
	}

	addr, reqs = fakeServer(t, respondWith(protocol.Null()))
	c = New(addr)
	got, err = c.Set(ctx, "k", "v")
	if err != nil || got != "" {
		t.Fatalf("expected empty result for null, got %q %v", got, err)
	}
	if req := <-reqs; req.Kind != protocol.KindArray || len(req.Array) != 3 {
		t.Fatalf("unexpected request %v", req)
	}
}

func TestPingSendsBareTag(t *testing.T) {
	addr, reqs := fakeServer(t, respondWith(protocol.ValueString(command.Pong)))
	got, err := New(addr).Ping(context.Background())
	if err != nil || got != "PONG" {
		t.Fatalf("expected PONG, got %q %v", got, err)
	}
	if req := <-reqs; !req.Equal(protocol.Tag("ping")) {
		t.Fatalf("unexpected request %v", req)
	}
}

func TestUnexpectedFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame protocol.Frame
		want  error
	}{
		{"array", protocol.Array(protocol.ValueString("x")), ErrUnexpectedFrame},
		{"tag", protocol.Tag("x"), ErrUnexpectedFrame},
		{"error", protocol.Error("boom"), ErrServer},
		{"invalid utf8", protocol.Value([]byte{0xff}), ErrUnexpectedFrame},
	}
	for _, tc := range cases {
		addr, _ := fakeServer(t, respondWith(tc.frame))
		_, err := New(addr).Del(context.Background(), "k")
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestServerClosesWithoutReply(t *testing.T) {
	addr, _ := fakeServer(t, func(*connection.Conn) {})
	_, err := New(addr).Get(context.Background(), "k")
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestMalformedReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		buf := make([]byte, 64)
		_, _ = nc.Read(buf)
		_, _ = nc.Write([]byte("-9\r\nshort\r\n"))
	}()

	_, err = New(ln.Addr().String()).Get(context.Background(), "k")
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestConstructionErrorSkipsNetwork(t *testing.T) {
	c := New("127.0.0.1:1")
	_, err := c.Do(context.Background(), command.Command{Type: command.CmdSet, Args: []string{"k"}})
	if !errors.Is(err, command.ErrMissingValue) {
		t.Fatalf("expected missing value, got %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := New(addr).Ping(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
}

func TestContextCancelUnblocksRead(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	addr, _ := fakeServer(t, func(*connection.Conn) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(addr).Get(ctx, "k")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
