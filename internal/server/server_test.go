package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/loganszeto/framekv/internal/client"
	"github.com/loganszeto/framekv/internal/persistence"
	"github.com/loganszeto/framekv/internal/stats"
	"github.com/loganszeto/framekv/internal/store"
)

type running struct {
	srv    *Server
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, st *store.Store, opts Options) *running {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if opts.SnapshotPath == "" {
		opts.SnapshotPath = filepath.Join(t.TempDir(), "kvs_backup.json")
	}
	srv := New(st, opts)
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{srv: srv, addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() {
		r.done <- srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
		return nil
	}
}

func TestEndToEndScenario(t *testing.T) {
	r := startServer(t, store.New(), Options{})
	c := client.New(r.addr, client.WithTimeout(2*time.Second))
	ctx := context.Background()

	steps := []struct {
		name string
		do   func() (string, error)
		want string
	}{
		{"SET foo bar", func() (string, error) { return c.Set(ctx, "foo", "bar") }, ""},
		{"GET foo", func() (string, error) { return c.Get(ctx, "foo") }, "bar"},
		{"SET foo baz", func() (string, error) { return c.Set(ctx, "foo", "baz") }, "bar"},
		{"DEL foo", func() (string, error) { return c.Del(ctx, "foo") }, "baz"},
		{"GET foo", func() (string, error) { return c.Get(ctx, "foo") }, ""},
		{"DEL foo", func() (string, error) { return c.Del(ctx, "foo") }, ""},
		{"PING", func() (string, error) { return c.Ping(ctx) }, "PONG"},
	}
	for _, s := range steps {
		got, err := s.do()
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got != s.want {
			t.Fatalf("%s: expected %q, got %q", s.name, s.want, got)
		}
	}
}

func TestOneRequestPerConnection(t *testing.T) {
	r := startServer(t, store.New(), Options{})
	nc, err := net.Dial("tcp", r.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()

	// two pings on one connection: only the first is answered
	if _, err := nc.Write([]byte("+4\r\nping\r\n+4\r\nping\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(nc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "-4\r\nPONG\r\n" {
		t.Fatalf("unexpected response %q", data)
	}
}

func TestBadRequestClosesOnlyThatConnection(t *testing.T) {
	r := startServer(t, store.New(), Options{})
	bad := []string{
		"$oops\r\n",
		"*2\r\n+4\r\nincr\r\n-1\r\nk\r\n",
		"*1\r\n+3\r\nget\r\n",
		"-5\r\nabc\r\n",
	}
	for _, req := range bad {
		nc, err := net.Dial("tcp", r.addr)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if _, err := nc.Write([]byte(req)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))
		data, err := io.ReadAll(nc)
		_ = nc.Close()
		if err != nil {
			t.Fatalf("%q: read: %v", req, err)
		}
		if len(data) != 0 {
			t.Fatalf("%q: expected no response, got %q", req, data)
		}
	}

	got, err := client.New(r.addr).Ping(context.Background())
	if err != nil || got != "PONG" {
		t.Fatalf("server stopped serving after bad requests: %q %v", got, err)
	}
}

func TestConcurrentClients(t *testing.T) {
	st := store.New()
	r := startServer(t, st, Options{})
	c := client.New(r.addr, client.WithTimeout(5*time.Second))

	const goroutines = 20
	const loops = 10
	var wg sync.WaitGroup
	errCh := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("k:%d", id)
			for j := 0; j < loops; j++ {
				if _, err := c.Set(context.Background(), key, fmt.Sprint(j)); err != nil {
					errCh <- err
					return
				}
				got, err := c.Get(context.Background(), key)
				if err != nil {
					errCh <- err
					return
				}
				if got != fmt.Sprint(j) {
					errCh <- fmt.Errorf("%s: expected %d, got %q", key, j, got)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
	if st.Len() != goroutines {
		t.Fatalf("expected %d keys, got %d", goroutines, st.Len())
	}
}

func TestConcurrentSetSameKeyOverNetwork(t *testing.T) {
	st := store.New()
	r := startServer(t, st, Options{})
	c := client.New(r.addr, client.WithTimeout(5*time.Second))

	var wg sync.WaitGroup
	for _, v := range []string{"v1", "v2"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, _ = c.Set(context.Background(), "k", v)
		}(v)
	}
	wg.Wait()
	got, err := c.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "v1" && got != "v2" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestShutdownWritesSnapshotAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "kvs_backup.json")
	r := startServer(t, store.New(), Options{SnapshotPath: path})
	c := client.New(r.addr, client.WithTimeout(2*time.Second))
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if _, err := c.Set(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i)); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("snapshot written before shutdown: %v", err)
	}

	if err := r.stop(t); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, err := c.Ping(ctx); err == nil {
		t.Fatalf("expected server to stop accepting")
	}

	st := LoadStore(ctx, path, nil, zerolog.Nop())
	if st.Len() != 25 {
		t.Fatalf("expected 25 restored keys, got %d", st.Len())
	}
	r2 := startServer(t, st, Options{SnapshotPath: path})
	got, err := client.New(r2.addr).Get(ctx, "key-7")
	if err != nil || got != "value-7" {
		t.Fatalf("expected value-7 after restart, got %q %v", got, err)
	}
}

func TestShutdownDoesNotWaitForInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvs_backup.json")
	r := startServer(t, store.New(), Options{SnapshotPath: path})

	// a client that connects and never sends a request
	nc, err := net.Dial("tcp", r.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()
	deadline := time.Now().Add(2 * time.Second)
	for r.srv.ActiveConns() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.stop(t); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if r.srv.ActiveConns() != 1 {
		t.Fatalf("expected in-flight connection to be left alone, got %d", r.srv.ActiveConns())
	}
}

func TestSnapshotFailureDoesNotBlockExit(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mirror := &fakeMirror{}
	r := startServer(t, store.New(), Options{
		SnapshotPath: filepath.Join(blocker, "snap.json"),
		Mirror:       mirror,
	})
	if err := r.stop(t); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if mirror.uploads != 0 {
		t.Fatalf("failed snapshot should not be uploaded")
	}
}

func TestShutdownUploadsToMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvs_backup.json")
	mirror := &fakeMirror{}
	st := store.New()
	st.Set("a", "1")
	r := startServer(t, st, Options{SnapshotPath: path, Mirror: mirror})
	if err := r.stop(t); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if mirror.uploads != 1 || mirror.uploaded != `{"a":"1"}` {
		t.Fatalf("unexpected upload %d %q", mirror.uploads, mirror.uploaded)
	}
}

func TestAcceptFailureSkipsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvs_backup.json")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(store.New(), Options{SnapshotPath: path})
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), ln)
	}()
	time.Sleep(20 * time.Millisecond)
	_ = ln.Close()

	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Fatalf("expected closed listener error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("snapshot should not be written when accepting fails: %v", err)
	}
}

var _ persistence.Mirror = (*fakeMirror)(nil)

type fakeMirror struct {
	mu        sync.Mutex
	uploads   int
	uploaded  string
	downloads int
	remote    string
}

func (m *fakeMirror) Download(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	if m.remote == "" {
		return nil
	}
	return os.WriteFile(path, []byte(m.remote), 0o644)
}

func (m *fakeMirror) Upload(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.uploads++
	m.uploaded = string(data)
	return nil
}

func TestLoadStoreUsesMirrorWhenLocalMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvs_backup.json")
	mirror := &fakeMirror{remote: `{"remote":"yes"}`}
	st := LoadStore(context.Background(), path, mirror, zerolog.Nop())
	if v, ok := st.Get("remote"); !ok || v != "yes" {
		t.Fatalf("expected mirrored key, got %q %v", v, ok)
	}

	// a local snapshot takes precedence over the mirror
	if err := os.WriteFile(path, []byte(`{"local":"yes"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	st = LoadStore(context.Background(), path, mirror, zerolog.Nop())
	if _, ok := st.Get("local"); !ok || mirror.downloads != 1 {
		t.Fatalf("expected local snapshot without a second download, downloads=%d", mirror.downloads)
	}
}

func TestLoadStoreIgnoresBadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvs_backup.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	st := LoadStore(context.Background(), path, nil, zerolog.Nop())
	if st.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestRequestDurationUsesClock(t *testing.T) {
	metrics := stats.New()
	clk := &stepClock{now: time.Unix(0, 0), step: time.Second}
	r := startServer(t, store.New(), Options{Stats: metrics, Clock: clk})

	if _, err := client.New(r.addr).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	want := `framekv_request_duration_seconds_sum{command="ping"} 1`
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		if strings.Contains(rec.Body.String(), want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("duration not recorded:\n%s", rec.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
