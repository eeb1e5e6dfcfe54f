package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/loganszeto/framekv/internal/persistence"
	"github.com/loganszeto/framekv/internal/protocol"
	"github.com/loganszeto/framekv/internal/stats"
	"github.com/loganszeto/framekv/internal/store"
	"github.com/loganszeto/framekv/internal/util"
)

const (
	DefaultAddr      = "127.0.0.1:6379"
	mirrorTimeout    = 30 * time.Second
	maxAcceptBackoff = time.Second
)

type Options struct {
	Addr         string
	SnapshotPath string
	// Timeout bounds each read and write on a client connection. Zero
	// means no deadline.
	Timeout time.Duration
	Limits  protocol.Limits
	Mirror  persistence.Mirror
	Stats   *stats.Stats
	Logger  *zerolog.Logger
	Clock   util.Clock
}

type Server struct {
	addr         string
	snapshotPath string
	timeout      time.Duration
	limits       protocol.Limits
	mirror       persistence.Mirror
	st           *store.Store
	stats        *stats.Stats
	log          zerolog.Logger
	clock        util.Clock

	conns  *xsync.MapOf[uint64, net.Conn]
	nextID atomic.Uint64
}

// New returns a server for st. st is the only table the server touches and
// is shared by every connection.
func New(st *store.Store, opts Options) *Server {
	s := &Server{
		addr:         opts.Addr,
		snapshotPath: opts.SnapshotPath,
		timeout:      opts.Timeout,
		limits:       opts.Limits,
		mirror:       opts.Mirror,
		st:           st,
		stats:        opts.Stats,
		clock:        opts.Clock,
		conns:        xsync.NewMapOf[uint64, net.Conn](),
	}
	if s.addr == "" {
		s.addr = DefaultAddr
	}
	if s.snapshotPath == "" {
		s.snapshotPath = persistence.DefaultSnapshotPath
	}
	if s.stats == nil {
		s.stats = stats.New()
	}
	if s.clock == nil {
		s.clock = util.RealClock{}
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = zerolog.Nop()
	}
	s.stats.SetKeys(st.Len())
	return s
}

func (s *Server) Store() *store.Store {
	return s.st
}

// ActiveConns returns the number of connections currently being served.
func (s *Server) ActiveConns() int {
	return s.conns.Size()
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or accepting fails.
// When ctx wins the race the listener is closed and the store is written to
// the snapshot once. Connections still in flight are left to finish on
// their own. When accepting fails first the error is returned and no
// snapshot is written.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Int("keys", s.st.Len()).Msg("listening")

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- s.acceptLoop(ln)
	}()

	select {
	case err := <-acceptErr:
		_ = ln.Close()
		s.log.Error().Err(err).Msg("accept loop stopped")
		return err
	case <-ctx.Done():
		_ = ln.Close()
		s.shutdown()
		return nil
	}
}

func (s *Server) acceptLoop(ln net.Listener) error {
	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		id := s.nextID.Add(1)
		go s.handleConn(id, nc)
	}
}

// shutdown writes the one snapshot of this process lifetime. Failures are
// logged and never block exit.
func (s *Server) shutdown() {
	if n := s.conns.Size(); n > 0 {
		s.log.Warn().Int("connections", n).Msg("shutting down with connections in flight")
	}

	err := persistence.SaveSnapshot(s.snapshotPath, s.st)
	keys := s.st.Len()
	s.stats.RecordSnapshot(err, keys)
	if err != nil {
		s.log.Error().Err(err).Str("path", s.snapshotPath).Msg("snapshot failed")
		return
	}
	s.log.Info().Str("path", s.snapshotPath).Int("keys", keys).Msg("snapshot written")

	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := s.mirror.Upload(ctx, s.snapshotPath); err != nil {
		s.log.Error().Err(err).Msg("snapshot upload failed")
		return
	}
	s.log.Info().Msg("snapshot uploaded")
}
