package server

import (
	"errors"
	"io"
	"net"

	"github.com/loganszeto/framekv/internal/connection"
)

// handleConn serves exactly one request on nc and closes it. Errors end
// this connection only; no response is written for a failed request.
func (s *Server) handleConn(id uint64, nc net.Conn) {
	s.conns.Store(id, nc)
	s.stats.ConnOpened()
	defer func() {
		_ = nc.Close()
		s.conns.Delete(id)
		s.stats.ConnClosed()
	}()

	log := s.log.With().Uint64("conn", id).Str("remote", nc.RemoteAddr().String()).Logger()

	conn := connection.New(nc)
	conn.SetTimeout(s.timeout)
	conn.SetLimits(s.limits)

	if err := s.serveOne(conn, log); err != nil {
		if errors.Is(err, io.EOF) {
			log.Debug().Msg("closed without a request")
			return
		}
		kind := errorKind(err)
		s.stats.RecordError(kind)
		log.Error().Err(err).Str("kind", kind).Msg("request failed")
	}
}
