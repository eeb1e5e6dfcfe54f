package server

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/loganszeto/framekv/internal/command"
	"github.com/loganszeto/framekv/internal/connection"
	"github.com/loganszeto/framekv/internal/protocol"
	"github.com/loganszeto/framekv/internal/util"
)

func (s *Server) serveOne(conn *connection.Conn, log zerolog.Logger) error {
	req, err := conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	start := s.clock.Now()
	log.Debug().Stringer("frame", req).Msg("request")

	cmd, resp, err := command.Execute(req, s.st)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	s.stats.RecordCommand(cmd.Type.String(), util.Since(s.clock, start))
	switch cmd.Type {
	case command.CmdGet:
		s.stats.RecordGet(resp.Kind == protocol.KindValue)
	case command.CmdSet, command.CmdDel:
		s.stats.SetKeys(s.st.Len())
	}
	log.Debug().Stringer("command", cmd).Stringer("response", resp).Msg("served")
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrProtocol):
		return "protocol"
	case errors.Is(err, command.ErrCommand):
		return "command"
	default:
		return "io"
	}
}
