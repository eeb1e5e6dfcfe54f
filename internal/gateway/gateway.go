// Package gateway exposes the command path over HTTP: one frame per
// WebSocket message on /ws, plus /healthz and /metrics.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/loganszeto/framekv/internal/command"
	"github.com/loganszeto/framekv/internal/protocol"
	"github.com/loganszeto/framekv/internal/stats"
	"github.com/loganszeto/framekv/internal/store"
	"github.com/loganszeto/framekv/internal/util"
)

const (
	shutdownTimeout = 5 * time.Second
	writeTimeout    = 5 * time.Second
)

type Gateway struct {
	st       *store.Store
	stats    *stats.Stats
	clock    util.Clock
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New returns a gateway over st. A nil s or clock gets a private Stats or
// the real clock.
func New(st *store.Store, s *stats.Stats, clock util.Clock, log zerolog.Logger) *Gateway {
	if s == nil {
		s = stats.New()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Gateway{
		st:    st,
		stats: s,
		clock: clock,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", g.stats.Handler())
	mux.HandleFunc("/ws", g.handleWS)
	return g.withLogging(mux)
}

func (g *Gateway) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

// handleWS serves one request: the first message must hold exactly one
// encoded frame. The response frame is sent back and the socket is closed.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(int64(protocol.DefaultLimits().MaxFrame))

	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		g.stats.RecordError("io")
		return
	}
	if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
		return
	}

	start := time.Now()
	resp, err := g.execute(payload)
	if err != nil {
		g.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket request failed")
		resp = protocol.Error(errorText(err))
	}
	data, err := protocol.Encode(resp)
	if err != nil {
		g.log.Error().Err(err).Msg("encode response")
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		g.stats.RecordError("io")
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	g.log.Debug().Dur("took", time.Since(start)).Msg("websocket request served")
}

func (g *Gateway) execute(payload []byte) (protocol.Frame, error) {
	req, err := protocol.Decode(payload)
	if err != nil {
		g.stats.RecordError("protocol")
		return protocol.Frame{}, err
	}
	start := g.clock.Now()
	cmd, resp, err := command.Execute(req, g.st)
	if err != nil {
		g.stats.RecordError("command")
		return protocol.Frame{}, err
	}
	g.stats.RecordCommand(cmd.Type.String(), util.Since(g.clock, start))
	switch cmd.Type {
	case command.CmdGet:
		g.stats.RecordGet(resp.Kind == protocol.KindValue)
	case command.CmdSet, command.CmdDel:
		g.stats.SetKeys(g.st.Len())
	}
	return resp, nil
}

func errorText(err error) string {
	return strings.ReplaceAll(err.Error(), "\r\n", " ")
}

// ListenAndServe serves h on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("http gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
