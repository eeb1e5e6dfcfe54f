package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loganszeto/framekv/internal/config"
	"github.com/loganszeto/framekv/internal/gateway"
	"github.com/loganszeto/framekv/internal/logging"
	"github.com/loganszeto/framekv/internal/persistence"
	"github.com/loganszeto/framekv/internal/server"
	"github.com/loganszeto/framekv/internal/stats"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "kv-server",
	Short: "Serve the in-memory key-value store over TCP",
	Long: `Serve the in-memory key-value store over TCP, one command per connection.
On SIGINT or SIGTERM the table is written to the snapshot file. Every flag can
also be set through a KVS_<FLAG> environment variable (e.g. KVS_SNAPSHOT_PATH).`,
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return config.Bind(v, cmd)
	},
	RunE: run,
}

func init() {
	cobra.OnInitialize(func() { config.LoadEnv(v) })
	config.RegisterServerFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		App:    "kv-server",
	})
	if err != nil {
		return err
	}
	log.Logger = logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mirror persistence.Mirror
	if cfg.GCSBucket != "" {
		gcs, err := persistence.NewGCSMirror(ctx, cfg.GCSBucket, cfg.GCSObject)
		if err != nil {
			return err
		}
		defer gcs.Close()
		mirror = gcs
		logger.Info().Str("mirror", gcs.String()).Msg("snapshot mirror enabled")
	}

	st := server.LoadStore(ctx, cfg.SnapshotPath, mirror, logging.Component(logger, "restore"))
	metrics := stats.New()
	srvLog := logging.Component(logger, "server")
	srv := server.New(st, server.Options{
		Addr:         cfg.Addr(),
		SnapshotPath: cfg.SnapshotPath,
		Timeout:      cfg.Timeout,
		Mirror:       mirror,
		Stats:        metrics,
		Logger:       &srvLog,
	})

	if cfg.HTTPAddr == "" {
		return srv.ListenAndServe(ctx)
	}
	return serveWithGateway(ctx, srv, cfg.HTTPAddr, metrics, logger)
}

// serveWithGateway runs the TCP server with the HTTP gateway beside it. A
// gateway failure is logged and leaves the TCP server running. The gateway
// stops once the server returns.
func serveWithGateway(ctx context.Context, srv *server.Server, addr string, metrics *stats.Stats, logger zerolog.Logger) error {
	gwLog := logging.Component(logger, "gateway")
	gw := gateway.New(srv.Store(), metrics, nil, gwLog)

	gwCtx, cancelGateway := context.WithCancel(ctx)
	gwDone := make(chan struct{})
	go func() {
		defer close(gwDone)
		if err := gateway.ListenAndServe(gwCtx, addr, gw.Handler(), gwLog); err != nil {
			gwLog.Error().Err(err).Msg("http gateway stopped")
		}
	}()

	err := srv.ListenAndServe(ctx)
	cancelGateway()
	<-gwDone
	return err
}
