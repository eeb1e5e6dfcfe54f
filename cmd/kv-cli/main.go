package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loganszeto/framekv/internal/client"
	"github.com/loganszeto/framekv/internal/command"
	"github.com/loganszeto/framekv/internal/config"
	"github.com/loganszeto/framekv/internal/logging"
)

var (
	v       = viper.New()
	logger  = zerolog.Nop()
	kv      *client.Client
	logFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "kv-cli",
	Short: "Talk to a kv-server",
	Long: `Send one command to a kv-server and print the result. Without a
subcommand, commands are read line by line from stdin.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return repl(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	cobra.OnInitialize(func() { config.LoadEnv(v) })
	config.RegisterClientFlags(rootCmd)
	rootCmd.PersistentFlags().BoolVarP(&logFlag, "log", "l", false, "log requests to stderr")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "get KEY",
			Short: "Get the value of key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOne(cmd, command.Get(args[0]))
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Set key to the string value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOne(cmd, command.Set(args[0], args[1]))
			},
		},
		&cobra.Command{
			Use:   "del KEY",
			Short: "Remove a given key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOne(cmd, command.Del(args[0]))
			},
		},
		&cobra.Command{
			Use:   "ping",
			Short: "Ping server status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOne(cmd, command.Ping())
			},
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := config.Bind(v, cmd); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if logFlag {
		logger, err = logging.New(logging.Config{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			Output: cmd.ErrOrStderr(),
			App:    "kv-cli",
		})
		if err != nil {
			return err
		}
	}
	kv = client.New(cfg.Addr(), client.WithTimeout(cfg.Timeout))
	return nil
}

func runOne(cmd *cobra.Command, c command.Command) error {
	return execute(cmd.Context(), c, cmd.OutOrStdout())
}

func execute(ctx context.Context, c command.Command, out io.Writer) error {
	logger.Info().Str("addr", kv.Addr()).Stringer("command", c).Msg("request")
	val, err := kv.Do(ctx, c)
	if err != nil {
		logger.Error().Err(err).Msg("request failed")
		return err
	}
	logger.Info().Str("value", val).Msg("response")
	_, err = fmt.Fprintln(out, val)
	return err
}
