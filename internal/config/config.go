// Package config resolves kv-server and kv-cli settings from flags,
// KVS_* environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loganszeto/framekv/internal/persistence"
)

const EnvPrefix = "kvs"

const (
	KeyHost         = "host"
	KeyPort         = "port"
	KeySnapshotPath = "snapshot-path"
	KeyLogLevel     = "log-level"
	KeyLogFormat    = "log-format"
	KeyHTTPAddr     = "http-addr"
	KeyGCSBucket    = "gcs-bucket"
	KeyGCSObject    = "gcs-object"
	KeyTimeout      = "timeout"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Host         string
	Port         int
	SnapshotPath string
	LogLevel     string
	LogFormat    string
	HTTPAddr     string
	GCSBucket    string
	GCSObject    string
	Timeout      time.Duration
}

func Default() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         6379,
		SnapshotPath: persistence.DefaultSnapshotPath,
		LogLevel:     "info",
		LogFormat:    "console",
		GCSObject:    persistence.DefaultSnapshotPath,
	}
}

// Addr is the TCP listen or dial address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalid)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if c.SnapshotPath == "" {
		return fmt.Errorf("%w: snapshot-path is empty", ErrInvalid)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalid)
	}
	if c.GCSBucket != "" && c.GCSObject == "" {
		return fmt.Errorf("%w: gcs-object is required with gcs-bucket", ErrInvalid)
	}
	return nil
}

// LoadEnv reads .env files and enables KVS_* lookups on v. Missing files
// are ignored.
func LoadEnv(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// RegisterClientFlags adds the flags shared by every binary that dials
// the server.
func RegisterClientFlags(cmd *cobra.Command) {
	d := Default()
	flags := cmd.PersistentFlags()
	flags.String(KeyHost, d.Host, "server host")
	flags.IntP(KeyPort, "p", d.Port, "server port")
	flags.Duration(KeyTimeout, d.Timeout, "per-call timeout (0 disables)")
	flags.String(KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	flags.String(KeyLogFormat, d.LogFormat, "log format (console, json)")
}

// RegisterServerFlags adds the client flags plus the server-only ones.
func RegisterServerFlags(cmd *cobra.Command) {
	RegisterClientFlags(cmd)
	d := Default()
	flags := cmd.PersistentFlags()
	flags.String(KeySnapshotPath, d.SnapshotPath, "snapshot file written on shutdown and read on startup")
	flags.String(KeyHTTPAddr, d.HTTPAddr, "address for /ws, /healthz and /metrics (empty disables)")
	flags.String(KeyGCSBucket, d.GCSBucket, "GCS bucket mirroring the snapshot (empty disables)")
	flags.String(KeyGCSObject, d.GCSObject, "object name of the mirrored snapshot")
}

// Bind binds the command's flags to v.
func Bind(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.BindPFlags(cmd.PersistentFlags())
}

// FromViper builds a Config over the defaults and validates it. Keys
// absent from v keep their default.
func FromViper(v *viper.Viper) (Config, error) {
	c := Default()
	if v.IsSet(KeyHost) {
		c.Host = v.GetString(KeyHost)
	}
	if v.IsSet(KeyPort) {
		c.Port = v.GetInt(KeyPort)
	}
	if v.IsSet(KeySnapshotPath) {
		c.SnapshotPath = v.GetString(KeySnapshotPath)
	}
	if v.IsSet(KeyLogLevel) {
		c.LogLevel = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) {
		c.LogFormat = v.GetString(KeyLogFormat)
	}
	if v.IsSet(KeyHTTPAddr) {
		c.HTTPAddr = v.GetString(KeyHTTPAddr)
	}
	if v.IsSet(KeyGCSBucket) {
		c.GCSBucket = v.GetString(KeyGCSBucket)
	}
	if v.IsSet(KeyGCSObject) {
		c.GCSObject = v.GetString(KeyGCSObject)
	}
	if v.IsSet(KeyTimeout) {
		c.Timeout = v.GetDuration(KeyTimeout)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
