// Package config loads and validates the replicator configuration from file,
// environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/replicator-dev/replicator/internal/bytesize"
	"github.com/replicator-dev/replicator/internal/dbconn"
	"github.com/replicator-dev/replicator/internal/httpx"
	"github.com/replicator-dev/replicator/pkg/migrate"
)

// Config is the full replicator configuration, shared by both the
// control-plane and data-plane commands.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (REPLICATOR_*, plus a few legacy aliases)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Database configures the store shared by the control plane (jobs,
	// nodes) and the data plane (manifests).
	Database dbconn.Config `mapstructure:"database" yaml:"database"`

	// ControlPlane configures the scheduler service.
	ControlPlane ControlPlaneConfig `mapstructure:"control_plane" yaml:"control_plane"`

	// DataPlane configures a storage node.
	DataPlane DataPlaneConfig `mapstructure:"data_plane" yaml:"data_plane"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// RunnerConfig tunes the job runner loop.
type RunnerConfig struct {
	// PollInterval is the queue polling period.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0" yaml:"poll_interval"`
}

// ControlPlaneConfig configures the scheduler: its HTTP listener, the job
// runner and the transfer engine.
type ControlPlaneConfig struct {
	Host string `mapstructure:"host" validate:"required" yaml:"host"`
	Port int    `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`

	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Transfer migrate.Config `mapstructure:"transfer" yaml:"transfer"`
}

// DataPlaneConfig configures one storage node.
type DataPlaneConfig struct {
	Host string `mapstructure:"host" validate:"required" yaml:"host"`
	Port int    `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`

	// BlobRoot is the chunk store directory.
	BlobRoot string `mapstructure:"blob_root" validate:"required" yaml:"blob_root"`

	// ChunkSize is the default ingest chunk size; clients can override per
	// request.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" validate:"required" yaml:"chunk_size"`

	// VerifyChunks enables SHA-256 verification of chunk PUT bodies.
	VerifyChunks bool `mapstructure:"verify_chunks" yaml:"verify_chunks"`
}

var validate = validator.New()

// Load loads configuration from file, environment, and defaults. An empty
// configPath uses the default location; a missing file yields pure defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	bindDefaults(v, Default())

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal even without a config file so REPLICATOR_* environment
	// variables are applied; AutomaticEnv only sees keys viper knows about,
	// which bindDefaults guarantees.
	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvAliases(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints on cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return cfg.Database.Validate()
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		ControlPlane: ControlPlaneConfig{
			Host:   "0.0.0.0",
			Port:   8000,
			Runner: RunnerConfig{PollInterval: time.Second},
			Transfer: migrate.Config{
				MaxConcurrency: migrate.DefaultMaxConcurrency,
				RatePerSec:     migrate.DefaultRatePerSec,
				Burst:          migrate.DefaultBurst,
				RequestTimeout: httpx.DefaultTimeout,
				Retry:          httpx.DefaultRetryConfig(),
			},
		},
		DataPlane: DataPlaneConfig{
			Host:         "0.0.0.0",
			Port:         9000,
			BlobRoot:     "/var/lib/replicator/blobs",
			ChunkSize:    bytesize.ByteSize(1024 * 1024),
			VerifyChunks: true,
		},
		ShutdownTimeout: 10 * time.Second,
	}
	cfg.Database.ApplyDefaults(defaultSQLitePath())
	return cfg
}

// applyDefaults fills any zero values left after unmarshalling.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = d.Logging.Output
	}
	if cfg.ControlPlane.Host == "" {
		cfg.ControlPlane.Host = d.ControlPlane.Host
	}
	if cfg.ControlPlane.Port == 0 {
		cfg.ControlPlane.Port = d.ControlPlane.Port
	}
	if cfg.ControlPlane.Runner.PollInterval == 0 {
		cfg.ControlPlane.Runner.PollInterval = d.ControlPlane.Runner.PollInterval
	}
	if cfg.ControlPlane.Transfer.MaxConcurrency == 0 {
		cfg.ControlPlane.Transfer.MaxConcurrency = d.ControlPlane.Transfer.MaxConcurrency
	}
	if cfg.ControlPlane.Transfer.RatePerSec == 0 {
		cfg.ControlPlane.Transfer.RatePerSec = d.ControlPlane.Transfer.RatePerSec
	}
	if cfg.ControlPlane.Transfer.Burst == 0 {
		cfg.ControlPlane.Transfer.Burst = d.ControlPlane.Transfer.Burst
	}
	if cfg.ControlPlane.Transfer.RequestTimeout == 0 {
		cfg.ControlPlane.Transfer.RequestTimeout = d.ControlPlane.Transfer.RequestTimeout
	}
	if cfg.ControlPlane.Transfer.Retry.MaxAttempts == 0 {
		cfg.ControlPlane.Transfer.Retry = d.ControlPlane.Transfer.Retry
	}
	if cfg.DataPlane.Host == "" {
		cfg.DataPlane.Host = d.DataPlane.Host
	}
	if cfg.DataPlane.Port == 0 {
		cfg.DataPlane.Port = d.DataPlane.Port
	}
	if cfg.DataPlane.BlobRoot == "" {
		cfg.DataPlane.BlobRoot = d.DataPlane.BlobRoot
	}
	if cfg.DataPlane.ChunkSize == 0 {
		cfg.DataPlane.ChunkSize = d.DataPlane.ChunkSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	cfg.Database.ApplyDefaults(defaultSQLitePath())
}

// applyEnvAliases honors the short environment variable names kept for
// compatibility with existing deployments. They win over the file but lose
// to the corresponding REPLICATOR_* variables viper already applied.
func applyEnvAliases(cfg *Config) {
	if host := os.Getenv("CONTROL_PLANE_HOST"); host != "" && os.Getenv("REPLICATOR_CONTROL_PLANE_HOST") == "" {
		cfg.ControlPlane.Host = host
	}
	if port := os.Getenv("CONTROL_PLANE_PORT"); port != "" && os.Getenv("REPLICATOR_CONTROL_PLANE_PORT") == "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			cfg.ControlPlane.Port = p
		}
	}
	// DATABASE_URL has no single REPLICATOR_* equivalent; it always applies.
	if rawURL := os.Getenv("DATABASE_URL"); rawURL != "" {
		if dbCfg, err := dbconn.ParseURL(rawURL); err == nil {
			cfg.Database = *dbCfg
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" && os.Getenv("REPLICATOR_LOGGING_LEVEL") == "" {
		cfg.Logging.Level = strings.ToUpper(level)
	}
}

// bindDefaults registers every configuration key with viper so environment
// variables resolve even when no config file exists.
func bindDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("database.type", string(d.Database.Type))
	v.SetDefault("database.sqlite.path", d.Database.SQLite.Path)
	v.SetDefault("database.postgres.host", d.Database.Postgres.Host)
	v.SetDefault("database.postgres.port", d.Database.Postgres.Port)
	v.SetDefault("database.postgres.database", d.Database.Postgres.Database)
	v.SetDefault("database.postgres.user", d.Database.Postgres.User)
	v.SetDefault("database.postgres.password", d.Database.Postgres.Password)
	v.SetDefault("database.postgres.ssl_mode", d.Database.Postgres.SSLMode)
	v.SetDefault("database.postgres.max_open_conns", d.Database.Postgres.MaxOpenConns)
	v.SetDefault("database.postgres.max_idle_conns", d.Database.Postgres.MaxIdleConns)
	v.SetDefault("control_plane.host", d.ControlPlane.Host)
	v.SetDefault("control_plane.port", d.ControlPlane.Port)
	v.SetDefault("control_plane.runner.poll_interval", d.ControlPlane.Runner.PollInterval)
	v.SetDefault("control_plane.transfer.max_concurrency", d.ControlPlane.Transfer.MaxConcurrency)
	v.SetDefault("control_plane.transfer.rate_per_sec", d.ControlPlane.Transfer.RatePerSec)
	v.SetDefault("control_plane.transfer.burst", d.ControlPlane.Transfer.Burst)
	v.SetDefault("control_plane.transfer.request_timeout", d.ControlPlane.Transfer.RequestTimeout)
	v.SetDefault("control_plane.transfer.retry.max_attempts", d.ControlPlane.Transfer.Retry.MaxAttempts)
	v.SetDefault("control_plane.transfer.retry.base_delay", d.ControlPlane.Transfer.Retry.BaseDelay)
	v.SetDefault("control_plane.transfer.retry.max_delay", d.ControlPlane.Transfer.Retry.MaxDelay)
	v.SetDefault("data_plane.host", d.DataPlane.Host)
	v.SetDefault("data_plane.port", d.DataPlane.Port)
	v.SetDefault("data_plane.blob_root", d.DataPlane.BlobRoot)
	v.SetDefault("data_plane.chunk_size", int64(d.DataPlane.ChunkSize))
	v.SetDefault("data_plane.verify_chunks", d.DataPlane.VerifyChunks)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// setupViper configures viper with environment variables and config file
// search paths. Environment variables use the REPLICATOR_ prefix, for
// example REPLICATOR_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("REPLICATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file is
// not an error; defaults and environment variables still apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// configDecodeHooks returns a combined decode hook for all custom types:
// ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can use sizes like "1Mi", "512Ki" or plain byte counts.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME or
// ~/.config, falling back to the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "replicator")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "replicator")
}

func defaultSQLitePath() string {
	return filepath.Join(getConfigDir(), "replicator.db")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
