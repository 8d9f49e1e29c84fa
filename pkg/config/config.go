// Package config loads and validates the sync engine's configuration from
// defaults, a configuration file, and environment variables, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nimbusfs/syncengine/internal/bytesize"
)

// Config is the root configuration for the sync engine.
//
// Configuration sources, in order of precedence (highest first):
//  1. Environment variables (SYNCENGINE_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and Pyroscope
	// continuous profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Store configures the replicated event-sourced file index and its
	// write-ahead log.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Blobstore configures local content-addressed blob storage.
	Blobstore BlobstoreConfig `mapstructure:"blobstore" yaml:"blobstore"`

	// Remote configures how content is moved to and from the backing object
	// store, either directly or through a credential-signing service.
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`

	// Executor controls the bounded-concurrency upload/download scheduler.
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`

	// Reconciler controls periodic garbage collection of orphaned blobs.
	Reconciler ReconcilerConfig `mapstructure:"reconciler" yaml:"reconciler"`

	// Thumbnail controls the image thumbnail generation pipeline.
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail" yaml:"thumbnail"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate, from 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server are
	// active.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// StoreConfig configures the replicated file index.
type StoreConfig struct {
	// Backend selects the index implementation: "memory", "wal", or
	// "badger". "wal" persists the event log to disk via an mmap-backed
	// write-ahead log and replays it on startup; "badger" persists the
	// index itself in an embedded BadgerDB, avoiding a full log replay on
	// open; "memory" keeps no durable state.
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=memory wal badger" yaml:"backend"`

	// WALPath is the path to the write-ahead log file. Required when
	// Backend is "wal".
	WALPath string `mapstructure:"wal_path" yaml:"wal_path,omitempty"`

	// BadgerPath is the directory for the BadgerDB index. Required when
	// Backend is "badger".
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path,omitempty"`
}

// BlobstoreConfig configures local content-addressed blob storage.
type BlobstoreConfig struct {
	// Backend selects the blobstore implementation: "fs" or "memory".
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=fs memory" yaml:"backend"`

	// Path is the base directory for the filesystem blobstore. Required
	// when Backend is "fs".
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// RemoteConfig configures the remote object-storage backend.
type RemoteConfig struct {
	// Mode selects how the client reaches the backing object store:
	// "s3" talks to S3 (or an S3-compatible endpoint) directly, "signer"
	// routes uploads and downloads through a credential-signing service,
	// and "memory" uses an in-process fake for local development.
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=s3 signer memory" yaml:"mode"`

	S3     S3Config     `mapstructure:"s3" yaml:"s3,omitempty"`
	Signer SignerConfig `mapstructure:"signer" yaml:"signer,omitempty"`
}

// S3Config configures direct access to an S3 (or S3-compatible) bucket.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style,omitempty"`
}

// SignerConfig configures a signer-mediated remote client, which never
// holds storage credentials directly.
type SignerConfig struct {
	// URL is the base URL of the signer service.
	URL string `mapstructure:"url" yaml:"url,omitempty"`
}

// ExecutorConfig controls the bounded-concurrency transfer scheduler.
type ExecutorConfig struct {
	// MaxConcurrentUploads bounds simultaneous upload workers.
	MaxConcurrentUploads int `mapstructure:"max_concurrent_uploads" validate:"omitempty,gt=0" yaml:"max_concurrent_uploads"`

	// MaxConcurrentDownloads bounds simultaneous download workers.
	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads" validate:"omitempty,gt=0" yaml:"max_concurrent_downloads"`

	// MaxAttempts is the maximum number of attempts before a transfer is
	// abandoned.
	MaxAttempts int `mapstructure:"max_attempts" validate:"omitempty,gt=0" yaml:"max_attempts"`

	// BaseDelay is the starting delay for retry backoff.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay,omitempty"`

	// MaxDelay caps the retry backoff delay.
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay,omitempty"`

	// Jitter bounds the random jitter added to each retry delay.
	Jitter time.Duration `mapstructure:"jitter" yaml:"jitter,omitempty"`
}

// ReconcilerConfig controls periodic orphan-blob garbage collection.
type ReconcilerConfig struct {
	// GCIdleInterval is how long the reconciler waits without a store
	// change before running a garbage collection pass.
	GCIdleInterval time.Duration `mapstructure:"gc_idle_interval" yaml:"gc_idle_interval,omitempty"`
}

// ThumbnailConfig controls the thumbnail generation pipeline.
type ThumbnailConfig struct {
	// Workers is the number of concurrent thumbnail generation goroutines.
	Workers int `mapstructure:"workers" validate:"omitempty,gt=0" yaml:"workers"`

	// MaxDimension bounds the longest edge of a generated thumbnail, in
	// pixels.
	MaxDimension int `mapstructure:"max_dimension" validate:"omitempty,gt=0" yaml:"max_dimension"`
}

// Load loads configuration from file, environment, and defaults.
//
// configPath, if non-empty, overrides the default config file location.
// When no configuration file is found, Load returns GetDefaultConfig()
// unchanged; environment variables are not applied in that case.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error if no
// config file exists at the resolved path.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  syncctl init\n\n"+
				"Or specify a custom config file:\n"+
				"  syncctl <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  syncctl init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: config files may embed object storage credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variable and config file
// search settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SYNCENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. The returned
// bool reports whether a file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the combined mapstructure decode hook for all
// custom types used in Config.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// accepting human-readable sizes like "1Gi", "500Mi", "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
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

// durationDecodeHook converts strings and numbers to time.Duration,
// accepting human-readable durations like "30s", "5m", "1h".
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

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME, then falling back to ~/.config, then the current
// directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "syncengine")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "syncengine")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
