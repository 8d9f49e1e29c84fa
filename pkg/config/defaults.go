package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ApplyDefaults fills in any unspecified configuration fields with sensible
// defaults. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyStoreDefaults(&cfg.Store)
	applyBlobstoreDefaults(&cfg.Blobstore)
	applyRemoteDefaults(&cfg.Remote)
	applyExecutorDefaults(&cfg.Executor)
	applyReconcilerDefaults(&cfg.Reconciler)
	applyThumbnailDefaults(&cfg.Thumbnail)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "wal"
	}
	if cfg.Backend == "wal" && cfg.WALPath == "" {
		cfg.WALPath = "/var/lib/syncengine/store.wal"
	}
	if cfg.Backend == "badger" && cfg.BadgerPath == "" {
		cfg.BadgerPath = "/var/lib/syncengine/index"
	}
}

func applyBlobstoreDefaults(cfg *BlobstoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "fs"
	}
	if cfg.Backend == "fs" && cfg.Path == "" {
		cfg.Path = "/var/lib/syncengine/blobs"
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "s3"
	}
	if cfg.Mode == "s3" && cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

func applyExecutorDefaults(cfg *ExecutorConfig) {
	if cfg.MaxConcurrentUploads == 0 {
		cfg.MaxConcurrentUploads = 4
	}
	if cfg.MaxConcurrentDownloads == 0 {
		cfg.MaxConcurrentDownloads = 4
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = time.Second
	}
}

func applyReconcilerDefaults(cfg *ReconcilerConfig) {
	if cfg.GCIdleInterval == 0 {
		cfg.GCIdleInterval = 10 * time.Minute
	}
}

func applyThumbnailDefaults(cfg *ThumbnailConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.MaxDimension == 0 {
		cfg.MaxDimension = 256
	}
}

// GetDefaultConfig returns a Config with all default values applied,
// suitable for a fresh local install with no remote object storage
// configured yet.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Store: StoreConfig{
			Backend: "wal",
			WALPath: GetDefaultConfigPath() + ".wal",
		},
		Blobstore: BlobstoreConfig{
			Backend: "fs",
		},
		Remote: RemoteConfig{
			Mode: "memory",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

var validate = validator.New()

// Validate checks cfg against its struct tags and cross-field invariants.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.Store.Backend == "wal" && cfg.Store.WALPath == "" {
		return fmt.Errorf("store.wal_path is required when store.backend is \"wal\"")
	}
	if cfg.Store.Backend == "badger" && cfg.Store.BadgerPath == "" {
		return fmt.Errorf("store.badger_path is required when store.backend is \"badger\"")
	}
	if cfg.Blobstore.Backend == "fs" && cfg.Blobstore.Path == "" {
		return fmt.Errorf("blobstore.path is required when blobstore.backend is \"fs\"")
	}
	if cfg.Remote.Mode == "s3" && cfg.Remote.S3.Bucket == "" {
		return fmt.Errorf("remote.s3.bucket is required when remote.mode is \"s3\"")
	}
	if cfg.Remote.Mode == "signer" && cfg.Remote.Signer.URL == "" {
		return fmt.Errorf("remote.signer.url is required when remote.mode is \"signer\"")
	}

	return nil
}
