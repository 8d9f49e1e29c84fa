package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "wal", cfg.Store.Backend)
	assert.Equal(t, "fs", cfg.Blobstore.Backend)
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestValidateRejectsS3ModeWithoutBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Remote.Mode = "s3"
	cfg.Remote.S3.Bucket = ""
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Remote.Mode = "s3"
	cfg.Remote.S3.Bucket = "my-bucket"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", loaded.Logging.Level)
	assert.Equal(t, "my-bucket", loaded.Remote.S3.Bucket)
}
