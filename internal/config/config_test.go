package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Uploader.BatchSize)
	assert.Equal(t, 3, cfg.Uploader.MaxRetries)
	assert.Equal(t, time.Second, cfg.Uploader.BaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.Records.IdempotencyTTL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
server:
  port: "8080"
uploader:
  server_url: "https://hub.example.kz"
  batch_size: 4
  base_delay: 250ms
storage:
  driver: s3
  s3:
    region: eu-central-1
`)
	cfg, err := Load(viper.New(), p)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://hub.example.kz", cfg.Uploader.ServerURL)
	assert.Equal(t, 4, cfg.Uploader.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Uploader.BaseDelay)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "eu-central-1", cfg.Storage.S3.Region)
	// 未出现在文件中的键仍取默认值
	assert.Equal(t, 3, cfg.Uploader.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "uploader:\n  author: file-author\n")
	t.Setenv("KHUB_UPLOADER_AUTHOR", "env-author")

	cfg, err := Load(viper.New(), p)
	require.NoError(t, err)
	assert.Equal(t, "env-author", cfg.Uploader.Author)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
