package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, RoleAll, cfg.Role)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 600*time.Second, cfg.Cache.ListTTL)
	assert.Equal(t, 60*time.Second, cfg.Cache.ShowTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.RecordTTL)
	assert.Equal(t, ArtifactsFilesystem, cfg.Artifacts.Driver)
	assert.Empty(t, cfg.Postgres.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("OTEL_SERVICE_NAME", "catalog-test")
	t.Setenv("CATALOG_CACHE_SHOW_TTL", "5s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "catalog-test", cfg.OTLP.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.Cache.ShowTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoadConfig_FileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "7070"
kafka:
  brokers: ["broker:9092"]
worker:
  concurrency: 8
artifacts:
  driver: nats
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig([]string{"--config", path, "--role", "worker"})
	require.NoError(t, err)

	assert.Equal(t, RoleWorker, cfg.Role)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Worker.MaxBackoff)
	assert.Equal(t, ArtifactsNATS, cfg.Artifacts.Driver)

	cfg, err = LoadConfig([]string{"--config", path, "--port", "6060"})
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig([]string{"--role", "janitor"})
	assert.ErrorContains(t, err, "role")

	_, err = LoadConfig([]string{"--role", "worker"})
	assert.ErrorContains(t, err, "kafka.brokers")

	_, err = LoadConfig([]string{"--config", "/does/not/exist.yaml"})
	assert.Error(t, err)
}

func TestLogConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "chatty"}.SlogLevel())
}
