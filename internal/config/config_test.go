package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "50051", cfg.GRPC.Port)
	assert.Equal(t, 30, cfg.Feed.Cap)
	assert.Equal(t, 0.7, cfg.Feed.ConfidenceThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Cache.FeedTTL)
	assert.Equal(t, "fixed_window", cfg.Limits.Like.Kind)
	assert.Equal(t, 50, cfg.Swipe.MaxBatchSize)
	assert.Contains(t, cfg.DB.DSN, "tcp(localhost:3306)/muzz")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GRPC_PORT", "6000")
	t.Setenv("FEED_CAP", "40")
	t.Setenv("LOCK_TTL", "2s")
	t.Setenv("LOG_SOURCE", "true")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/x")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "6000", cfg.GRPC.Port)
	assert.Equal(t, 40, cfg.Feed.Cap)
	assert.Equal(t, 2*time.Second, cfg.Lock.TTL)
	assert.True(t, cfg.Log.Source)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "user:pass@tcp(db:3306)/x", cfg.DB.DSN)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("feed:\n  exploration_fraction: 0.2\nredis:\n  addr: cache:6379\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("REDIS_ADDR", "override:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Feed.ExplorationFraction)
	assert.Equal(t, "override:6379", cfg.Redis.Addr, "env wins over file")
}

func TestBuildDSN_Postgres(t *testing.T) {
	cfg := Defaults()
	cfg.DB.Driver = "postgres"
	cfg.DB.Port = "5432"

	assert.Equal(t,
		"host=localhost port=5432 user=root password=root dbname=muzz sslmode=disable TimeZone=UTC",
		BuildDSN(&cfg))
}

func TestNew_FallsBackToDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := New()
	require.NotNil(t, cfg)
	assert.Equal(t, "127.0.0.1", cfg.GRPC.Host)
}
