package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.True(t, cfg.Messaging.PushOnPersist)
	assert.Equal(t, 30, cfg.Messaging.PreviewLength)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_ADDRESS", ":9090")
	t.Setenv("UPLOADS_ROOT", "/srv/uploads")
	t.Setenv("MESSAGING_PREVIEW_LENGTH", "12")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "/srv/uploads", cfg.Uploads.Root)
	assert.Equal(t, 12, cfg.Messaging.PreviewLength)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("database:\n  driver: postgres\n  url: postgres://localhost/alumnet\nwebsocket:\n  ping_interval: 5s\n  pong_wait: 15s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/alumnet", cfg.DataSource())
	assert.Equal(t, 5*time.Second, cfg.WebSocket.PingInterval)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestDatabasePathHelpers(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "sqlite3", URL: "sqlite:///var/lib/alumnet.db"}}
	assert.Equal(t, "/var/lib/alumnet.db", cfg.CleanDatabasePath())

	cfg.UpdateDatabasePath("/tmp/loadtest.db")
	assert.Equal(t, "sqlite:///tmp/loadtest.db", cfg.Database.URL)
	assert.Equal(t, "/tmp/loadtest.db", cfg.DataSource())

	cfg.Database.URL = "relative.db"
	assert.True(t, filepath.IsAbs(cfg.CleanDatabasePath()))
}
