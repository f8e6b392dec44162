package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.StorageType)
	assert.Equal(t, BackendMemory, cfg.BusType)
	assert.Equal(t, 5, cfg.MaxRoomSize)
	assert.Equal(t, 2, cfg.MinRoomSize)
	assert.Equal(t, 60*time.Second, cfg.PresenceGrace())
	assert.Equal(t, 10, cfg.CountdownSeconds)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typerace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_room_size: 8\ncountdown_seconds: 5\nlog_format: text\n"), 0o600))

	t.Setenv("TYPERACE_COUNTDOWN_SECONDS", "3")
	t.Setenv("TYPERACE_PING_INTERVAL", "45s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-room-size=6"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.MaxRoomSize, "flag beats file")
	assert.Equal(t, 3, cfg.CountdownSeconds, "env beats file")
	assert.Equal(t, 45*time.Second, cfg.PingInterval)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 2, cfg.MinRoomSize, "unset flag keeps default")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	t.Setenv("TYPERACE_STORAGE_TYPE", BackendRedis)
	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis_url is required")

	t.Setenv("TYPERACE_REDIS_URL", "redis://localhost:6379")
	t.Setenv("TYPERACE_MIN_ROOM_SIZE", "4")
	t.Setenv("TYPERACE_MAX_ROOM_SIZE", "3")
	t.Setenv("TYPERACE_BUS_TYPE", "kafka")
	_, err = Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_room_size (3) must not be below min_room_size (4)")
	assert.Contains(t, err.Error(), `bus_type must be "memory" or "redis", got "kafka"`)
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
