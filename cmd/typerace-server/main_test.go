package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/typerace/internal/config"
	"github.com/mcoot/typerace/internal/testutil"
)

func TestFactoryConfigMapsSettings(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.MaxRoomSize = 8
	cfg.MinRoomSize = 3
	cfg.PresenceGraceSeconds = 15
	cfg.CountdownSeconds = 4
	cfg.PingInterval = 5 * time.Second

	fc := factoryConfig(cfg, testutil.NopLogger())
	assert.Equal(t, 8, fc.Room.Room.MaxSize)
	assert.Equal(t, 3, fc.Room.Room.MinSize)
	assert.Equal(t, 4, fc.Room.CountdownSeconds)
	assert.Equal(t, time.Second, fc.Room.CountdownTick)
	assert.Equal(t, 15*time.Second, fc.Identity.PresenceGrace)
	assert.Equal(t, 5*time.Second, fc.Gateway.PingInterval)
	assert.Nil(t, fc.RedisConfig)
}

func TestFactoryConfigRedis(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.StorageType = config.BackendRedis
	cfg.RedisURL = "redis://localhost:6379/2"

	fc := factoryConfig(cfg, testutil.NopLogger())
	require.NotNil(t, fc.RedisConfig)
	assert.Equal(t, "redis://localhost:6379/2", fc.RedisConfig.URL)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Addr = "127.0.0.1:0"
	cfg.LogLevel = "error"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestServeCommandRejectsInvalidFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--min-room-size", "0"})
	assert.Error(t, cmd.Execute())
}
