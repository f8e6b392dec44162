package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/typerace/internal/api"
	"github.com/mcoot/typerace/internal/api/handler"
	"github.com/mcoot/typerace/internal/bus"
	busmemory "github.com/mcoot/typerace/internal/bus/memory"
	busredis "github.com/mcoot/typerace/internal/bus/redis"
	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/gateway"
	"github.com/mcoot/typerace/internal/metrics"
	"github.com/mcoot/typerace/internal/relay"
	"github.com/mcoot/typerace/internal/services/identity"
	"github.com/mcoot/typerace/internal/services/passage"
	"github.com/mcoot/typerace/internal/services/room"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/mcoot/typerace/internal/storage/memory"
	redisstorage "github.com/mcoot/typerace/internal/storage/redis"
)

// Backend type constants for storage and bus
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DefaultMetricsNamespace prefixes every exported metric
const DefaultMetricsNamespace = "typerace"

// App contains all wired application components
type App struct {
	// Backends
	Storage storage.Storage
	Bus     bus.Bus

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Metrics  *metrics.Metrics
	Relay    *relay.Relay
	Identity *identity.Service
	Passages *passage.Service
	Rooms    *room.Service
	Gateway  *gateway.Gateway

	// Router serves /ws, /api/v1 and /metrics
	Router http.Handler

	logger      *slog.Logger
	redisClient *redis.Client
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the presence store ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// BusType selects the event bus ("memory" or "redis")
	// If empty, defaults to "memory"
	BusType string
	// RedisConfig holds Redis connection settings (required if either backend is "redis")
	RedisConfig *redisstorage.Config
	// PassagesPath is a file of race passages (optional)
	// If empty, stored passages or the built-in list are used
	PassagesPath string
	// MetricsNamespace defaults to DefaultMetricsNamespace
	MetricsNamespace string

	// Zero values fall back to each package's DefaultConfig
	Room     room.Config
	Identity identity.Config
	Gateway  gateway.Config
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.StorageType == "" {
		c.StorageType = BackendMemory
	}
	if c.BusType == "" {
		c.BusType = BackendMemory
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = DefaultMetricsNamespace
	}

	roomDefaults := room.DefaultConfig()
	if c.Room.Room.MaxSize == 0 {
		c.Room.Room = roomDefaults.Room
	}
	if c.Room.CountdownSeconds == 0 {
		c.Room.CountdownSeconds = roomDefaults.CountdownSeconds
	}
	if c.Room.CountdownTick == 0 {
		c.Room.CountdownTick = roomDefaults.CountdownTick
	}

	identityDefaults := identity.DefaultConfig()
	if c.Identity == (identity.Config{}) {
		c.Identity = identityDefaults
	}
	if c.Identity.ResultLogSize == 0 {
		c.Identity.ResultLogSize = identityDefaults.ResultLogSize
	}

	gatewayDefaults := gateway.DefaultConfig()
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = gatewayDefaults.PingInterval
	}
	if c.Gateway.PongWait == 0 {
		c.Gateway.PongWait = gatewayDefaults.PongWait
	}
	if c.Gateway.WriteWait == 0 {
		c.Gateway.WriteWait = gatewayDefaults.WriteWait
	}
	if c.Gateway.MaxMessageSize == 0 {
		c.Gateway.MaxMessageSize = gatewayDefaults.MaxMessageSize
	}
	if c.Gateway.SendBufferSize == 0 {
		c.Gateway.SendBufferSize = gatewayDefaults.SendBufferSize
	}
	if c.Gateway.CommandTimeout == 0 {
		c.Gateway.CommandTimeout = gatewayDefaults.CommandTimeout
	}
	return c
}

// New creates a new application with all dependencies wired. Redis, when
// selected for either backend, must be reachable.
func New(ctx context.Context, cfg Config) (*App, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger

	for name, backend := range map[string]string{"StorageType": cfg.StorageType, "BusType": cfg.BusType} {
		if backend != BackendMemory && backend != BackendRedis {
			return nil, fmt.Errorf("invalid %s %q: must be 'memory' or 'redis'", name, backend)
		}
	}

	var client *redis.Client
	if cfg.StorageType == BackendRedis || cfg.BusType == BackendRedis {
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when a backend is redis")
		}
		var err error
		client, err = redisstorage.NewClient(*cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	var store storage.Storage
	switch cfg.StorageType {
	case BackendMemory:
		store = memory.New()
	case BackendRedis:
		store = redisstorage.NewWithClient(client, *cfg.RedisConfig)
	}

	var b bus.Bus
	switch cfg.BusType {
	case BackendMemory:
		b = busmemory.New(logger)
	case BackendRedis:
		b = busredis.New(client, logger)
	}

	app := newWithDependencies(store, b, client, clock.New(), random.New(), cfg, logger)

	if err := app.Passages.Load(ctx, cfg.PassagesPath); err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("load passages: %w", err)
	}

	logger.Info("application wired",
		slog.String("storage", cfg.StorageType),
		slog.String("bus", cfg.BusType))
	return app, nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Storage,
	b bus.Bus,
	client *redis.Client,
	clk clock.Clock,
	rnd random.Random,
	cfg Config,
	logger *slog.Logger,
) *App {
	m := metrics.New(cfg.MetricsNamespace)
	r := relay.New(b, m, logger)

	identityService := identity.New(store, clk, rnd, m, logger, cfg.Identity)
	passageService := passage.New(store, rnd)
	roomService := room.New(store, identityService, r, passageService, clk, rnd, m, logger, cfg.Room)
	identityService.SetRoomLeaver(roomService)

	gw := gateway.New(identityService, roomService, r, m, logger, cfg.Gateway)

	app := &App{
		Storage:  store,
		Bus:      b,
		Clock:    clk,
		Random:   rnd,
		Metrics:  m,
		Relay:    r,
		Identity: identityService,
		Passages: passageService,
		Rooms:    roomService,
		Gateway:  gw,

		logger:      logger,
		redisClient: client,
	}

	app.Router = api.NewRouter(api.RouterConfig{
		Logger:       logger,
		Rooms:        roomService,
		Gateway:      gw,
		Metrics:      m.Handler(),
		HealthChecks: app.healthChecks(),
	})
	return app
}

func (a *App) healthChecks() []handler.HealthCheck {
	if a.redisClient == nil {
		return nil
	}
	return []handler.HealthCheck{{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		},
	}}
}

// Close shuts the application down: connections first, then the services
// and finally the backends
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connections: %w", err))
	}
	a.Identity.Close()
	a.Relay.Close()
	if err := a.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	a.logger.Info("application closed")
	return errors.Join(errs...)
}
