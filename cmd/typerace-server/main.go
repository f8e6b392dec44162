package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/typerace/internal/api"
	"github.com/mcoot/typerace/internal/config"
	"github.com/mcoot/typerace/internal/factory"
	"github.com/mcoot/typerace/internal/gateway"
	"github.com/mcoot/typerace/internal/services/identity"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/room"
	redisstorage "github.com/mcoot/typerace/internal/storage/redis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "typerace-server",
		Short:        "Multiplayer typing race server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the game server: the WebSocket gateway on /ws, the HTTP API on
/api/v1 and Prometheus metrics on /metrics.

Settings come from flags, TYPERACE_* environment variables, an optional
YAML config file and built-in defaults, in that order of precedence.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	config.RegisterFlags(cmd.Flags())

	return cmd
}

// serve runs until ctx is cancelled or the listener fails
func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	app, err := factory.New(ctx, factoryConfig(cfg, logger))
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		return err
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Addr = cfg.Addr
	server := api.NewServer(app.Router, serverConfig, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started", slog.String("addr", server.Addr()))

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", slog.String("error", serveErr.Error()))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting upgrades before the sockets are closed
	if err := server.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("close application: %w", err))
	}

	logger.Info("server stopped")
	return serveErr
}

// factoryConfig maps loaded settings onto the application factory
func factoryConfig(cfg *config.Config, logger *slog.Logger) factory.Config {
	gw := gateway.DefaultConfig()
	gw.PingInterval = cfg.PingInterval

	rooms := room.DefaultConfig()
	rooms.Room = model.RoomConfig{MaxSize: cfg.MaxRoomSize, MinSize: cfg.MinRoomSize}
	rooms.CountdownSeconds = cfg.CountdownSeconds

	presence := identity.DefaultConfig()
	presence.PresenceGrace = cfg.PresenceGrace()

	fc := factory.Config{
		Logger:       logger,
		StorageType:  cfg.StorageType,
		BusType:      cfg.BusType,
		PassagesPath: cfg.PassagesPath,
		Room:         rooms,
		Identity:     presence,
		Gateway:      gw,
	}
	if cfg.RedisURL != "" {
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		fc.RedisConfig = &redisCfg
	}
	return fc
}
