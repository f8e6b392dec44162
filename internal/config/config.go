package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TYPERACE_REDIS_URL
const EnvPrefix = "TYPERACE"

// Backend names accepted by storage_type and bus_type
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the server configuration
type Config struct {
	Addr                 string        `mapstructure:"addr"`
	StorageType          string        `mapstructure:"storage_type"`
	BusType              string        `mapstructure:"bus_type"`
	RedisURL             string        `mapstructure:"redis_url"`
	MaxRoomSize          int           `mapstructure:"max_room_size"`
	MinRoomSize          int           `mapstructure:"min_room_size"`
	PresenceGraceSeconds int           `mapstructure:"presence_grace_seconds"`
	CountdownSeconds     int           `mapstructure:"countdown_seconds"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	PassagesPath         string        `mapstructure:"passages_path"`
	LogLevel             string        `mapstructure:"log_level"`
	LogFormat            string        `mapstructure:"log_format"`
}

// option pairs a config key with its flag name, default and usage
type option struct {
	key   string
	value any
	usage string
}

var options = []option{
	{"addr", ":8080", "HTTP listen address"},
	{"storage_type", BackendMemory, "presence store backend (memory or redis)"},
	{"bus_type", BackendMemory, "event bus backend (memory or redis)"},
	{"redis_url", "", "Redis URL, required when a backend is redis"},
	{"max_room_size", 5, "maximum players per game"},
	{"min_room_size", 2, "minimum players to start a game"},
	{"presence_grace_seconds", 60, "seconds an offline player is kept before removal"},
	{"countdown_seconds", 10, "countdown length before a race starts"},
	{"ping_interval", 30 * time.Second, "WebSocket ping interval"},
	{"passages_path", "", "file of race passages, one per line"},
	{"log_level", "info", "log level (debug, info, warn, error)"},
	{"log_format", "json", "log format (json or text)"},
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags adds a flag for every option to fs
func RegisterFlags(fs *pflag.FlagSet) {
	for _, opt := range options {
		name := flagName(opt.key)
		switch v := opt.value.(type) {
		case string:
			fs.String(name, v, opt.usage)
		case int:
			fs.Int(name, v, opt.usage)
		case time.Duration:
			fs.Duration(name, v, opt.usage)
		}
	}
}

// Load resolves the configuration from defaults, an optional YAML file,
// TYPERACE_* environment variables and flags, in increasing precedence.
// fs may be nil.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for _, opt := range options {
		v.SetDefault(opt.key, opt.value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	if fs != nil {
		for _, opt := range options {
			// Only flags set on the command line override lower layers
			if f := fs.Lookup(flagName(opt.key)); f != nil && f.Changed {
				if err := v.BindPFlag(opt.key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option values and their combinations
func (c *Config) Validate() error {
	var errs []error
	for name, backend := range map[string]string{"storage_type": c.StorageType, "bus_type": c.BusType} {
		if backend != BackendMemory && backend != BackendRedis {
			errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", name, BackendMemory, BackendRedis, backend))
		}
	}
	if (c.StorageType == BackendRedis || c.BusType == BackendRedis) && c.RedisURL == "" {
		errs = append(errs, errors.New("redis_url is required when a backend is redis"))
	}
	if c.MinRoomSize < 1 {
		errs = append(errs, fmt.Errorf("min_room_size must be at least 1, got %d", c.MinRoomSize))
	}
	if c.MaxRoomSize < c.MinRoomSize {
		errs = append(errs, fmt.Errorf("max_room_size (%d) must not be below min_room_size (%d)", c.MaxRoomSize, c.MinRoomSize))
	}
	if c.PresenceGraceSeconds < 0 {
		errs = append(errs, fmt.Errorf("presence_grace_seconds must not be negative, got %d", c.PresenceGraceSeconds))
	}
	if c.CountdownSeconds < 1 {
		errs = append(errs, fmt.Errorf("countdown_seconds must be at least 1, got %d", c.CountdownSeconds))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("ping_interval must be positive, got %s", c.PingInterval))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// PresenceGrace returns the grace period as a duration
func (c *Config) PresenceGrace() time.Duration {
	return time.Duration(c.PresenceGraceSeconds) * time.Second
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}

// NewLogger builds the process logger described by the config
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
