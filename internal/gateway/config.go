package gateway

import "time"

// Config holds WebSocket transport settings
type Config struct {
	// PingInterval is the time between liveness pings
	PingInterval time.Duration

	// PongWait is the slack allowed on top of PingInterval for the pong to arrive
	PongWait time.Duration

	// WriteWait is the time allowed to write a frame to the peer
	WriteWait time.Duration

	// MaxMessageSize caps the size of an inbound frame
	MaxMessageSize int64

	// SendBufferSize is the per-connection outbound queue length
	SendBufferSize int

	// CommandTimeout bounds the store and bus calls of one command
	CommandTimeout time.Duration

	// AllowedOrigins restricts the Origin header; empty allows any origin
	AllowedOrigins []string
}

// DefaultConfig returns the default transport settings
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongWait:       10 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		CommandTimeout: 10 * time.Second,
	}
}

// readDeadline is how long a connection may stay silent before it is dead
func (c Config) readDeadline() time.Duration {
	return c.PingInterval + c.PongWait
}
