package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/typerace/internal/metrics"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/relay"
	"github.com/mcoot/typerace/internal/services/room"
)

// disconnectTimeout bounds the cleanup calls made after a socket closes
const disconnectTimeout = 5 * time.Second

// Identity is the identity service as used by the gateway
type Identity interface {
	Connect(ctx context.Context, connID string, knownID model.PlayerID) (model.PlayerID, *model.RoomID, error)
	Disconnect(ctx context.Context, connID string) error
	Rename(ctx context.Context, playerID model.PlayerID, name string) (*model.Player, error)
}

// Relay registers connections as local sinks of room channels
type Relay interface {
	Register(ctx context.Context, roomID model.RoomID, sink relay.Sink) error
	Unregister(roomID model.RoomID, sink relay.Sink)
}

// Gateway upgrades HTTP requests to WebSockets and dispatches their commands
type Gateway struct {
	cfg      Config
	identity Identity
	rooms    room.ServiceInterface
	relay    Relay
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handlers map[model.EventType]handlerFunc

	// base is cancelled on shutdown and parents every command context
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conns    map[string]*Connection
	closing  bool
	draining sync.WaitGroup
}

// New creates a new Gateway
func New(
	identity Identity,
	rooms room.ServiceInterface,
	r Relay,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Gateway {
	base, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		identity: identity,
		rooms:    rooms,
		relay:    r,
		metrics:  m,
		logger:   logger.With(slog.String("component", "gateway")),
		base:     base,
		cancel:   cancel,
		conns:    make(map[string]*Connection),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	g.handlers = g.routes()
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(g.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP upgrades the request and starts the connection pumps
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	closing := g.closing
	g.mu.Unlock()
	if closing {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		g.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConnection(g, ws)

	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		_ = ws.Close()
		return
	}
	g.conns[c.id] = c
	g.draining.Add(1)
	g.mu.Unlock()

	g.metrics.Connections.Inc()
	c.logger.Info("connection opened", slog.String("remote_addr", r.RemoteAddr))

	go c.writePump()
	go c.readPump()
}

// Bind associates the connection with a player
func (g *Gateway) Bind(c *Connection, playerID model.PlayerID) {
	c.mu.Lock()
	c.state.PlayerID = playerID
	c.mu.Unlock()
	c.logger.Debug("connection bound", slog.String("player_id", string(playerID)))
}

// BindRoom associates the connection with a room and subscribes it to the
// room's broadcasts, leaving any previous room subscription
func (g *Gateway) BindRoom(ctx context.Context, c *Connection, roomID model.RoomID) error {
	if err := g.relay.Register(ctx, roomID, c); err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.state.RoomID
	c.state.RoomID = roomID
	c.mu.Unlock()

	if previous != "" && previous != roomID {
		g.relay.Unregister(previous, c)
	}
	c.logger.Debug("connection joined room", slog.String("room_id", string(roomID)))
	return nil
}

// Unbind drops the connection's room association
func (g *Gateway) Unbind(c *Connection) {
	c.mu.Lock()
	roomID := c.state.RoomID
	c.state.RoomID = ""
	c.mu.Unlock()

	if roomID != "" {
		g.relay.Unregister(roomID, c)
	}
}

// moveRoom rebinds c from one room to another if it is still bound to from.
// It is reached both from the restart handler and from the game_restarting
// broadcast, whichever comes first.
func (g *Gateway) moveRoom(c *Connection, from, to model.RoomID) {
	c.mu.Lock()
	if c.state.RoomID != from {
		c.mu.Unlock()
		return
	}
	c.state.RoomID = to
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(g.base, g.cfg.CommandTimeout)
	defer cancel()
	if err := g.relay.Register(ctx, to, c); err != nil {
		c.logger.Error("failed to follow restarted game",
			slog.String("room_id", string(to)),
			slog.String("error", err.Error()))
	}
	g.relay.Unregister(from, c)

	select {
	case <-c.done:
		// Closed while moving; remove has already run its Unbind
		g.relay.Unregister(to, c)
		return
	default:
	}
	c.logger.Info("connection moved to restarted game",
		slog.String("from_room_id", string(from)),
		slog.String("room_id", string(to)))
}

// remove releases everything a closed connection held
func (g *Gateway) remove(c *Connection) {
	g.mu.Lock()
	if _, ok := g.conns[c.id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, c.id)
	g.mu.Unlock()
	defer g.draining.Done()

	g.Unbind(c)

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if c.State().PlayerID != "" {
		if err := g.identity.Disconnect(ctx, c.id); err != nil {
			c.logger.Error("failed to release player",
				slog.String("player_id", string(c.State().PlayerID)),
				slog.String("error", err.Error()))
		}
	}

	g.metrics.Connections.Dec()
	c.logger.Info("connection closed")
}

// ConnectionCount returns the number of open connections
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every connection and waits for their cleanup
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	g.logger.Info("closing connections", slog.Int("count", len(conns)))
	for _, c := range conns {
		c.close()
	}

	drained := make(chan struct{})
	go func() {
		g.draining.Wait()
		close(drained)
	}()

	defer g.cancel()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
