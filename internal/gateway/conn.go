package gateway

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcoot/typerace/internal/model"
)

// restartMarker identifies a game_restarting frame without a full decode
var restartMarker = []byte(`"event":"` + string(model.EventGameRestarting) + `"`)

// ConnState is the identity a connection is bound to
type ConnState struct {
	PlayerID model.PlayerID
	RoomID   model.RoomID
}

// Connection is one client WebSocket
type Connection struct {
	id      string
	ws      *websocket.Conn
	gateway *Gateway
	logger  *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	state ConnState
}

func newConnection(g *Gateway, ws *websocket.Conn) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:      id,
		ws:      ws,
		gateway: g,
		logger:  g.logger.With(slog.String("conn_id", id)),
		send:    make(chan []byte, g.cfg.SendBufferSize),
		done:    make(chan struct{}),
	}
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// State returns a copy of the bound identity
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TrySend queues a frame for the write pump without blocking
func (c *Connection) TrySend(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	if bytes.Contains(message, restartMarker) {
		c.followRestart(message)
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// followRestart moves the connection to the room named by a game_restarting
// broadcast so later events of the new room reach it
func (c *Connection) followRestart(message []byte) {
	var env model.Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Event != model.EventGameRestarting {
		return
	}
	var payload model.GameResponse
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.GameID == "" {
		return
	}

	from := c.State().RoomID
	if from == "" {
		return
	}
	c.gateway.moveRoom(c, from, model.RoomID(payload.GameID))
}

// reply encodes and queues an event for this connection only
func (c *Connection) reply(event model.EventType, payload any) {
	frame, err := model.EncodeEvent(event, payload)
	if err != nil {
		c.logger.Error("failed to encode reply",
			slog.String("event", string(event)),
			slog.String("error", err.Error()))
		return
	}
	if !c.TrySend(frame) {
		c.gateway.metrics.MessagesDropped.Inc()
		c.logger.Warn("reply dropped", slog.String("event", string(event)))
	}
}

// close signals both pumps to stop. The write pump sends the close frame
// and releases the socket, which in turn unblocks the read pump.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump reads frames until the peer goes away or misses a ping
func (c *Connection) readPump() {
	defer func() {
		c.close()
		c.gateway.remove(c)
	}()

	cfg := c.gateway.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(cfg.readDeadline())); err != nil {
		c.logger.Error("failed to set read deadline", slog.String("error", err.Error()))
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.readDeadline()))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.gateway.rejectInvalid(c)
			continue
		}
		c.gateway.dispatch(c, message)
	}
}

// writePump drains the send queue and pings the peer
func (c *Connection) writePump() {
	cfg := c.gateway.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			deadline := time.Now().Add(time.Second)
			if err := c.ws.SetWriteDeadline(deadline); err == nil {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}
