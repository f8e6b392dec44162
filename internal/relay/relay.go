package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/typerace/internal/bus"
	"github.com/mcoot/typerace/internal/metrics"
	"github.com/mcoot/typerace/internal/model"
)

// Sink is a local recipient of room events, typically a WebSocket connection
type Sink interface {
	// ID identifies the sink in logs
	ID() string

	// TrySend queues message without blocking. Returns false if dropped.
	TrySend(message []byte) bool
}

// roomHub holds the local sinks of one room and its bus subscription
type roomHub struct {
	roomID model.RoomID
	sinks  map[Sink]struct{}
	sub    bus.Subscription
}

// Relay fans room events out across processes. Each process subscribes to a
// room's bus channel while it has at least one local sink for that room.
type Relay struct {
	bus     bus.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	rooms map[model.RoomID]*roomHub
}

// New creates a new Relay
func New(b bus.Bus, m *metrics.Metrics, logger *slog.Logger) *Relay {
	return &Relay{
		bus:     b,
		metrics: m,
		logger:  logger.With(slog.String("component", "relay")),
		rooms:   make(map[model.RoomID]*roomHub),
	}
}

// Register adds sink to the room. The first local sink subscribes the
// process to the room channel.
func (r *Relay) Register(ctx context.Context, roomID model.RoomID, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hub, ok := r.rooms[roomID]; ok {
		hub.sinks[sink] = struct{}{}
		r.logger.Debug("sink registered",
			slog.String("room_id", string(roomID)),
			slog.String("sink", sink.ID()),
			slog.Int("local_sinks", len(hub.sinks)))
		return nil
	}

	sub, err := r.bus.Subscribe(ctx, string(roomID), func(payload []byte) {
		r.deliver(roomID, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	r.rooms[roomID] = &roomHub{
		roomID: roomID,
		sinks:  map[Sink]struct{}{sink: {}},
		sub:    sub,
	}
	r.metrics.RelayRooms.Set(float64(len(r.rooms)))

	r.logger.Info("room subscribed",
		slog.String("room_id", string(roomID)),
		slog.String("sink", sink.ID()))
	return nil
}

// Unregister removes sink from the room. The last local sink leaving
// unsubscribes the process from the room channel.
func (r *Relay) Unregister(roomID model.RoomID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hub, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := hub.sinks[sink]; !ok {
		return
	}
	delete(hub.sinks, sink)
	if len(hub.sinks) > 0 {
		return
	}

	delete(r.rooms, roomID)
	r.metrics.RelayRooms.Set(float64(len(r.rooms)))
	if err := hub.sub.Unsubscribe(); err != nil {
		r.logger.Warn("room unsubscribe failed",
			slog.String("room_id", string(roomID)),
			slog.String("error", err.Error()))
	}
	r.logger.Info("room unsubscribed", slog.String("room_id", string(roomID)))
}

// Broadcast encodes the event once and publishes it on the room channel.
// Local sinks receive it through the bus like every other process.
func (r *Relay) Broadcast(ctx context.Context, roomID model.RoomID, event model.EventType, payload any) error {
	data, err := model.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, string(roomID), data); err != nil {
		return fmt.Errorf("publish %s to room %s: %w", event, roomID, err)
	}
	return nil
}

// LocalSinks returns the number of local sinks registered for a room
func (r *Relay) LocalSinks(roomID model.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if hub, ok := r.rooms[roomID]; ok {
		return len(hub.sinks)
	}
	return 0
}

// RoomCount returns the number of rooms with local sinks
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close drops every subscription
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, hub := range r.rooms {
		_ = hub.sub.Unsubscribe()
		delete(r.rooms, roomID)
	}
	r.metrics.RelayRooms.Set(0)
}

func (r *Relay) deliver(roomID model.RoomID, payload []byte) {
	r.mu.RLock()
	hub, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	sinks := make([]Sink, 0, len(hub.sinks))
	for sink := range hub.sinks {
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	dropped := 0
	for _, sink := range sinks {
		if !sink.TrySend(payload) {
			dropped++
			r.logger.Warn("relay message dropped - sink buffer full",
				slog.String("room_id", string(roomID)),
				slog.String("sink", sink.ID()))
		}
	}
	if dropped > 0 {
		r.metrics.MessagesDropped.Add(float64(dropped))
	}
}
