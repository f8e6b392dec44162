package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/typerace/internal/bus"
)

const queueSize = 1024

// Bus is an in-process implementation of the event bus
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
	logger *slog.Logger
}

// New creates a new in-memory bus
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[*subscription]struct{}),
		logger: logger.With(slog.String("component", "memory_bus")),
	}
}

// Ensure Bus implements the interface
var _ bus.Bus = (*Bus)(nil)

// Publish queues payload for every current subscriber of channel
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[channel]))
	for sub := range b.subs[channel] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- payload:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts a delivery goroutine for handler
func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.Handler) (bus.Subscription, error) {
	sub := &subscription{
		bus:     b,
		channel: channel,
		queue:   make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, bus.ErrClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(handler)

	b.logger.Debug("subscribed", slog.String("channel", channel))
	return sub, nil
}

// Close stops every subscription
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	var all []*subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		_ = sub.Unsubscribe()
	}
	return nil
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[sub.channel]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.channel)
	}
}

type subscription struct {
	bus     *Bus
	channel string
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) run(handler bus.Handler) {
	for {
		select {
		case payload := <-s.queue:
			handler(payload)
		case <-s.done:
			return
		}
	}
}

// Unsubscribe stops the delivery goroutine
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
		s.bus.logger.Debug("unsubscribed", slog.String("channel", s.channel))
	})
	return nil
}
