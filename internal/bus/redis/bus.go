package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/typerace/internal/bus"
)

// Channel prefix for all room event channels
const channelPrefix = "typerace:events"

// Bus is an event bus backed by Redis PUBLISH/SUBSCRIBE
type Bus struct {
	client *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// New creates a bus over an existing, already verified client
func New(client *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{
		client: client,
		logger: logger.With(slog.String("component", "redis_bus")),
		subs:   make(map[*subscription]struct{}),
	}
}

// Ensure Bus implements the interface
var _ bus.Bus = (*Bus)(nil)

func channelKey(channel string) string {
	return fmt.Sprintf("%s:%s", channelPrefix, channel)
}

// Publish sends payload to every subscriber of channel in every process
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channelKey(channel), payload).Err()
}

// Subscribe opens a Redis subscription and waits for its confirmation
func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.Handler) (bus.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channelKey(channel))

	// Wait for the subscribe confirmation so no publish after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &subscription{
		bus:     b,
		channel: channel,
		pubsub:  pubsub,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(handler)

	b.logger.Debug("subscribed", slog.String("channel", channel))
	return sub, nil
}

// Close closes every open subscription. The client is owned by the caller.
func (b *Bus) Close() error {
	b.mu.Lock()
	all := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		all = append(all, sub)
	}
	b.mu.Unlock()

	for _, sub := range all {
		_ = sub.Unsubscribe()
	}
	return nil
}

type subscription struct {
	bus     *Bus
	channel string
	pubsub  *redis.PubSub
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *subscription) run(handler bus.Handler) {
	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handler([]byte(msg.Payload))
		case <-s.done:
			return
		}
	}
}

// Unsubscribe closes the underlying pubsub connection
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()

		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		s.bus.logger.Debug("unsubscribed", slog.String("channel", s.channel))
	})
	return s.err
}
