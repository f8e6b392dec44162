package bus

import (
	"context"
	"errors"
)

// Handler receives one published payload. Handlers for a single subscription
// are called sequentially in publish order.
type Handler func(payload []byte)

// Subscription is an active channel subscription
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe() error
}

// Bus is the publish/subscribe transport shared by every server process.
// Channels are keyed by room id.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler for channel. The subscription is active
	// when Subscribe returns.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)

	Close() error
}

// ErrClosed is returned when subscribing to a closed bus
var ErrClosed = errors.New("bus closed")
