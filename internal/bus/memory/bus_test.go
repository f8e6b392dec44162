package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/typerace/internal/bus"
	"github.com/mcoot/typerace/internal/testutil"
)

type BusSuite struct {
	suite.Suite
	bus *Bus
	ctx context.Context
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

func (s *BusSuite) SetupTest() {
	s.bus = New(testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *BusSuite) TearDownTest() {
	_ = s.bus.Close()
}

func collect(received chan<- string) bus.Handler {
	return func(payload []byte) {
		received <- string(payload)
	}
}

func (s *BusSuite) TestPublishDeliversInOrder() {
	received := make(chan string, 100)
	_, err := s.bus.Subscribe(s.ctx, "ROOM01", collect(received))
	s.Require().NoError(err)

	for i := 0; i < 50; i++ {
		s.Require().NoError(s.bus.Publish(s.ctx, "ROOM01", []byte(fmt.Sprintf("msg-%d", i))))
	}

	for i := 0; i < 50; i++ {
		select {
		case msg := <-received:
			s.Equal(fmt.Sprintf("msg-%d", i), msg)
		case <-time.After(time.Second):
			s.FailNow("timed out waiting for message")
		}
	}
}

func (s *BusSuite) TestChannelsAreIsolated() {
	room1 := make(chan string, 10)
	room2 := make(chan string, 10)
	_, err := s.bus.Subscribe(s.ctx, "ROOM01", collect(room1))
	s.Require().NoError(err)
	_, err = s.bus.Subscribe(s.ctx, "ROOM02", collect(room2))
	s.Require().NoError(err)

	s.Require().NoError(s.bus.Publish(s.ctx, "ROOM01", []byte("hello")))

	s.Equal("hello", <-room1)
	s.Never(func() bool { return len(room2) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func (s *BusSuite) TestEverySubscriberReceives() {
	a := make(chan string, 10)
	b := make(chan string, 10)
	_, err := s.bus.Subscribe(s.ctx, "ROOM01", collect(a))
	s.Require().NoError(err)
	_, err = s.bus.Subscribe(s.ctx, "ROOM01", collect(b))
	s.Require().NoError(err)

	s.Require().NoError(s.bus.Publish(s.ctx, "ROOM01", []byte("hello")))

	s.Equal("hello", <-a)
	s.Equal("hello", <-b)
}

func (s *BusSuite) TestUnsubscribeStopsDelivery() {
	received := make(chan string, 10)
	sub, err := s.bus.Subscribe(s.ctx, "ROOM01", collect(received))
	s.Require().NoError(err)

	s.Require().NoError(sub.Unsubscribe())
	s.Require().NoError(sub.Unsubscribe())

	s.Require().NoError(s.bus.Publish(s.ctx, "ROOM01", []byte("hello")))
	s.Never(func() bool { return len(received) > 0 }, 50*time.Millisecond, 10*time.Millisecond)

	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	s.Empty(s.bus.subs)
}

func (s *BusSuite) TestPublishWithoutSubscribers() {
	s.NoError(s.bus.Publish(s.ctx, "ROOM01", []byte("nobody listening")))
}

func (s *BusSuite) TestSubscribeAfterClose() {
	s.Require().NoError(s.bus.Close())
	_, err := s.bus.Subscribe(s.ctx, "ROOM01", func([]byte) {})
	s.ErrorIs(err, bus.ErrClosed)
}
