package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/typerace/internal/testutil"
)

type BusSuite struct {
	suite.Suite
	mini *miniredis.Miniredis
	ctx  context.Context

	// Two buses on separate clients stand in for two server processes
	busA *Bus
	busB *Bus
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

func (s *BusSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	s.ctx = context.Background()

	clientA := redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
	s.T().Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	s.busA = New(clientA, testutil.NopLogger())
	s.busB = New(clientB, testutil.NopLogger())
}

func (s *BusSuite) TearDownTest() {
	_ = s.busA.Close()
	_ = s.busB.Close()
}

func (s *BusSuite) receive(ch <-chan string) string {
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for message")
		return ""
	}
}

func (s *BusSuite) TestCrossProcessDelivery() {
	received := make(chan string, 10)
	_, err := s.busB.Subscribe(s.ctx, "ROOM01", func(payload []byte) {
		received <- string(payload)
	})
	s.Require().NoError(err)

	s.Require().NoError(s.busA.Publish(s.ctx, "ROOM01", []byte(`{"event":"game_started"}`)))

	s.Equal(`{"event":"game_started"}`, s.receive(received))
}

func (s *BusSuite) TestPublishDeliversInOrder() {
	received := make(chan string, 100)
	_, err := s.busB.Subscribe(s.ctx, "ROOM01", func(payload []byte) {
		received <- string(payload)
	})
	s.Require().NoError(err)

	for i := 0; i < 20; i++ {
		s.Require().NoError(s.busA.Publish(s.ctx, "ROOM01", []byte(fmt.Sprintf("msg-%d", i))))
	}

	for i := 0; i < 20; i++ {
		s.Equal(fmt.Sprintf("msg-%d", i), s.receive(received))
	}
}

func (s *BusSuite) TestChannelsUseRoomPrefix() {
	_, err := s.busB.Subscribe(s.ctx, "ROOM01", func([]byte) {})
	s.Require().NoError(err)

	s.Contains(s.mini.PubSubChannels("*"), channelKey("ROOM01"))
	s.Equal("typerace:events:ROOM01", channelKey("ROOM01"))
}

func (s *BusSuite) TestUnsubscribeStopsDelivery() {
	received := make(chan string, 10)
	sub, err := s.busB.Subscribe(s.ctx, "ROOM01", func(payload []byte) {
		received <- string(payload)
	})
	s.Require().NoError(err)

	s.Require().NoError(sub.Unsubscribe())
	_ = sub.Unsubscribe()

	s.Require().NoError(s.busA.Publish(s.ctx, "ROOM01", []byte("hello")))
	s.Never(func() bool { return len(received) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
