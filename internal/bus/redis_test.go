package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type RedisSuite struct {
	suite.Suite
	mini *miniredis.Miniredis
	bus  *Redis
	ctx  context.Context
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	s.bus = NewRedisWithClient(client, zap.NewNop().Sugar())
	s.ctx = context.Background()
}

func (s *RedisSuite) TearDownTest() {
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *RedisSuite) TestPublishSubscribe() {
	events, cancel, err := s.bus.Subscribe(s.ctx, CounterChannel)
	s.Require().NoError(err)
	defer cancel()

	s.Require().NoError(s.bus.Publish(s.ctx, CounterChannel, EventUpdated))

	select {
	case event := <-events:
		s.Equal(EventUpdated, event)
	case <-time.After(time.Second):
		s.Fail("timed out waiting for event")
	}
}

func (s *RedisSuite) TestUnsubscribeStopsDelivery() {
	events, cancel, err := s.bus.Subscribe(s.ctx, CounterChannel)
	s.Require().NoError(err)

	cancel()

	s.Require().NoError(s.bus.Publish(s.ctx, CounterChannel, EventUpdated))

	select {
	case event, ok := <-events:
		if ok {
			s.Failf("unexpected event", "received %q on a cancelled subscription", event)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *RedisSuite) TestChannelsAreIndependent() {
	events, cancel, err := s.bus.Subscribe(s.ctx, "other")
	s.Require().NoError(err)
	defer cancel()

	s.Require().NoError(s.bus.Publish(s.ctx, CounterChannel, EventUpdated))

	select {
	case event := <-events:
		s.Failf("unexpected event", "received %q on an unrelated channel", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *RedisSuite) TestPublishWithoutSubscribers() {
	s.NoError(s.bus.Publish(s.ctx, CounterChannel, EventUpdated))
}
