package broker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/taskdispatch/pkg/api"
)

// brokerSuite exercises the behaviour every backend must share. Each test
// uses its own queue so one backend instance serves the whole suite.
type brokerSuite struct {
	suite.Suite

	b      Broker
	ctx    context.Context
	cancel context.CancelFunc
	queue  string
}

func runBrokerSuite(t *testing.T, b Broker) {
	t.Helper()
	suite.Run(t, &brokerSuite{b: b})
}

func (s *brokerSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)
	s.queue = "q-" + uuid.NewString()
}

func (s *brokerSuite) TearDownTest() {
	s.cancel()
}

func (s *brokerSuite) publish(body string, headers map[string]string) {
	s.Require().NoError(s.b.Publish(s.ctx, s.queue, NewMessage([]byte(body), headers)))
}

func (s *brokerSuite) receive() *Delivery {
	d, err := s.b.Receive(s.ctx, s.queue)
	s.Require().NoError(err)
	return d
}

func (s *brokerSuite) TestFIFOWithHeaders() {
	for _, body := range []string{"a", "b", "c"} {
		s.publish(body, map[string]string{"dispatcherType": "Order", "n": body})
	}

	for _, want := range []string{"a", "b", "c"} {
		d := s.receive()
		s.Equal(want, string(d.Body))
		s.Equal("Order", d.Header("dispatcherType"))
		s.Equal(want, d.Header("n"))
		s.Equal(1, d.Attempts)
		s.Require().NoError(s.b.Ack(s.ctx, d))
	}

	n, err := s.b.Len(s.ctx, s.queue)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *brokerSuite) TestNackRedeliversWithAttemptCount() {
	s.publish("x", nil)

	d1 := s.receive()
	s.Require().NoError(s.b.Nack(s.ctx, d1, 0))

	d2 := s.receive()
	s.Equal(d1.ID, d2.ID)
	s.Equal(2, d2.Attempts)
	s.Require().NoError(s.b.Ack(s.ctx, d2))
}

func (s *brokerSuite) TestScheduledDelayHeader() {
	start := time.Now()
	s.publish("later", map[string]string{api.HeaderScheduledDelay: "300"})

	early, cancelEarly := context.WithTimeout(s.ctx, 50*time.Millisecond)
	_, err := s.b.Receive(early, s.queue)
	cancelEarly()
	s.Require().ErrorIs(err, context.DeadlineExceeded)

	d := s.receive()
	s.GreaterOrEqual(time.Since(start), 250*time.Millisecond)
	s.Equal("later", string(d.Body))
	s.Require().NoError(s.b.Ack(s.ctx, d))
}

func (s *brokerSuite) TestLeasedMessagesAreNotCounted() {
	s.publish("1", nil)
	s.publish("2", nil)

	d := s.receive()

	n, err := s.b.Len(s.ctx, s.queue)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().NoError(s.b.Ack(s.ctx, d))
}

func (s *brokerSuite) TestDoubleAckLosesLease() {
	s.publish("once", nil)
	d := s.receive()
	s.Require().NoError(s.b.Ack(s.ctx, d))

	s.ErrorIs(s.b.Ack(s.ctx, d), ErrLeaseLost)
}

func (s *brokerSuite) TestReceiveHonoursCancellation() {
	ctx, cancel := context.WithCancel(s.ctx)
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := s.b.Receive(ctx, s.queue)
	s.ErrorIs(err, context.Canceled)
}
