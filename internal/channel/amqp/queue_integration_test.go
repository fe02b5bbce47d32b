//go:build integration

package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ticketrouting/internal/channel"
	"ticketrouting/pkg/platform/sentinel"
	"ticketrouting/pkg/testutil/containers"
)

type QueueSuite struct {
	suite.Suite
	url   string
	queue *Queue
	ctx   context.Context
}

func TestQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupSuite() {
	s.url = containers.NewRabbitMQContainer(s.T()).URL
	s.ctx = context.Background()
}

func (s *QueueSuite) SetupTest() {
	var err error
	s.queue, err = Dial(Config{
		URL:             s.url,
		Name:            "priority-" + time.Now().Format("150405.000000"),
		Capacity:        2,
		MaxReceiveCount: 3,
	})
	s.Require().NoError(err)
}

func (s *QueueSuite) TearDownTest() {
	s.NoError(s.queue.Close())
}

func (s *QueueSuite) TestOfferReceiveAck() {
	s.Require().NoError(s.queue.Offer(s.ctx, "t-1", []byte(`{"a":1}`)))

	items, err := s.queue.Receive(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("t-1", items[0].ID)
	s.Equal(1, items[0].ReceiveCount)
	s.Require().NoError(s.queue.Ack(s.ctx, items[0].Handle))

	again, err := s.queue.Receive(s.ctx, 10)
	s.NoError(err)
	s.Empty(again)
}

func (s *QueueSuite) TestReleaseRedelivers() {
	s.Require().NoError(s.queue.Offer(s.ctx, "t-2", []byte(`{}`)))
	first, _ := s.queue.Receive(s.ctx, 1)
	s.Require().Len(first, 1)
	s.Require().NoError(s.queue.Release(s.ctx, first[0].Handle))

	s.Eventually(func() bool {
		items, err := s.queue.Receive(s.ctx, 1)
		if err != nil || len(items) == 0 {
			return false
		}
		s.Equal("t-2", items[0].ID)
		s.Equal(2, items[0].ReceiveCount)
		return true
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *QueueSuite) TestOverflowIsRejected() {
	s.Require().NoError(s.queue.Offer(s.ctx, "1", []byte(`{}`)))
	s.Require().NoError(s.queue.Offer(s.ctx, "2", []byte(`{}`)))
	s.ErrorIs(s.queue.Offer(s.ctx, "3", []byte(`{}`)), sentinel.ErrBufferFull)
}

func (s *QueueSuite) TestDeadLettersAfterMaxReceiveCount() {
	s.Require().NoError(s.queue.Offer(s.ctx, "poison", []byte(`{}`)))

	for receipt := 1; receipt <= 3; receipt++ {
		var items []channel.DeliveredItem
		s.Require().Eventually(func() bool {
			var err error
			items, err = s.queue.Receive(s.ctx, 1)
			return err == nil && len(items) == 1
		}, 5*time.Second, 50*time.Millisecond, "receipt %d", receipt)
		s.Require().NoError(s.queue.Release(s.ctx, items[0].Handle))
	}

	dlq := channel.DeadLetterQueueName(s.queue.Name())
	s.Eventually(func() bool {
		q, err := s.queue.sub.QueueDeclarePassive(dlq, true, false, false, false, nil)
		return err == nil && q.Messages == 1
	}, 5*time.Second, 100*time.Millisecond)

	items, err := s.queue.Receive(s.ctx, 1)
	s.NoError(err)
	s.Empty(items, "three receipts exhaust the budget")
}

func (s *QueueSuite) TestOfferHonoursPublishTimeout() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	err := s.queue.Offer(ctx, "late", []byte(`{}`))
	s.ErrorIs(err, context.Canceled)
}
