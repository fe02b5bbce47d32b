package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ticketrouting/internal/channel"
	"ticketrouting/internal/consumer"
	"ticketrouting/internal/consumer/metrics"
	"ticketrouting/internal/consumer/mocks"
)

type BatchConsumerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	handler *mocks.MockItemHandler
	metrics *metrics.Metrics
	ctx     context.Context
}

func TestBatchConsumerSuite(t *testing.T) {
	suite.Run(t, new(BatchConsumerSuite))
}

func (s *BatchConsumerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.handler = mocks.NewMockItemHandler(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ctx = context.Background()
}

func (s *BatchConsumerSuite) newConsumer(opts ...consumer.Option) *consumer.BatchConsumer {
	c, err := consumer.New(s.handler, append([]consumer.Option{consumer.WithMetrics(s.metrics)}, opts...)...)
	s.Require().NoError(err)
	return c
}

func batchOf(ids ...string) []channel.DeliveredItem {
	out := make([]channel.DeliveredItem, len(ids))
	for i, id := range ids {
		out[i] = channel.DeliveredItem{ID: id, Channel: "general", Handle: "h-" + id, ReceiveCount: 1}
	}
	return out
}

func itemWithID(id string) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		item, ok := x.(channel.DeliveredItem)
		return ok && item.ID == id
	})
}

func (s *BatchConsumerSuite) TestNewRequiresHandler() {
	_, err := consumer.New(nil)
	s.ErrorContains(err, "item handler is required")
}

func (s *BatchConsumerSuite) TestMiddleItemFailureIsIsolated() {
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("item1")).Return(nil)
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("item2")).Return(errors.New("downstream rejected"))
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("item3")).Return(nil)

	res := s.newConsumer().Process(s.ctx, batchOf("item1", "item2", "item3"))

	s.Equal([]string{"item2"}, res.FailedIDs())
	s.Equal([]string{"item1", "item3"}, res.SucceededIDs())
	s.Equal(consumer.BatchResponse{FailedIDs: []string{"item2"}}, res.Response())
	s.Equal(2.0, testutil.ToFloat64(s.metrics.Items.WithLabelValues("general", metrics.OutcomeSucceeded)))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Items.WithLabelValues("general", metrics.OutcomeFailed)))
}

func (s *BatchConsumerSuite) TestSequentialModeIsolatesToo() {
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("a")).Return(errors.New("boom"))
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("b")).Return(nil)

	res := s.newConsumer(consumer.WithConcurrency(1)).Process(s.ctx, batchOf("a", "b"))

	s.Equal([]string{"a"}, res.FailedIDs())
	s.Equal([]string{"b"}, res.SucceededIDs())
}

func (s *BatchConsumerSuite) TestPanicIsAnItemFailure() {
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("ok")).Return(nil)
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("bad")).DoAndReturn(
		func(context.Context, channel.DeliveredItem) error { panic("nil pointer") },
	)

	res := s.newConsumer().Process(s.ctx, batchOf("ok", "bad"))

	s.Equal([]string{"bad"}, res.FailedIDs())
	s.Equal([]string{"ok"}, res.SucceededIDs())
}

func (s *BatchConsumerSuite) TestStalledHandlerTimesOut() {
	release := make(chan struct{})
	defer close(release)

	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("stuck")).DoAndReturn(
		func(context.Context, channel.DeliveredItem) error {
			<-release // ignores ctx on purpose
			return nil
		},
	)
	s.handler.EXPECT().Handle(gomock.Any(), itemWithID("fast")).Return(nil)

	start := time.Now()
	res := s.newConsumer(consumer.WithItemTimeout(50*time.Millisecond)).Process(s.ctx, batchOf("stuck", "fast"))

	s.Less(time.Since(start), 2*time.Second)
	s.Equal([]string{"stuck"}, res.FailedIDs())
	s.Equal([]string{"fast"}, res.SucceededIDs())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Items.WithLabelValues("general", metrics.OutcomeTimeout)))
}

func (s *BatchConsumerSuite) TestContextAwareTimeout() {
	s.handler.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ channel.DeliveredItem) error {
			<-ctx.Done()
			return ctx.Err()
		},
	)

	res := s.newConsumer(consumer.WithItemTimeout(20*time.Millisecond)).Process(s.ctx, batchOf("slow"))
	s.True(res.IsFailed("slow"))
}

func (s *BatchConsumerSuite) TestCancelledContextFailsUnattemptedItems() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	res := s.newConsumer().Process(ctx, batchOf("x", "y"))

	s.Equal([]string{"x", "y"}, res.FailedIDs())
	s.Empty(res.Succeeded)
}

func (s *BatchConsumerSuite) TestEmptyBatch() {
	res := s.newConsumer().Process(s.ctx, nil)
	s.Empty(res.Failed)
	s.Empty(res.Succeeded)
	s.Equal([]string{}, res.Response().FailedIDs)
}

func (s *BatchConsumerSuite) TestDuplicateIDFailureWins() {
	s.handler.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, item channel.DeliveredItem) error {
			if item.Handle == "second" {
				return errors.New("fail")
			}
			return nil
		},
	).Times(2)

	batch := []channel.DeliveredItem{
		{ID: "dup", Channel: "general", Handle: "first"},
		{ID: "dup", Channel: "general", Handle: "second"},
	}
	res := s.newConsumer().Process(s.ctx, batch)

	s.True(res.IsFailed("dup"))
	s.Empty(res.Succeeded)
}

func (s *BatchConsumerSuite) TestResultsAreDisjointAndCover() {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%02d", i)
	}
	s.handler.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, item channel.DeliveredItem) error {
			if item.ID[len(item.ID)-1]%3 == 0 {
				return errors.New("fail")
			}
			return nil
		},
	).Times(10)

	res := s.newConsumer(consumer.WithConcurrency(3)).Process(s.ctx, batchOf(ids...))

	s.Len(res.Succeeded, 10-len(res.Failed))
	for id := range res.Failed {
		s.NotContains(res.Succeeded, id)
	}
	s.ElementsMatch(ids, append(res.SucceededIDs(), res.FailedIDs()...))
}

func (s *BatchConsumerSuite) TestConcurrencyIsBounded() {
	var inFlight, peak atomic.Int32
	s.handler.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, channel.DeliveredItem) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	).Times(10)

	s.newConsumer(consumer.WithConcurrency(2)).Process(s.ctx,
		batchOf("1", "2", "3", "4", "5", "6", "7", "8", "9", "10"))

	s.LessOrEqual(peak.Load(), int32(2))
}

func (s *BatchConsumerSuite) TestProcessRecords() {
	s.handler.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, item channel.DeliveredItem) error {
			s.Equal("priority", item.Channel)
			if item.ID == "r2" {
				return errors.New("fail")
			}
			return nil
		},
	).Times(3)

	records := []consumer.Record{
		{ID: "r1", Body: json.RawMessage(`{}`)},
		{ID: "r2", Body: json.RawMessage(`{}`)},
		{ID: "r3", Body: json.RawMessage(`{}`)},
	}
	resp := s.newConsumer().ProcessRecords(s.ctx, "priority", records)

	raw, err := json.Marshal(resp)
	s.Require().NoError(err)
	s.JSONEq(`{"failedIds":["r2"]}`, string(raw))
}
