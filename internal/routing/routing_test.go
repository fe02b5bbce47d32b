package routing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ticketrouting/internal/identity"
	"ticketrouting/internal/routing/metrics"
	"ticketrouting/pkg/platform/sentinel"
)

type stubChannel struct {
	name string
	err  error

	mu     sync.Mutex
	bodies map[string][]byte
}

func newStub(name string) *stubChannel {
	return &stubChannel{name: name, bodies: make(map[string][]byte)}
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Offer(_ context.Context, id string, body []byte) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies[id] = body
	return nil
}

func (c *stubChannel) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

// stallingChannel never accepts: it blocks until ctx is done, or until
// release is closed when it ignores ctx.
type stallingChannel struct {
	name      string
	ignoreCtx bool
	release   chan struct{}
}

func (c *stallingChannel) Name() string { return c.name }

func (c *stallingChannel) Offer(ctx context.Context, _ string, _ []byte) error {
	if c.ignoreCtx {
		<-c.release
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func names(subs []Subscription) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Name)
	}
	return out
}

func TestPredicates(t *testing.T) {
	gold := Attributes{"customer_tier": "gold"}
	silver := Attributes{"customer_tier": "silver"}
	absent := Attributes{"user_id": "1"}

	allow := Allowlist("customer_tier", "gold")
	assert.True(t, allow.Match(gold))
	assert.False(t, allow.Match(silver))
	assert.False(t, allow.Match(absent))
	assert.False(t, allow.Match(nil))

	deny := Denylist("customer_tier", "gold")
	assert.False(t, deny.Match(gold))
	assert.True(t, deny.Match(silver))
	assert.True(t, deny.Match(absent))
	assert.True(t, deny.Match(nil))

	assert.True(t, Unconditional().Match(nil))

	emptyValue := Attributes{"customer_tier": ""}
	assert.False(t, Allowlist("customer_tier", "gold").Match(emptyValue))
	assert.False(t, Allowlist("customer_tier", "").Match(absent), "absent is not the empty value")
}

type RouterSuite struct {
	suite.Suite
	priority  *stubChannel
	general   *stubChannel
	analytics *stubChannel
	engine    *Engine
	metrics   *metrics.Metrics
	router    *Router
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.priority = newStub(ChannelPriority)
	s.general = newStub(ChannelGeneral)
	s.analytics = newStub(ChannelAnalytics)
	subs, err := DefaultSubscriptions(map[string]Channel{
		ChannelPriority:  s.priority,
		ChannelGeneral:   s.general,
		ChannelAnalytics: s.analytics,
	})
	s.Require().NoError(err)
	s.engine, err = NewEngine(subs...)
	s.Require().NoError(err)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.router, err = NewRouter(s.engine, WithMetrics(s.metrics))
	s.Require().NoError(err)
}

func event() TicketEvent {
	return TicketEvent{Body: Body{Type: "finance", Message: "refund please"}}
}

func (s *RouterSuite) TestMatchSetsByTier() {
	s.Equal([]string{ChannelPriority, ChannelAnalytics}, names(s.engine.Match(Attributes{"customer_tier": "gold"})))
	s.Equal([]string{ChannelGeneral, ChannelAnalytics}, names(s.engine.Match(Attributes{"customer_tier": "silver"})))
	s.Equal([]string{ChannelGeneral, ChannelAnalytics}, names(s.engine.Match(Attributes{})))
}

func (s *RouterSuite) TestSubscriptionsAreACopy() {
	subs := s.engine.Subscriptions()
	s.Require().Len(subs, 3)
	s.Equal(ChannelPriority, subs[0].Name)
	s.Equal(ChannelGeneral, subs[1].Name)
	s.Equal(ChannelAnalytics, subs[2].Name)

	subs[0].Name = "renamed"
	s.Equal(ChannelPriority, s.engine.Subscriptions()[0].Name)
}

func (s *RouterSuite) TestPublishGoldReachesPriorityAndAnalytics() {
	gold := identity.Principal{ID: 1234, Email: "fakeuser234@example.com", Tier: identity.TierGold}

	res := s.router.Publish(context.Background(), event(), gold)

	s.NoError(res.Err())
	s.NotEmpty(res.EventID)
	s.ElementsMatch([]string{ChannelPriority, ChannelAnalytics}, res.Delivered)
	s.Equal(1, s.priority.received())
	s.Equal(0, s.general.received())
	s.Equal(1, s.analytics.received())

	decoded, err := Decode(s.priority.bodies[res.EventID])
	s.Require().NoError(err)
	s.Equal("gold", decoded.Tier())
	s.Equal("1234", decoded.Attributes["user_id"])
	s.Equal(Auth{UserID: "1234", Email: "fakeuser234@example.com", Tier: "gold"}, decoded.Auth)
}

func (s *RouterSuite) TestPublishSilverReachesGeneralAndAnalytics() {
	silver := identity.Principal{ID: 3222, Email: "fakeuser123@example.com", Tier: identity.TierSilver}

	res := s.router.Publish(context.Background(), event(), silver)

	s.ElementsMatch([]string{ChannelGeneral, ChannelAnalytics}, res.Delivered)
	s.Equal(0, s.priority.received())
	s.Equal(1, s.general.received())
	s.Equal(1, s.analytics.received())
}

func (s *RouterSuite) TestPublishDoesNotMutateCallerEvent() {
	in := event()
	in.Attributes = Attributes{"source": "web"}

	s.router.Publish(context.Background(), in, identity.Principal{ID: 1, Tier: identity.TierGold})

	s.Equal(Attributes{"source": "web"}, in.Attributes)
	s.Empty(in.ID)
}

func (s *RouterSuite) TestPartialFailureIsReported() {
	s.analytics.err = sentinel.ErrBufferFull

	res := s.router.Publish(context.Background(), event(), identity.Principal{ID: 1, Tier: identity.TierGold})

	s.Equal([]string{ChannelPriority}, res.Delivered)
	s.Require().Contains(res.Failed, ChannelAnalytics)
	s.ErrorIs(res.Err(), sentinel.ErrBufferFull)
	s.ErrorContains(res.Err(), "channel analytics")
	s.False(res.AllFailed())
	s.Equal(1, s.priority.received())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues(ChannelAnalytics, metrics.OutcomeRejected)))
}

func (s *RouterSuite) TestAllFailed() {
	s.general.err = errors.New("broker unreachable")
	s.analytics.err = sentinel.ErrBufferFull

	res := s.router.Publish(context.Background(), event(), identity.Principal{ID: 1, Tier: identity.TierSilver})

	s.True(res.AllFailed())
	s.Len(res.Failed, 2)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues(ChannelGeneral, metrics.OutcomeFailed)))
}

func (s *RouterSuite) TestEveryEventReachesExactlyOneTierChannel() {
	tiers := []identity.Tier{identity.TierGold, identity.TierSilver, ""}
	for i := 0; i < 30; i++ {
		tier := tiers[i%len(tiers)]
		s.router.Publish(context.Background(), event(), identity.Principal{ID: int64(i + 1), Tier: tier})
	}
	s.Equal(30, s.analytics.received())
	s.Equal(30, s.priority.received()+s.general.received())
	s.Equal(10, s.priority.received())
}

func TestPublishIsBoundedByStalledChannels(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	tests := []struct {
		name      string
		ignoreCtx bool
	}{
		{name: "channel honours ctx", ignoreCtx: false},
		{name: "channel ignores ctx", ignoreCtx: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analytics := newStub(ChannelAnalytics)
			subs, err := DefaultSubscriptions(map[string]Channel{
				ChannelPriority:  &stallingChannel{name: ChannelPriority, ignoreCtx: tt.ignoreCtx, release: release},
				ChannelGeneral:   &stallingChannel{name: ChannelGeneral, ignoreCtx: tt.ignoreCtx, release: release},
				ChannelAnalytics: analytics,
			})
			require.NoError(t, err)
			engine, err := NewEngine(subs...)
			require.NoError(t, err)
			m := metrics.New(prometheus.NewRegistry())
			router, err := NewRouter(engine, WithMetrics(m), WithOfferTimeout(50*time.Millisecond))
			require.NoError(t, err)

			done := make(chan PublishResult, 1)
			go func() {
				done <- router.Publish(context.Background(), event(), identity.Principal{ID: 1234, Tier: identity.TierGold})
			}()

			var res PublishResult
			select {
			case res = <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Publish did not return within the offer bound")
			}

			assert.Equal(t, []string{ChannelAnalytics}, res.Delivered)
			assert.Equal(t, 1, analytics.received())
			require.Contains(t, res.Failed, ChannelPriority)
			assert.ErrorIs(t, res.Failed[ChannelPriority], context.DeadlineExceeded)
			assert.False(t, res.AllFailed())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(ChannelPriority, metrics.OutcomeTimeout)))
		})
	}
}

func TestDefaultSubscriptionsRequiresAllChannels(t *testing.T) {
	_, err := DefaultSubscriptions(map[string]Channel{ChannelPriority: newStub(ChannelPriority)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general")
}

func TestNewEngineRejectsInvalidSubscriptions(t *testing.T) {
	_, err := NewEngine(Subscription{Name: "a"})
	assert.ErrorContains(t, err, "no predicate")

	_, err = NewEngine(
		Subscription{Name: "a", Predicate: Unconditional()},
		Subscription{Name: "a", Predicate: Unconditional()},
	)
	assert.ErrorContains(t, err, "duplicate")
}

func TestDecode(t *testing.T) {
	_, err := Decode([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Decode([]byte(`{"id":"x","body":{}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	raw, err := Encode(TicketEvent{ID: "x", Body: Body{Type: "general", Message: "hi"}})
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "x", got.ID)
}

func TestPublishResultErrIsSorted(t *testing.T) {
	res := PublishResult{Failed: map[string]error{"b": errors.New("2"), "a": errors.New("1")}}
	msgs := []string{}
	for _, e := range res.Err().(interface{ Unwrap() []error }).Unwrap() {
		msgs = append(msgs, e.Error())
	}
	assert.True(t, sort.StringsAreSorted(msgs))
}
