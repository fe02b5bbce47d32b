package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketrouting/internal/authz"
	authzhandler "ticketrouting/internal/authz/handler"
	"ticketrouting/internal/authz/store"
	"ticketrouting/internal/channel"
	"ticketrouting/internal/identity"
	"ticketrouting/internal/platform/logger"
	"ticketrouting/internal/platform/metrics"
	"ticketrouting/internal/routing"
	"ticketrouting/internal/ticket"
	tickethandler "ticketrouting/internal/ticket/handler"
	"ticketrouting/pkg/testutil"
)

type fixture struct {
	handler   http.Handler
	priority  *channel.Memory
	general   *channel.Memory
	analytics *channel.Memory
}

func newFixture(t *testing.T, health map[string]HealthCheck) fixture {
	t.Helper()
	log := logger.Discard()
	reg := prometheus.NewRegistry()

	gate, err := authz.New(identity.NewStaticResolver(identity.DefaultDirectory()), store.NewInMemoryCache())
	require.NoError(t, err)

	f := fixture{
		priority:  channel.NewMemory(routing.ChannelPriority),
		general:   channel.NewMemory(routing.ChannelGeneral),
		analytics: channel.NewMemory(routing.ChannelAnalytics),
	}
	subs, err := routing.DefaultSubscriptions(map[string]routing.Channel{
		routing.ChannelPriority:  f.priority,
		routing.ChannelGeneral:   f.general,
		routing.ChannelAnalytics: f.analytics,
	})
	require.NoError(t, err)
	engine, err := routing.NewEngine(subs...)
	require.NoError(t, err)
	router, err := routing.NewRouter(engine)
	require.NoError(t, err)
	svc, err := ticket.NewService(ticket.NewValidator(), router)
	require.NoError(t, err)

	f.handler = NewRouter(Deps{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Gate:           gate,
		IdentityHeader: "Token",
		Public:         []Registrar{authzhandler.New(gate, log)},
		Protected:      []Registrar{tickethandler.New(svc, log)},
		Health:         health,
	})
	return f
}

func send(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := testutil.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Token", token)
	}
	return testutil.DoRequest(h, req)
}

func TestTicketFlowRoutesByTier(t *testing.T) {
	f := newFixture(t, nil)

	gold := send(f.handler, http.MethodPost, "/tickets", "Avb3TU8O2ts1", `{"type":"finance","message":"refund"}`)
	require.Equal(t, http.StatusOK, gold.Code)
	assert.NotEmpty(t, gold.Header().Get("X-Request-ID"))

	silver := send(f.handler, http.MethodPost, "/tickets", "QAB3RUYA4gsd", `{"type":"general","message":"hello"}`)
	require.Equal(t, http.StatusOK, silver.Code)

	assert.Equal(t, 1, f.priority.Len())
	assert.Equal(t, 1, f.general.Len())
	assert.Equal(t, 2, f.analytics.Len())

	items, err := f.priority.Receive(context.Background(), 10)
	require.NoError(t, err)
	event, err := routing.Decode(items[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "gold", event.Tier())
	assert.NotEmpty(t, event.RequestID)
	assert.NotZero(t, event.RequestTimeEpoch)
}

func TestProtectedRoutesRequireCredential(t *testing.T) {
	f := newFixture(t, nil)

	testutil.AssertStatusAndError(t, send(f.handler, http.MethodPost, "/tickets", "", `{}`), http.StatusForbidden, "forbidden")
	assert.Equal(t, http.StatusForbidden, send(f.handler, http.MethodGet, "/tickets", "bad-token", "").Code)
	assert.Equal(t, http.StatusOK, send(f.handler, http.MethodGet, "/tickets", "QAB3RUYA4gsd", "").Code)
	assert.Equal(t, 0, f.analytics.Len())
}

func TestInvalidTicketIsNotPublished(t *testing.T) {
	f := newFixture(t, nil)

	rec := send(f.handler, http.MethodPost, "/tickets", "QAB3RUYA4gsd", `{"type":"legal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.analytics.Len())
}

func TestAuthorizeIsPublic(t *testing.T) {
	f := newFixture(t, nil)
	rec := send(f.handler, http.MethodPost, "/authorize", "", `{"credential":"bad-token","resource":"arn:x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"principalId":"user","effect":"Deny","resource":"arn:x"}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	rec := send(f.handler, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"redis":"ok"}}`, rec.Body.String())

	send(f.handler, http.MethodGet, "/tickets", "QAB3RUYA4gsd", "")
	metricsRec := send(f.handler, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "ticket_routing_http_requests_total")

	degraded := newFixture(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = send(degraded.handler, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refused")
}
