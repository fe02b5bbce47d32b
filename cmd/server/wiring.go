package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"ticketrouting/internal/authz"
	authzhandler "ticketrouting/internal/authz/handler"
	authzmetrics "ticketrouting/internal/authz/metrics"
	"ticketrouting/internal/authz/store"
	"ticketrouting/internal/channel"
	"ticketrouting/internal/channel/amqp"
	"ticketrouting/internal/consumer"
	"ticketrouting/internal/consumer/analytics"
	consumermetrics "ticketrouting/internal/consumer/metrics"
	"ticketrouting/internal/identity"
	"ticketrouting/internal/platform/config"
	"ticketrouting/internal/platform/metrics"
	"ticketrouting/internal/platform/redis"
	"ticketrouting/internal/routing"
	routingmetrics "ticketrouting/internal/routing/metrics"
	"ticketrouting/internal/ticket"
	tickethandler "ticketrouting/internal/ticket/handler"
	httptransport "ticketrouting/internal/transport/http"
	"ticketrouting/pkg/platform/circuit"
)

const cacheSweepInterval = time.Minute

type deps struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	tracer   trace.Tracer
}

type application struct {
	handler    http.Handler
	consumers  *consumer.Pool
	background []func(ctx context.Context)
	closers    []func() error
	logger     *slog.Logger
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// build assembles the gate, channels, router, ticket service and consumers.
func build(ctx context.Context, cfg config.Config, d deps) (*application, error) {
	app := &application{logger: d.logger}
	health := map[string]httptransport.HealthCheck{}

	cache, err := buildCache(ctx, cfg, d, app, health)
	if err != nil {
		app.close()
		return nil, err
	}
	gate, err := authz.New(
		identity.NewStaticResolver(identity.DefaultDirectory()),
		cache,
		authz.WithLogger(d.logger),
		authz.WithMetrics(authzmetrics.New(d.registry)),
		authz.WithTTL(cfg.Authorizer.CacheTTL),
		authz.WithKeyHasher(authz.NewKeyHasher(cfg.Authorizer.CacheKeySecret)),
	)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("build authorizer: %w", err)
	}

	queues, deadLetters, err := buildQueues(cfg, d.logger)
	if err != nil {
		app.close()
		return nil, err
	}
	for _, q := range queues {
		app.closers = append(app.closers, q.Close)
	}
	for _, q := range deadLetters {
		app.closers = append(app.closers, q.Close)
	}

	channels := make(map[string]routing.Channel, len(queues))
	for name, q := range queues {
		channels[name] = q
	}
	subs, err := routing.DefaultSubscriptions(channels)
	if err != nil {
		app.close()
		return nil, err
	}
	engine, err := routing.NewEngine(subs...)
	if err != nil {
		app.close()
		return nil, err
	}
	for _, sub := range engine.Subscriptions() {
		d.logger.Info("subscription registered", "name", sub.Name, "channel", sub.Channel.Name())
	}

	router, err := routing.NewRouter(engine,
		routing.WithLogger(d.logger),
		routing.WithMetrics(routingmetrics.New(d.registry)),
		routing.WithTracer(d.tracer),
		routing.WithOfferTimeout(cfg.Routing.OfferTimeout),
	)
	if err != nil {
		app.close()
		return nil, err
	}

	svc, err := ticket.NewService(ticket.NewValidator(), router,
		ticket.WithLogger(d.logger),
		ticket.WithTracer(d.tracer),
	)
	if err != nil {
		app.close()
		return nil, err
	}

	pool, err := buildConsumers(ctx, cfg, d, queues, deadLetters, app)
	if err != nil {
		app.close()
		return nil, err
	}
	app.consumers = pool

	app.handler = httptransport.NewRouter(httptransport.Deps{
		Logger:         d.logger,
		Metrics:        metrics.New(d.registry),
		Gatherer:       d.registry,
		Gate:           gate,
		IdentityHeader: cfg.Authorizer.IdentityHeader,
		Public:         []httptransport.Registrar{authzhandler.New(gate, d.logger)},
		Protected:      []httptransport.Registrar{tickethandler.New(svc, d.logger)},
		Health:         health,
	})
	return app, nil
}

func buildCache(ctx context.Context, cfg config.Config, d deps, app *application, health map[string]httptransport.HealthCheck) (authz.DecisionCache, error) {
	if cfg.Authorizer.CacheBackend == config.CacheBackendRedis {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		health["redis"] = client.Health
		d.logger.Info("decision cache backed by redis")
		return store.NewRedisCache(client.Client, store.WithRegisterer(d.registry)), nil
	}
	mem := store.NewInMemoryCache()
	app.background = append(app.background, func(ctx context.Context) {
		mem.RunSweeper(ctx, cacheSweepInterval)
	})
	return mem, nil
}

// buildQueues opens one queue per routing channel. RabbitMQ is used when a
// URL is configured and the broker owns dead-lettering; otherwise channels
// are in-process and the returned dead-letter queues are keyed by channel.
func buildQueues(cfg config.Config, log *slog.Logger) (map[string]channel.Queue, map[string]channel.Queue, error) {
	names := []string{routing.ChannelPriority, routing.ChannelGeneral, routing.ChannelAnalytics}
	queues := make(map[string]channel.Queue, len(names))
	deadLetters := make(map[string]channel.Queue)
	for _, name := range names {
		if cfg.RabbitMQ.URL != "" {
			q, err := amqp.Dial(amqp.Config{
				URL:             cfg.RabbitMQ.URL,
				Name:            cfg.RabbitMQ.QueuePrefix + "." + name,
				Capacity:        cfg.Routing.ChannelCapacity,
				MaxReceiveCount: cfg.Consumer.MaxReceiveCount,
				PublishTimeout:  cfg.RabbitMQ.PublishTimeout,
			}, amqp.WithLogger(log))
			if err != nil {
				for _, opened := range queues {
					_ = opened.Close()
				}
				return nil, nil, fmt.Errorf("open %s queue: %w", name, err)
			}
			queues[name] = q
			continue
		}
		dlq := channel.NewMemory(channel.DeadLetterQueueName(name),
			channel.WithCapacity(cfg.Routing.ChannelCapacity),
			channel.WithLogger(log),
		)
		deadLetters[name] = dlq
		queues[name] = channel.NewMemory(name,
			channel.WithCapacity(cfg.Routing.ChannelCapacity),
			channel.WithVisibilityTimeout(cfg.Consumer.VisibilityTimeout),
			channel.WithMaxReceiveCount(cfg.Consumer.MaxReceiveCount),
			channel.WithDeadLetter(dlq),
			channel.WithLogger(log),
		)
	}
	return queues, deadLetters, nil
}

// buildConsumers starts one worker per queue sharing a single batch consumer
// that dispatches by channel.
func buildConsumers(ctx context.Context, cfg config.Config, d deps, queues, deadLetters map[string]channel.Queue, app *application) (*consumer.Pool, error) {
	exporter, err := buildExporter(ctx, cfg, d, app)
	if err != nil {
		return nil, err
	}
	analyticsHandler, err := consumer.NewAnalyticsHandler(exporter, d.logger)
	if err != nil {
		return nil, err
	}

	dispatcher := consumer.NewDispatcher(d.logger, nil)
	for name, q := range queues {
		switch name {
		case routing.ChannelAnalytics:
			dispatcher.Register(q.Name(), analyticsHandler)
		default:
			dispatcher.Register(q.Name(), consumer.NewNotifyHandler(name, d.logger))
		}
	}

	m := consumermetrics.New(d.registry)
	batch, err := consumer.New(consumer.NewIdempotentHandler(dispatcher),
		consumer.WithLogger(d.logger),
		consumer.WithMetrics(m),
		consumer.WithTracer(d.tracer),
		consumer.WithItemTimeout(cfg.Consumer.ItemTimeout),
		consumer.WithConcurrency(cfg.Consumer.Concurrency),
	)
	if err != nil {
		return nil, err
	}

	workers := make([]*consumer.Worker, 0, len(queues))
	for name, q := range queues {
		opts := []consumer.WorkerOption{
			consumer.WithBatchSize(cfg.Consumer.BatchSize),
			consumer.WithPollInterval(cfg.Consumer.PollInterval),
			consumer.WithWorkerMetrics(m),
			consumer.WithWorkerLogger(d.logger),
		}
		if dlq, ok := deadLetters[name]; ok {
			opts = append(opts, consumer.WithDeadLetterQueue(dlq))
		}
		w, err := consumer.NewWorker(q, batch, opts...)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return consumer.NewPool(workers...), nil
}

func buildExporter(ctx context.Context, cfg config.Config, d deps, app *application) (consumer.Exporter, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		d.logger.Info("no kafka brokers configured, analytics events are logged")
		return consumer.NewLogExporter(d.logger), nil
	}
	exp, err := analytics.NewExporter(analytics.Config{
		Brokers:    cfg.Kafka.Brokers,
		Topic:      cfg.Kafka.AnalyticsTopic,
		ClientID:   cfg.Kafka.ClientID,
		Partitions: cfg.Kafka.Partitions,
	}, analytics.WithLogger(d.logger))
	if err != nil {
		return nil, fmt.Errorf("build kafka exporter: %w", err)
	}
	app.closers = append(app.closers, func() error {
		exp.Close()
		return nil
	})
	if err := exp.EnsureTopic(ctx, cfg.Kafka.Partitions); err != nil {
		return nil, fmt.Errorf("ensure analytics topic: %w", err)
	}
	return consumer.NewGuardedExporter(exp, circuit.New("kafka"), d.logger), nil
}
