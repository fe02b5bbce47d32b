// Package analytics exports ticket events to a Kafka topic.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"ticketrouting/internal/identity"
	"ticketrouting/internal/platform/logger"
	"ticketrouting/internal/routing"
)

// Config selects the brokers and topic events are produced to.
type Config struct {
	Brokers    []string
	Topic      string
	ClientID   string
	Partitions int32
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka analytics topic is required")
	}
	return nil
}

// Producer is the subset of *kgo.Client the exporter uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Exporter produces one record per ticket event, keyed by event id so
// redeliveries land on the same partition.
type Exporter struct {
	producer Producer
	client   *kgo.Client
	topic    string
	logger   *slog.Logger
}

type Option func(*Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExporter connects to the brokers. Call Close when done.
func NewExporter(cfg Config, opts ...Option) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	e := newExporter(cl, cfg.Topic, opts...)
	e.client = cl
	return e, nil
}

func newExporter(p Producer, topic string, opts ...Option) *Exporter {
	e := &Exporter{producer: p, topic: topic, logger: logger.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export produces event synchronously.
func (e *Exporter) Export(ctx context.Context, event routing.TicketEvent) error {
	value, err := routing.Encode(event)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: e.topic,
		Key:   []byte(event.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: identity.AttrCustomerTier, Value: []byte(event.Tier())},
			{Key: "ticket_type", Value: []byte(event.Body.Type)},
		},
	}
	if err := e.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", e.topic, err)
	}
	return nil
}

// EnsureTopic creates the analytics topic when it does not exist yet.
func (e *Exporter) EnsureTopic(ctx context.Context, partitions int32) error {
	if e.client == nil {
		return errors.New("exporter has no admin connection")
	}
	if partitions <= 0 {
		partitions = 1
	}
	adm := kadm.NewClient(e.client)
	resp, err := adm.CreateTopic(ctx, partitions, -1, nil, e.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", e.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", e.topic, resp.Err)
	}
	e.logger.InfoContext(ctx, "analytics topic ready", "topic", e.topic, "partitions", partitions)
	return nil
}

func (e *Exporter) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
