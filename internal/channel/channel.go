// Package channel provides the per-channel queues events are delivered into
// and batch consumers pull from.
package channel

import (
	"context"
	"time"
)

//go:generate mockgen -source=channel.go -destination=mocks/mocks.go -package=mocks Queue

// DeliveredItem is one receipt of a message by a consumer. Handle identifies
// the receipt, not the message: each redelivery gets a fresh handle.
type DeliveredItem struct {
	ID            string
	Channel       string
	Handle        string
	Body          []byte
	ReceiveCount  int
	FirstReceived time.Time
}

// Queue is a bounded channel buffer with per-item acknowledgement. Offer never
// blocks on a full buffer; it returns sentinel.ErrBufferFull instead.
type Queue interface {
	Name() string
	Offer(ctx context.Context, id string, body []byte) error
	Receive(ctx context.Context, max int) ([]DeliveredItem, error)
	// Ack permanently removes received items.
	Ack(ctx context.Context, handles ...string) error
	// Release makes received items eligible for redelivery.
	Release(ctx context.Context, handles ...string) error
	Len() int
	Close() error
}

// DeadLetterSink receives items that exhausted their receive budget.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, item DeliveredItem) error
}

// DeadLetterQueueName names the dead-letter queue paired with channel.
func DeadLetterQueueName(channel string) string {
	return channel + "-dlq"
}
