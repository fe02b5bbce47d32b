package consumer

import (
	"context"
	"log/slog"

	"ticketrouting/internal/channel"
)

// Dispatcher routes items to channel-specific handlers. Use it when one
// consumer serves several channels.
type Dispatcher struct {
	handlers map[string]ItemHandler
	fallback ItemHandler
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher with an optional fallback handler.
func NewDispatcher(logger *slog.Logger, fallback ItemHandler) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]ItemHandler),
		fallback: fallback,
		logger:   logger,
	}
}

// Register adds a handler for a channel.
func (d *Dispatcher) Register(ch string, handler ItemHandler) {
	d.handlers[ch] = handler
}

// Handle routes the item by its channel. Items for unknown channels are
// acknowledged and skipped when no fallback is set.
func (d *Dispatcher) Handle(ctx context.Context, item channel.DeliveredItem) error {
	handler, ok := d.handlers[item.Channel]
	if !ok {
		if d.fallback != nil {
			return d.fallback.Handle(ctx, item)
		}
		d.logger.WarnContext(ctx, "no handler for channel, skipping item",
			"channel", item.Channel,
			"item_id", item.ID,
		)
		return nil
	}
	return handler.Handle(ctx, item)
}
