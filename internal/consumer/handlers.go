package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"ticketrouting/internal/channel"
	"ticketrouting/internal/routing"
)

// NotifyHandler forwards tickets to a support channel. Malformed bodies are
// failures so they end up dead-lettered instead of silently acknowledged.
type NotifyHandler struct {
	channel string
	logger  *slog.Logger
}

func NewNotifyHandler(ch string, logger *slog.Logger) *NotifyHandler {
	return &NotifyHandler{channel: ch, logger: logger}
}

func (h *NotifyHandler) Handle(ctx context.Context, item channel.DeliveredItem) error {
	event, err := routing.Decode(item.Body)
	if err != nil {
		return fmt.Errorf("decode item %s: %w", item.ID, err)
	}
	h.logger.InfoContext(ctx, fmt.Sprintf("Send request to %s channel", h.channel),
		"item_id", item.ID,
		"event_id", event.ID,
		"request_id", event.RequestID,
		"ticket_type", event.Body.Type,
		"customer_tier", event.Tier(),
		"message", event.Body.Message,
	)
	return nil
}

// Exporter ships ticket events to the analytics sink.
type Exporter interface {
	Export(ctx context.Context, event routing.TicketEvent) error
}

// AnalyticsHandler exports every ticket event.
type AnalyticsHandler struct {
	exporter Exporter
	logger   *slog.Logger
}

func NewAnalyticsHandler(exporter Exporter, logger *slog.Logger) (*AnalyticsHandler, error) {
	if exporter == nil {
		return nil, fmt.Errorf("analytics exporter is required")
	}
	return &AnalyticsHandler{exporter: exporter, logger: logger}, nil
}

func (h *AnalyticsHandler) Handle(ctx context.Context, item channel.DeliveredItem) error {
	event, err := routing.Decode(item.Body)
	if err != nil {
		return fmt.Errorf("decode item %s: %w", item.ID, err)
	}
	if err := h.exporter.Export(ctx, event); err != nil {
		return fmt.Errorf("export event %s: %w", event.ID, err)
	}
	h.logger.DebugContext(ctx, "analytics event exported",
		"item_id", item.ID,
		"event_id", event.ID,
	)
	return nil
}

// LogExporter writes events to the log; used when no broker is configured.
type LogExporter struct {
	logger *slog.Logger
}

func NewLogExporter(logger *slog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) Export(ctx context.Context, event routing.TicketEvent) error {
	e.logger.InfoContext(ctx, "analytics event",
		"event_id", event.ID,
		"ticket_type", event.Body.Type,
		"customer_tier", event.Tier(),
		"request_time_epoch", event.RequestTimeEpoch,
	)
	return nil
}
