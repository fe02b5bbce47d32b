package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"ticketrouting/internal/routing"
	"ticketrouting/pkg/platform/circuit"
	"ticketrouting/pkg/platform/sentinel"
)

// GuardedExporter stops calling an unhealthy exporter for a cooldown period.
// Rejected exports fail with sentinel.ErrUnavailable so the item is released
// and retried later instead of tying up a worker slot until its timeout.
type GuardedExporter struct {
	next    Exporter
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuardedExporter(next Exporter, breaker *circuit.Breaker, logger *slog.Logger) *GuardedExporter {
	return &GuardedExporter{next: next, breaker: breaker, logger: logger}
}

func (g *GuardedExporter) Export(ctx context.Context, event routing.TicketEvent) error {
	if !g.breaker.Allow() {
		return fmt.Errorf("%s exporter circuit open: %w", g.breaker.Name(), sentinel.ErrUnavailable)
	}
	if err := g.next.Export(ctx, event); err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "exporter circuit opened",
				"exporter", g.breaker.Name(),
				"error", err,
			)
		}
		return err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "exporter circuit closed", "exporter", g.breaker.Name())
	}
	return nil
}
