package publisher

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the log; used when no brokers are configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event OrderEvent) error {
	p.log.InfoContext(ctx, "order event",
		"event_type", string(event.Type),
		"order_id", event.OrderID.String(),
		"status", event.Status.String(),
		"total", event.Total.StringFixed(2),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
