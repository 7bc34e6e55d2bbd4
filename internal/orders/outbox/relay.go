package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_bakery/internal/orders/publisher"
	"github.com/fjod/go_bakery/internal/orders/repository"
)

const DefaultPollInterval = time.Second

// Store is the outbox side of the order repository.
type Store interface {
	GetUnpublishedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id int64) error
}

// Relay forwards outbox events to a Publisher. Delivery is at least once:
// an event whose publish succeeded but whose mark failed goes out again on
// the next pass.
type Relay struct {
	store     Store
	publisher publisher.Publisher
	interval  time.Duration
	batch     int
	timeout   time.Duration
	log       *slog.Logger
}

func NewRelay(store Store, pub publisher.Publisher, interval time.Duration, log *slog.Logger) *Relay {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Relay{
		store:     store,
		publisher: pub,
		interval:  interval,
		batch:     repository.DefaultOutboxBatch,
		timeout:   5 * time.Second,
		log:       log,
	}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.log.Error("outbox relay pass failed", "err", err)
			}
		case <-ctx.Done():
			r.log.Info("outbox relay stopping")
			return
		}
	}
}

// Flush publishes one batch of pending events in write order and returns
// how many were published. It stops at the first publish failure so events
// of one order are never delivered out of order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.GetUnpublishedEvents(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox events: %w", err)
	}

	published := 0
	for _, e := range events {
		var event publisher.OrderEvent
		if err := json.Unmarshal(e.Payload, &event); err != nil {
			// a payload we cannot read will never get better
			r.log.Error("dropping malformed outbox event", "event_id", e.ID, "event_type", e.EventType, "err", err)
			r.mark(ctx, e)
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.publisher.Publish(pubCtx, event)
		cancel()
		if err != nil {
			return published, fmt.Errorf("publish event %d (%s): %w", e.ID, e.EventType, err)
		}

		r.mark(ctx, e)
		published++
	}
	return published, nil
}

func (r *Relay) mark(ctx context.Context, e *repository.OutboxEvent) {
	if err := r.store.MarkEventPublished(ctx, e.ID); err != nil {
		r.log.Warn("failed to mark outbox event published", "event_id", e.ID, "order_id", e.AggregateID, "err", err)
	}
}
