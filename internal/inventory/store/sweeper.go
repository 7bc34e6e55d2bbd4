package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_bakery/pkg/metrics"
)

const (
	// CleanupInterval is how often the background sweep runs
	CleanupInterval = 30 * time.Second
)

// SweepHook runs after every ledger sweep, e.g. to cancel orders whose
// reservations just expired.
type SweepHook func(ctx context.Context, now time.Time)

// Sweeper periodically releases expired reservations. It runs on its own
// ticker and never holds store locks between ticks.
type Sweeper struct {
	store    InventoryStore
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.StockMetrics
	hooks    []SweepHook
	now      func() time.Time
}

func NewSweeper(store InventoryStore, interval time.Duration, log *slog.Logger, m *metrics.StockMetrics, hooks ...SweepHook) *Sweeper {
	if interval <= 0 {
		interval = CleanupInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      log,
		metrics:  m,
		hooks:    hooks,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.log.Info("reservation sweeper stopping")
			return
		}
	}
}

// Sweep performs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()
	n, err := s.store.ExpireReservations(ctx, now)
	if err != nil {
		s.log.Error("expire reservations failed", "err", err)
	}
	if n > 0 {
		s.metrics.ExpiredReservations.Add(float64(n))
		s.log.Info("expired reservations released", "count", n)
	}
	for _, hook := range s.hooks {
		hook(ctx, now)
	}
}
