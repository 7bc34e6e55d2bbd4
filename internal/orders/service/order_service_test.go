package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_bakery/internal/cart/cache"
	cartrepo "github.com/fjod/go_bakery/internal/cart/repository"
	cartservice "github.com/fjod/go_bakery/internal/cart/service"
	catalog "github.com/fjod/go_bakery/internal/catalog/repository"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/inventory/store"
	"github.com/fjod/go_bakery/internal/orders/publisher"
	"github.com/fjod/go_bakery/internal/orders/repository"
	"github.com/fjod/go_bakery/internal/pricing"
	"github.com/fjod/go_bakery/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc     *OrderService
	carts   *cartservice.CartService
	catalog *catalog.MemoryRepository
	stock   *store.MemoryStore
	repo    *repository.MemoryRepository
	metrics *metrics.StockMetrics
	clock   *fakeClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Product A: 10 in stock at 5.00, product B: 3 in stock at 3.00.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	products := catalog.NewMemoryRepository(
		domain.Product{ID: 1, Name: "A", Price: decimal.RequireFromString("5.00"), StockQuantity: 10, IsActive: true},
		domain.Product{ID: 2, Name: "B", Price: decimal.RequireFromString("3.00"), StockQuantity: 3, IsActive: true},
	)
	stock := store.NewMemoryStore(store.WithClock(clock.Now), store.WithReservationTTL(15*time.Minute))
	require.NoError(t, stock.SetStock(ctx, 1, 10))
	require.NoError(t, stock.SetStock(ctx, 2, 3))

	log := discardLogger()
	carts := cartservice.NewCartService(cartrepo.NewMemoryRepository(), cache.NopCache{}, products, stock, pricing.DefaultPolicy(), log)
	repo := repository.NewMemoryRepository()
	m := metrics.Discard()

	svc := NewOrderService(carts, stock, repo, m, log)
	svc.now = clock.Now
	return &fixture{svc: svc, carts: carts, catalog: products, stock: stock, repo: repo, metrics: m, clock: clock}
}

// eventTypes lists the outbox events queued so far.
func (f *fixture) eventTypes(t *testing.T) []publisher.EventType {
	t.Helper()
	events, err := f.repo.GetUnpublishedEvents(context.Background(), 100)
	require.NoError(t, err)
	var types []publisher.EventType
	for _, e := range events {
		types = append(types, publisher.EventType(e.EventType))
	}
	return types
}

func (f *fixture) available(t *testing.T, productID int64) int32 {
	t.Helper()
	n, err := f.stock.Available(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func (f *fixture) fillCart(t *testing.T, owner domain.CartOwner, lines map[int64]int32) {
	t.Helper()
	for productID, qty := range lines {
		view, err := f.carts.SetQuantity(context.Background(), owner, productID, qty)
		require.NoError(t, err)
		require.False(t, view.StockLimited())
	}
}

func TestCheckout_CreatesPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 2, 2: 1})

	order, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "user:u1", order.Owner)
	assert.Equal(t, domain.Currency, order.Currency)
	assert.True(t, decimal.RequireFromString("13.00").Equal(order.Subtotal))
	assert.True(t, decimal.RequireFromString("1.30").Equal(order.Tax))
	assert.True(t, decimal.RequireFromString("14.30").Equal(order.Total))
	assert.Len(t, order.Items, 2)
	assert.Len(t, order.ReservationIDs, 2)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), order.ReservationsExpireAt)

	assert.Equal(t, int32(8), f.available(t, 1))
	assert.Equal(t, int32(2), f.available(t, 2))

	// cart is cleared
	view, err := f.carts.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, view.Cart.Items)

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)

	assert.Equal(t, []publisher.EventType{publisher.EventOrderCreated}, f.eventTypes(t))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("created")))
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), domain.SessionOwner("s1"), "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, f.eventTypes(t))
}

func TestCheckout_InvalidOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), domain.CartOwner{}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestCheckout_InsufficientStockIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 2})
	f.fillCart(t, owner, map[int64]int32{2: 3})

	// someone else takes B between cart edit and checkout
	_, err := f.stock.Reserve(ctx, 2, 2)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, owner, "")
	require.ErrorIs(t, err, ErrStockUnavailable)

	var stockErr *StockUnavailableError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.ProductID)
	assert.Equal(t, "B", stockErr.ProductName)
	assert.Equal(t, int32(3), stockErr.Requested)
	assert.Equal(t, int32(1), stockErr.Available)

	// A's reservation was rolled back
	assert.Equal(t, int32(10), f.available(t, 1))
	assert.Equal(t, int32(1), f.available(t, 2))

	// cart kept, no order
	view, err := f.carts.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, view.Cart.Items, 2)
	orders, err := f.svc.ListOrders(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_LastUnitRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, second := domain.UserOwner("first"), domain.UserOwner("second")
	f.fillCart(t, first, map[int64]int32{2: 3})
	f.fillCart(t, second, map[int64]int32{2: 3})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, owner := range []domain.CartOwner{first, second} {
		wg.Add(1)
		go func(i int, owner domain.CartOwner) {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(ctx, owner, "")
		}(i, owner)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrStockUnavailable)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, int32(0), f.available(t, 2))
}

func TestCheckout_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 2})

	first, err := f.svc.Checkout(ctx, owner, "key-1")
	require.NoError(t, err)

	// a new cart exists by the time the retry arrives
	f.fillCart(t, owner, map[int64]int32{1: 1})

	again, err := f.svc.Checkout(ctx, owner, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	assert.Equal(t, int32(8), f.available(t, 1))
	view, err := f.carts.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, view.Cart.Items, 1)

	// the same key from another owner is a different checkout
	other := domain.UserOwner("u2")
	f.fillCart(t, other, map[int64]int32{1: 1})
	third, err := f.svc.Checkout(ctx, other, "key-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestAdvance_CompleteCommitsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 4})

	order, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)

	processing, err := f.svc.Advance(ctx, order.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, processing.Status)

	completed, err := f.svc.Advance(ctx, order.ID, domain.OrderStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, completed.Status)
	require.Len(t, completed.Transitions, 2)
	assert.Equal(t, domain.OrderStatusProcessing, completed.Transitions[1].From)

	stocks, err := f.stock.GetStock(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int32(6), stocks[0].Total)
	assert.Equal(t, int32(0), stocks[0].Reserved)
	assert.Equal(t, int32(4), stocks[0].Committed)

	assert.Equal(t, []publisher.EventType{
		publisher.EventOrderCreated,
		publisher.EventOrderStatusChanged,
		publisher.EventOrderStatusChanged,
	}, f.eventTypes(t))
}

func TestAdvance_CancelReleasesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 4, 2: 2})

	order, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)
	assert.Equal(t, int32(6), f.available(t, 1))

	cancelled, err := f.svc.Advance(ctx, order.ID, domain.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	assert.Equal(t, int32(10), f.available(t, 1))
	assert.Equal(t, int32(3), f.available(t, 2))
}

func TestAdvance_IllegalTransitionsLeaveOrderUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 1})

	order, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatusCompleted)
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.OrderStatusPending, invalid.From)

	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatusCompleted)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.OrderStatusCancelled, invalid.From)
	assert.Equal(t, domain.OrderStatusCompleted, invalid.To)

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Len(t, stored.Transitions, 1)

	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatus("shipped"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.Advance(ctx, uuid.New(), domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestAdvance_CompleteWithExpiredReservationsFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 2})

	order, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)

	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatusCompleted)
	assert.ErrorIs(t, err, store.ErrReservationExpired)

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, stored.Status)
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillCart(t, domain.UserOwner("stale"), map[int64]int32{1: 3})
	stale, err := f.svc.Checkout(ctx, domain.UserOwner("stale"), "")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	f.fillCart(t, domain.UserOwner("fresh"), map[int64]int32{1: 2})
	fresh, err := f.svc.Checkout(ctx, domain.UserOwner("fresh"), "")
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	swept, err := f.stock.ExpireReservations(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	n, err := f.svc.ExpirePending(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetOrder(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	got, err = f.svc.GetOrder(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	assert.Equal(t, int32(8), f.available(t, 1))

	// running again finds nothing
	f.svc.SweepHook()(ctx, f.clock.Now())
	n, err = f.svc.ExpirePending(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListOrders_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.SessionOwner("s1")

	f.fillCart(t, owner, map[int64]int32{1: 1})
	first, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.fillCart(t, owner, map[int64]int32{2: 1})
	second, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)

	orders, err := f.svc.ListOrders(ctx, owner)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
}

// recordSpans routes the service's spans into an in-memory recorder.
func (f *fixture) recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	f.svc.tracer = tp.Tracer(tracerName)
	return recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestTracing_CheckoutAndAdvanceSpans(t *testing.T) {
	f := newFixture(t)
	recorder := f.recordSpans(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 1})

	order, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, order.ID, domain.OrderStatusPending)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "orders.Checkout", spans[0].Name())
	id, ok := spanAttr(spans[0], "order.id")
	require.True(t, ok)
	assert.Equal(t, order.ID.String(), id)

	for _, span := range spans[1:] {
		assert.Equal(t, "orders.Advance", span.Name())
		id, ok := spanAttr(span, "order.id")
		require.True(t, ok)
		assert.Equal(t, order.ID.String(), id)
	}
	target, _ := spanAttr(spans[1], "order.target_status")
	assert.Equal(t, "processing", target)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}

func TestTracing_FailedCheckoutRecordsError(t *testing.T) {
	f := newFixture(t)
	recorder := f.recordSpans(t)

	_, err := f.svc.Checkout(context.Background(), domain.UserOwner("nobody"), "")
	require.ErrorIs(t, err, ErrEmptyCart)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "orders.Checkout", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	_, ok := spanAttr(spans[0], "order.id")
	assert.False(t, ok)
}

func TestCheckout_DroppedProductFailsAndKeepsRest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.UserOwner("u1")
	f.fillCart(t, owner, map[int64]int32{1: 2, 2: 1})

	// B is withdrawn after the buyer last saw the cart
	f.catalog.Upsert(domain.Product{ID: 2, Name: "B", Price: decimal.RequireFromString("3.00"), IsActive: false})

	_, err := f.svc.Checkout(ctx, owner, "")
	require.ErrorIs(t, err, ErrCartChanged)
	var dropped *ProductsUnavailableError
	require.ErrorAs(t, err, &dropped)
	require.Len(t, dropped.Lines, 1)
	assert.Equal(t, int64(2), dropped.Lines[0].ProductID)
	assert.Equal(t, "B", dropped.Lines[0].ProductName)
	assert.Contains(t, err.Error(), `"B"`)

	// nothing reserved, nothing queued
	assert.Equal(t, int32(10), f.available(t, 1))
	assert.Empty(t, f.eventTypes(t))

	// the saved cart no longer has B, so a retry goes through
	view, err := f.carts.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 1)
	assert.Empty(t, view.Adjustments)

	order, err := f.svc.Checkout(ctx, owner, "")
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.True(t, decimal.RequireFromString("11.00").Equal(order.Total))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("cart_changed")))
}
