package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fjod/go_bakery/internal/cart/cache"
	cartrepo "github.com/fjod/go_bakery/internal/cart/repository"
	cartservice "github.com/fjod/go_bakery/internal/cart/service"
	catalog "github.com/fjod/go_bakery/internal/catalog/repository"
	"github.com/fjod/go_bakery/internal/config"
	h "github.com/fjod/go_bakery/internal/http"
	"github.com/fjod/go_bakery/internal/inventory/store"
	"github.com/fjod/go_bakery/internal/orders/outbox"
	"github.com/fjod/go_bakery/internal/orders/publisher"
	orderrepo "github.com/fjod/go_bakery/internal/orders/repository"
	orderservice "github.com/fjod/go_bakery/internal/orders/service"
	"github.com/fjod/go_bakery/internal/pricing"
	"github.com/fjod/go_bakery/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// app is the fully wired storefront.
type app struct {
	handler http.Handler
	sweeper *store.Sweeper
	relay   *outbox.Relay
	log     *slog.Logger
	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) (_ *app, err error) {
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	products, err := openCatalog(cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, products.Close)
	breaker := catalog.NewBreakerCatalog(products, catalog.DefaultBreakerSettings, log)

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		a.closers = append(a.closers, redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
	}

	var stock store.InventoryStore
	switch cfg.StockBackend {
	case config.BackendRedis:
		stock = store.NewRedisStore(redisClient, store.WithReservationTTL(cfg.ReservationTTL))
	default:
		stock = store.NewMemoryStore(store.WithReservationTTL(cfg.ReservationTTL))
	}
	a.closers = append(a.closers, stock.Close)
	if err := seedStock(ctx, breaker, stock, log); err != nil {
		return nil, err
	}

	carts, err := a.openCarts(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	var cartCache cache.CartCache = cache.NopCache{}
	if cfg.CartCache {
		cartCache = cache.NewRedisCache(redisClient)
	}

	orders, err := openOrders(cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, orders.Close)

	var pub publisher.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		pub = publisher.NewKafkaPublisher(cfg.OrderEventsTopic, cfg.KafkaBrokers...)
		log.Info("publishing order events to kafka", "topic", cfg.OrderEventsTopic, "brokers", cfg.KafkaBrokers)
	} else {
		pub = publisher.NewLogPublisher(log)
	}
	a.closers = append(a.closers, pub.Close)

	stockMetrics := metrics.NewStockMetrics(reg)
	policy := pricing.NewPolicy(cfg.TaxRate)

	cartSvc := cartservice.NewCartService(carts, cartCache, breaker, stock, policy, log)
	orderSvc := orderservice.NewOrderService(cartSvc, stock, orders, stockMetrics, log)

	a.sweeper = store.NewSweeper(stock, cfg.SweepInterval, log, stockMetrics, orderSvc.SweepHook())
	a.relay = outbox.NewRelay(orders, pub, cfg.OutboxInterval, log)
	a.handler = h.NewRouter(h.RouterConfig{
		Carts:          cartSvc,
		Orders:         orderSvc,
		Metrics:        metrics.NewServerMetrics(reg, "http"),
		Gatherer:       reg,
		Log:            log,
		RequestTimeout: cfg.RequestTimeout,
		AdminToken:     cfg.AdminToken,
	})
	return a, nil
}

// Close releases every backend in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Error("failed to close backends", "err", err)
		return err
	}
	return nil
}

func openCatalog(cfg *config.Config, log *slog.Logger) (catalog.Catalog, error) {
	if cfg.CatalogDBPath == "" {
		log.Info("using built-in catalog")
		return catalog.NewSeededMemoryRepository(), nil
	}

	repo, err := catalog.NewSQLiteRepository(cfg.CatalogDBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		repo.Close()
		return nil, err
	}
	log.Info("catalog database ready", "path", cfg.CatalogDBPath)
	return repo, nil
}

func (a *app) openCarts(ctx context.Context, cfg *config.Config, log *slog.Logger) (cartrepo.CartRepository, error) {
	if cfg.CartBackend != config.BackendMongo {
		return cartrepo.NewMemoryRepository(), nil
	}

	db, err := cartrepo.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		return db.Client().Disconnect(context.Background())
	})

	repo := cartrepo.NewMongoRepository(db)
	if err := repo.CreateIndexes(ctx); err != nil {
		return nil, err
	}
	log.Info("connected to MongoDB", "db", cfg.MongoDBName)
	return repo, nil
}

func openOrders(cfg *config.Config, log *slog.Logger) (orderrepo.OrderRepository, error) {
	if cfg.OrderBackend != config.BackendPostgres {
		return orderrepo.NewMemoryRepository(), nil
	}

	cred := credentials(cfg)
	repo, err := orderrepo.NewPostgresRepository(cred)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(cred); err != nil {
		repo.Close()
		return nil, err
	}
	log.Info("connected to postgres", "host", cfg.DBHost, "db", cfg.DBName)
	return repo, nil
}

func credentials(cfg *config.Config) *orderrepo.Credentials {
	return &orderrepo.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
}

// seedStock gives every catalog product a ledger entry. Products the ledger
// already tracks keep their current level, so a restart against Redis does
// not undo committed sales.
func seedStock(ctx context.Context, products catalog.Catalog, stock store.InventoryStore, log *slog.Logger) error {
	list, err := products.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list catalog products: %w", err)
	}

	ids := make([]int64, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	known, err := stock.GetStock(ctx, ids)
	if err != nil {
		return fmt.Errorf("read stock levels: %w", err)
	}
	tracked := make(map[int64]bool, len(known))
	for _, info := range known {
		tracked[info.ProductID] = true
	}

	seeded := 0
	for _, p := range list {
		if tracked[p.ID] {
			continue
		}
		if err := stock.SetStock(ctx, p.ID, p.StockQuantity); err != nil {
			return fmt.Errorf("seed stock for product %d: %w", p.ID, err)
		}
		seeded++
	}
	log.Info("stock ledger seeded", "products", len(list), "seeded", seeded)
	return nil
}
