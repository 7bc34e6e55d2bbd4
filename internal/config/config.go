package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	AdminToken      string

	TaxRate        decimal.Decimal
	ReservationTTL time.Duration
	SweepInterval  time.Duration

	StockBackend string
	CartBackend  string
	OrderBackend string
	CartCache    bool

	CatalogDBPath         string
	CatalogMigrationsPath string

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string

	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	MigrationsPath string

	KafkaBrokers     []string
	OrderEventsTopic string
	OutboxInterval   time.Duration

	TraceExporter string // none, stdout or otlp
	OTLPEndpoint  string
	OTLPInsecure  bool
}

// Load reads the configuration from the environment. Every variable has a
// default that runs the whole storefront in memory.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		HTTPPort:   getEnv("HTTP_PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		AdminToken: os.Getenv("ADMIN_TOKEN"),

		StockBackend: strings.ToLower(getEnv("STOCK_BACKEND", BackendMemory)),
		CartBackend:  strings.ToLower(getEnv("CART_BACKEND", BackendMemory)),
		OrderBackend: strings.ToLower(getEnv("ORDER_BACKEND", BackendMemory)),

		CatalogDBPath:         os.Getenv("CATALOG_DB_PATH"),
		CatalogMigrationsPath: getEnv("CATALOG_MIGRATIONS_PATH", "internal/catalog/repository/migrations"),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "bakery"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "bakery"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "internal/orders/repository/migrations"),

		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic: getEnv("ORDER_EVENTS_TOPIC", "order-events"),

		TraceExporter: strings.ToLower(getEnv("OTEL_TRACES_EXPORTER", "none")),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	cfg.RequestTimeout = parseDuration("REQUEST_TIMEOUT", "30s", &errs)
	cfg.ShutdownTimeout = parseDuration("SHUTDOWN_TIMEOUT", "10s", &errs)
	cfg.ReservationTTL = parseDuration("RESERVATION_TTL", "15m", &errs)
	cfg.SweepInterval = parseDuration("SWEEP_INTERVAL", "30s", &errs)
	cfg.OutboxInterval = parseDuration("OUTBOX_INTERVAL", "1s", &errs)
	cfg.CartCache = parseSwitch("CART_CACHE", "off", &errs)
	cfg.OTLPInsecure = parseSwitch("OTEL_EXPORTER_OTLP_INSECURE", "on", &errs)

	if port, err := strconv.Atoi(getEnv("DB_PORT", "5432")); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT: %q is not a valid port", os.Getenv("DB_PORT")))
	} else {
		cfg.DBPort = port
	}

	if rate, err := decimal.NewFromString(getEnv("TAX_RATE", "0.10")); err != nil {
		errs = append(errs, fmt.Errorf("TAX_RATE: %w", err))
	} else if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("TAX_RATE: %s is outside [0, 1)", rate))
	} else {
		cfg.TaxRate = rate
	}

	errs = append(errs, cfg.validate()...)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if port, err := strconv.Atoi(c.HTTPPort); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT: %q is not a valid port", c.HTTPPort))
	}
	if !slices.Contains([]string{BackendMemory, BackendRedis}, c.StockBackend) {
		errs = append(errs, fmt.Errorf("STOCK_BACKEND: %q must be memory or redis", c.StockBackend))
	}
	if !slices.Contains([]string{BackendMemory, BackendMongo}, c.CartBackend) {
		errs = append(errs, fmt.Errorf("CART_BACKEND: %q must be memory or mongo", c.CartBackend))
	}
	if !slices.Contains([]string{BackendMemory, BackendPostgres}, c.OrderBackend) {
		errs = append(errs, fmt.Errorf("ORDER_BACKEND: %q must be memory or postgres", c.OrderBackend))
	}
	if !slices.Contains([]string{"none", "stdout", "otlp"}, c.TraceExporter) {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_EXPORTER: %q must be none, stdout or otlp", c.TraceExporter))
	}
	for name, d := range map[string]time.Duration{
		"REQUEST_TIMEOUT":  c.RequestTimeout,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
		"RESERVATION_TTL":  c.ReservationTTL,
		"SWEEP_INTERVAL":   c.SweepInterval,
		"OUTBOX_INTERVAL":  c.OutboxInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}
	return errs
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.StockBackend == BackendRedis || c.CartCache
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, def string, errs *[]error) time.Duration {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	return d
}

func parseSwitch(key, def string, errs *[]error) bool {
	switch strings.ToLower(getEnv(key, def)) {
	case "on", "true", "1", "yes":
		return true
	case "off", "false", "0", "no":
		return false
	default:
		*errs = append(*errs, fmt.Errorf("%s: %q must be on or off", key, os.Getenv(key)))
		return false
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
