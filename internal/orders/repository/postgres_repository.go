package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const orderColumns = `id, cart_id, owner, idempotency_key, items, subtotal, tax, total, currency, status,
	reservation_ids, reservations_expire_at, transitions, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	reservationsJSON, err := json.Marshal(order.ReservationIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal reservation ids: %w", err)
	}
	transitionsJSON, err := json.Marshal(nonNilTransitions(order.Transitions))
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	event, err := orderCreatedEvent(order)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = tx.ExecContext(ctx, query,
		order.ID,
		order.CartID,
		order.Owner,
		nullString(order.IdempotencyKey),
		string(itemsJSON),
		order.Subtotal,
		order.Tax,
		order.Total,
		order.Currency,
		string(order.Status),
		string(reservationsJSON),
		order.ReservationsExpireAt,
		string(transitionsJSON),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCheckout
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) GetOrderByIdempotencyKey(ctx context.Context, owner, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner = $1 AND idempotency_key = $2`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, owner, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) ListOrdersByOwner(ctx context.Context, owner string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query orders by owner: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (r *PostgresRepository) ListExpiredPending(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE status = 'pending' AND reservations_expire_at <= $1
	          ORDER BY reservations_expire_at`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query expired pending orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	transitionsJSON, err := json.Marshal(nonNilTransitions(order.Transitions))
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	event, err := statusChangedEvent(order, from)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE orders SET status = $1, transitions = $2, updated_at = $3
	          WHERE id = $4 AND status = $5`

	result, err := tx.ExecContext(ctx, query,
		string(order.Status), string(transitionsJSON), order.UpdatedAt, order.ID, string(from))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if rows == 1 {
		if err := insertOutboxEvent(ctx, tx, event); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit order status: %w", err)
		}
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrConcurrentUpdate
}

func (r *PostgresRepository) GetUnpublishedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	if limit <= 0 {
		limit = DefaultOutboxBatch
	}
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM order_outbox
	          WHERE published_at IS NULL
	          ORDER BY id
	          LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) MarkEventPublished(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE order_outbox SET published_at = NOW() WHERE id = $1 AND published_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d published: %w", id, err)
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, event *OutboxEvent) error {
	query := `INSERT INTO order_outbox (aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, query,
		event.AggregateID, event.EventType, string(event.Payload), event.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order                           domain.Order
		idempotencyKey                  sql.NullString
		status                          string
		items, reservations, transition []byte
	)
	err := row.Scan(
		&order.ID,
		&order.CartID,
		&order.Owner,
		&idempotencyKey,
		&items,
		&order.Subtotal,
		&order.Tax,
		&order.Total,
		&order.Currency,
		&status,
		&reservations,
		&order.ReservationsExpireAt,
		&transition,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.IdempotencyKey = idempotencyKey.String
	order.Status = domain.OrderStatus(status)
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(reservations, &order.ReservationIDs); err != nil {
		return nil, fmt.Errorf("unmarshal reservation ids: %w", err)
	}
	if err := json.Unmarshal(transition, &order.Transitions); err != nil {
		return nil, fmt.Errorf("unmarshal transitions: %w", err)
	}
	return &order, nil
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilTransitions(t []domain.StatusTransition) []domain.StatusTransition {
	if t == nil {
		return []domain.StatusTransition{}
	}
	return t
}
