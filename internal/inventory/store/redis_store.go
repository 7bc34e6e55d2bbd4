package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	expiryKey = "reservations:expiry"

	// terminal reservations are kept for a day for inspection
	retentionMS = int64(24 * time.Hour / time.Millisecond)
)

// reserve: KEYS stock, reservation, expiry
// ARGV qty, reservation id, product id, created ms, expires ms
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {-1, 0}
end
local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local qty = tonumber(ARGV[1])
local available = total - reserved
if available < qty then
	return {0, available}
end
redis.call('HINCRBY', KEYS[1], 'reserved', qty)
redis.call('HSET', KEYS[2], 'product_id', ARGV[3], 'quantity', ARGV[1], 'status', 'reserved',
	'created_at', ARGV[4], 'expires_at', ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[2])
return {1, available - qty}
`)

// release: KEYS reservation, expiry, stock
// ARGV new status (released|expired), now ms, reservation id, retention ms
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'reserved' then
	return 0
end
if ARGV[1] == 'expired' and tonumber(redis.call('HGET', KEYS[1], 'expires_at')) > tonumber(ARGV[2]) then
	return 0
end
local qty = tonumber(redis.call('HGET', KEYS[1], 'quantity'))
redis.call('HINCRBY', KEYS[3], 'reserved', -qty)
redis.call('HSET', KEYS[1], 'status', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[3])
return 1
`)

// commit: KEYS expiry, n reservation keys, n stock keys
// ARGV now ms, retention ms, n reservation ids
var commitScript = redis.NewScript(`
local n = (#KEYS - 1) / 2
local now = tonumber(ARGV[1])
for i = 1, n do
	local rk = KEYS[1 + i]
	if redis.call('HGET', rk, 'status') ~= 'reserved' then
		return {-1, i}
	end
	if tonumber(redis.call('HGET', rk, 'expires_at')) <= now then
		return {-2, i}
	end
end
for i = 1, n do
	local rk = KEYS[1 + i]
	local sk = KEYS[1 + n + i]
	local qty = tonumber(redis.call('HGET', rk, 'quantity'))
	redis.call('HINCRBY', sk, 'total', -qty)
	redis.call('HINCRBY', sk, 'reserved', -qty)
	redis.call('HINCRBY', sk, 'committed', qty)
	redis.call('HSET', rk, 'status', 'committed')
	redis.call('PEXPIRE', rk, ARGV[2])
	redis.call('ZREM', KEYS[1], ARGV[2 + i])
end
return {1, 0}
`)

// RedisStore implements InventoryStore on Redis. Every read-modify-write runs
// as a Lua script so concurrent reservations on a product are serialized by
// the server, across any number of storefront instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	return &RedisStore{
		client: client,
		prefix: "bakery:",
		ttl:    o.ttl,
		now:    o.now,
	}
}

func (s *RedisStore) stockKey(productID int64) string {
	return fmt.Sprintf("%sstock:%d", s.prefix, productID)
}

func (s *RedisStore) reservationKey(id string) string {
	return s.prefix + "reservation:" + id
}

func (s *RedisStore) expiryKey() string {
	return s.prefix + expiryKey
}

func (s *RedisStore) GetStock(ctx context.Context, productIDs []int64) ([]domain.StockInfo, error) {
	cmds := make([]*redis.SliceCmd, len(productIDs))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range productIDs {
			cmds[i] = pipe.HMGet(ctx, s.stockKey(id), "total", "reserved", "committed")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis get stock failed: %w", err)
	}

	result := make([]domain.StockInfo, 0, len(productIDs))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 || vals[0] == nil {
			continue
		}
		result = append(result, domain.StockInfo{
			ProductID: productIDs[i],
			Total:     toInt32(vals[0]),
			Reserved:  toInt32(vals[1]),
			Committed: toInt32(vals[2]),
		})
	}
	return result, nil
}

func (s *RedisStore) Available(ctx context.Context, productID int64) (int32, error) {
	stocks, err := s.GetStock(ctx, []int64{productID})
	if err != nil {
		return 0, err
	}
	if len(stocks) == 0 {
		return 0, ErrProductNotFound
	}
	return stocks[0].Available(), nil
}

func (s *RedisStore) Reserve(ctx context.Context, productID int64, quantity int32) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	now := s.now()
	reservation := &domain.Reservation{
		ID:        uuid.New().String(),
		ProductID: productID,
		Quantity:  quantity,
		Status:    domain.StatusReserved,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	res, err := reserveScript.Run(ctx, s.client,
		[]string{s.stockKey(productID), s.reservationKey(reservation.ID), s.expiryKey()},
		quantity, reservation.ID, productID, now.UnixMilli(), reservation.ExpiresAt.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis reserve failed: %w", err)
	}

	switch res[0] {
	case -1:
		return nil, ErrProductNotFound
	case 0:
		return nil, fmt.Errorf("%w: product %d requested %d, available %d",
			ErrInsufficientStock, productID, quantity, res[1])
	}
	return reservation, nil
}

func (s *RedisStore) Release(ctx context.Context, reservationID string) error {
	_, err := s.release(ctx, reservationID, domain.StatusReleased, s.now())
	return err
}

func (s *RedisStore) release(ctx context.Context, reservationID string, status domain.ReservationStatus, now time.Time) (bool, error) {
	productID, err := s.client.HGet(ctx, s.reservationKey(reservationID), "product_id").Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get reservation failed: %w", err)
	}

	released, err := releaseScript.Run(ctx, s.client,
		[]string{s.reservationKey(reservationID), s.expiryKey(), s.stockKey(productID)},
		string(status), now.UnixMilli(), reservationID, retentionMS,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis release failed: %w", err)
	}
	return released == 1, nil
}

func (s *RedisStore) Commit(ctx context.Context, reservationIDs ...string) error {
	if len(reservationIDs) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(reservationIDs))
	cmds := make([]*redis.StringCmd, len(reservationIDs))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range reservationIDs {
			cmds[i] = pipe.HGet(ctx, s.reservationKey(id), "product_id")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis get reservations failed: %w", err)
	}

	n := len(reservationIDs)
	keys := make([]string, 1+2*n)
	args := make([]interface{}, 2+n)
	keys[0] = s.expiryKey()
	args[0] = s.now().UnixMilli()
	args[1] = retentionMS
	for i, id := range reservationIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
		}
		seen[id] = struct{}{}

		productID, err := cmds[i].Int64()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
		}
		keys[1+i] = s.reservationKey(id)
		keys[1+n+i] = s.stockKey(productID)
		args[2+i] = id
	}

	res, err := commitScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return fmt.Errorf("redis commit failed: %w", err)
	}
	switch res[0] {
	case -1:
		return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationIDs[res[1]-1])
	case -2:
		return fmt.Errorf("%w: %s", ErrReservationExpired, reservationIDs[res[1]-1])
	}
	return nil
}

func (s *RedisStore) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list expired reservations failed: %w", err)
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.release(ctx, id, domain.StatusExpired, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *RedisStore) SetStock(ctx context.Context, productID int64, quantity int32) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	key := s.stockKey(productID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "total", quantity)
		pipe.HSetNX(ctx, key, "reserved", 0)
		pipe.HSetNX(ctx, key, "committed", 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set stock failed: %w", err)
	}
	return nil
}

// Close leaves the client open; its owner closes it.
func (s *RedisStore) Close() error {
	return nil
}

func toInt32(v interface{}) int32 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(str, 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}
