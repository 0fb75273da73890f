package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
)

// decreaseScript decrements one entry and drops it at zero so a stored
// quantity is never below one. Returns -1 when the item is absent.
var decreaseScript = redis.NewScript(`
local qty = redis.call('HGET', KEYS[1], ARGV[1])
if not qty then
	return -1
end
qty = tonumber(qty) - 1
if qty <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
else
	redis.call('HSET', KEYS[1], ARGV[1], qty)
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return qty
`)

// RedisCartStore keeps each cart as a hash of item id -> quantity with a
// sliding TTL, mirroring a server-side session.
type RedisCartStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCartStore(client *redis.Client, ttl time.Duration) *RedisCartStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisCartStore{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisCartStore) Get(ctx context.Context, accountID int64) (models.Cart, error) {
	fields, err := r.client.HGetAll(ctx, cartKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	c := make(models.Cart, len(fields))
	for field, value := range fields {
		itemID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse cart item id %q: %w", field, err)
		}
		qty, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse cart quantity for item %d: %w", itemID, err)
		}
		if qty >= 1 {
			c[itemID] = qty
		}
	}
	return c, nil
}

func (r *RedisCartStore) Add(ctx context.Context, accountID, itemID int64) (models.Cart, error) {
	if err := validItem(itemID); err != nil {
		return nil, err
	}
	key := cartKey(accountID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, itemField(itemID), 1)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis add item failed: %w", err)
	}
	return r.Get(ctx, accountID)
}

func (r *RedisCartStore) Decrease(ctx context.Context, accountID, itemID int64) (models.Cart, error) {
	left, err := decreaseScript.Run(ctx, r.client,
		[]string{cartKey(accountID)}, itemField(itemID), r.ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis decrease item failed: %w", err)
	}
	if left < 0 {
		return nil, ErrItemNotInCart
	}
	return r.Get(ctx, accountID)
}

func (r *RedisCartStore) Remove(ctx context.Context, accountID, itemID int64) (models.Cart, error) {
	removed, err := r.client.HDel(ctx, cartKey(accountID), itemField(itemID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis remove item failed: %w", err)
	}
	if removed == 0 {
		return nil, ErrItemNotInCart
	}
	return r.Get(ctx, accountID)
}

func (r *RedisCartStore) Clear(ctx context.Context, accountID int64) error {
	if err := r.client.Del(ctx, cartKey(accountID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartKey(accountID int64) string {
	return fmt.Sprintf("cart:%d", accountID)
}

func itemField(itemID int64) string {
	return strconv.FormatInt(itemID, 10)
}

var _ interfaces.CartStore = (*RedisCartStore)(nil)
