package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"order-fulfillment-service/internal/apperr"
)

const stockKeyPrefix = "stock:"

// -1: no such product, 0: insufficient stock, 1: decremented
var decrementStockScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end

if tonumber(current) >= tonumber(ARGV[1]) then
	redis.call('DECRBY', KEYS[1], ARGV[1])
	return 1
end

return 0
`)

// INCRBY would create a missing key, so existence is checked inside the script.
var incrementStockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

// RedisStockStore keeps stock counters in Redis; catalog snapshots still come from Mongo.
type RedisStockStore struct {
	client *redis.Client
}

func NewRedisStockStore(client *redis.Client) *RedisStockStore {
	return &RedisStockStore{client: client}
}

func (r *RedisStockStore) GetStock(ctx context.Context, ref string) (int, error) {
	n, err := r.client.Get(ctx, stockKeyPrefix+ref).Int()
	if errors.Is(err, redis.Nil) {
		return 0, apperr.NotFound("product", ref)
	}
	return n, err
}

func (r *RedisStockStore) DecrementStock(ctx context.Context, ref string, qty int) (bool, error) {
	result, err := decrementStockScript.Run(ctx, r.client, []string{stockKeyPrefix + ref}, qty).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (r *RedisStockStore) IncrementStock(ctx context.Context, ref string, qty int) error {
	result, err := incrementStockScript.Run(ctx, r.client, []string{stockKeyPrefix + ref}, qty).Int()
	if err != nil {
		return err
	}
	if result < 0 {
		return apperr.NotFound("product", ref)
	}
	return nil
}

// SetStock seeds a counter; used by operators syncing the catalog and by tests.
func (r *RedisStockStore) SetStock(ctx context.Context, ref string, qty int) error {
	return r.client.Set(ctx, stockKeyPrefix+ref, qty, 0).Err()
}
