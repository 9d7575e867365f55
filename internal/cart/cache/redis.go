package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_store/internal/cart/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 15 * time.Minute
	maxJitter  = 5 * time.Minute
	// generationTTL outlives any read-through flight by a wide margin. An
	// expired counter reads as zero and only costs a skipped fill.
	generationTTL = 24 * time.Hour
)

// RedisCache stores one JSON cart per owner under "cart:{owner}". The owner
// is a hash tag so the cart and its generation counter, "cart:{owner}:gen",
// land in the same cluster slot and can be watched together.
//
// Delete bumps the generation. Set only writes when the generation still
// matches the value read before the database load, so a fill that raced with
// a mutation is dropped instead of caching the pre-mutation cart.
type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: defaultTTL,
	}
}

// WithTTL overrides the base TTL. Entries get up to maxJitter on top of it so
// carts cached in the same burst do not expire together.
func (r *RedisCache) WithTTL(ttl time.Duration) *RedisCache {
	if ttl > 0 {
		r.baseTTL = ttl
	}
	return r
}

func (r *RedisCache) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, ownerID string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

func (r *RedisCache) Set(ctx context.Context, ownerID string, cart *domain.Cart, gen int64) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))

	genKey := generationKey(ownerID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return ErrStaleWrite
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(ownerID), data, ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleWrite), errors.Is(err, redis.TxFailedErr):
		return ErrStaleWrite
	default:
		return fmt.Errorf("redis set failed: %w", err)
	}
}

func (r *RedisCache) Delete(ctx context.Context, ownerID string) error {
	genKey := generationKey(ownerID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(ownerID))
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(ownerID string) string {
	return fmt.Sprintf("cart:{%s}", ownerID)
}

func generationKey(ownerID string) string {
	return cacheKey(ownerID) + ":gen"
}
