package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_store/internal/cart/domain"
)

// CartCache holds the ACTIVE cart of an owner.
//
// Readers that fill the cache call Generation before loading the cart from
// the store and pass the value to Set. Set refuses the write with
// ErrStaleWrite when a Delete happened in between.
type CartCache interface {
	Get(ctx context.Context, ownerID string) (*domain.Cart, error)
	Generation(ctx context.Context, ownerID string) (int64, error)
	Set(ctx context.Context, ownerID string, cart *domain.Cart, gen int64) error
	Delete(ctx context.Context, ownerID string) error
}

var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrStaleWrite = errors.New("cart was invalidated after it was loaded")
)

// NoopCache always misses. Used when no Redis address is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Cart, error) {
	return nil, ErrCacheMiss
}

func (NoopCache) Generation(context.Context, string) (int64, error) {
	return 0, nil
}

func (NoopCache) Set(context.Context, string, *domain.Cart, int64) error {
	return nil
}

func (NoopCache) Delete(context.Context, string) error {
	return nil
}
