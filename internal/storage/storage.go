// Package storage declares the persistence contract used by the services.
// Every service operation runs inside one WithinTx call, which is the atomic
// unit: either all writes made through the Tx are kept, or none are.
package storage

import (
	"context"
	"time"

	cartdomain "github.com/fjod/go_store/internal/cart/domain"
	"github.com/fjod/go_store/internal/events"
	invdomain "github.com/fjod/go_store/internal/inventory/domain"
	orderdomain "github.com/fjod/go_store/internal/orders/domain"
)

type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Outbox() OutboxReader
	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	Carts() CartRepository
	Orders() OrderRepository
	Stock() StockRepository
	Events() EventWriter
}

type CartRepository interface {
	// FindActiveByOwner fails with apperr.ErrCartNotFound when the owner has no
	// ACTIVE cart.
	FindActiveByOwner(ctx context.Context, ownerID string) (*cartdomain.Cart, error)
	// FindLineCartID returns the cart that holds lineID, or
	// apperr.ErrLineNotFound.
	FindLineCartID(ctx context.Context, lineID string) (string, error)
	// Create fails with apperr.ErrActiveCartExists if the owner already has an
	// ACTIVE cart.
	Create(ctx context.Context, cart *cartdomain.Cart) error
	// Save writes the root and replaces its lines.
	Save(ctx context.Context, cart *cartdomain.Cart) error
}

type OrderRepository interface {
	// Create fails with apperr.ErrDuplicateOrder if the cart already produced
	// an order.
	Create(ctx context.Context, order *orderdomain.Order) error
	Get(ctx context.Context, id string) (*orderdomain.Order, error)
	// UpdateStatus persists the status and timestamps of order, provided the
	// stored status is still from.
	UpdateStatus(ctx context.Context, order *orderdomain.Order, from orderdomain.OrderStatus) error
	ListByOwner(ctx context.Context, ownerID string) ([]*orderdomain.Order, error)
	ListByStatus(ctx context.Context, status orderdomain.OrderStatus) ([]*orderdomain.Order, error)
}

// StockRepository mutates ledgers with single statements so concurrent
// units can never drive a quantity below zero.
type StockRepository interface {
	// Get returns the ledger, or an empty one when the product has none.
	Get(ctx context.Context, productID string) (invdomain.Ledger, error)
	Increment(ctx context.Context, productID string, qty int, now time.Time) (invdomain.Change, error)
	// Decrement subtracts qty only if at least qty is available, failing
	// with *apperr.InsufficientStockError otherwise.
	Decrement(ctx context.Context, productID string, qty int, now time.Time) (invdomain.Change, error)
	Set(ctx context.Context, productID string, qty int, now time.Time) (invdomain.Change, error)
}

type EventWriter interface {
	Append(ctx context.Context, event events.Event) error
}

type OutboxRecord struct {
	ID        int64
	Event     events.Event
	CreatedAt time.Time
	SentAt    *time.Time
}

type OutboxReader interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id int64) error
}
