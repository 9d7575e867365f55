package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	cartdomain "github.com/fjod/go_store/internal/cart/domain"
	catalogdomain "github.com/fjod/go_store/internal/catalog/domain"
	catalog "github.com/fjod/go_store/internal/catalog/repository"
	"github.com/fjod/go_store/internal/events"
	invdomain "github.com/fjod/go_store/internal/inventory/domain"
	"github.com/fjod/go_store/internal/money"
	"github.com/fjod/go_store/internal/orders/domain"
	"github.com/fjod/go_store/internal/storage"
	"github.com/fjod/go_store/internal/storage/memory"
	"github.com/fjod/go_store/internal/storage/sqlstore"
	"github.com/fjod/go_store/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingInvalidator struct {
	mu     sync.Mutex
	owners []string
}

func (r *recordingInvalidator) Invalidate(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, ownerID)
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []invdomain.Change
}

func (r *recordingObserver) Observe(_ context.Context, changes ...invdomain.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
}

type fixture struct {
	svc      *CheckoutServiceImpl
	store    storage.Store
	catalog  *catalog.MemoryRepository
	carts    *recordingInvalidator
	observer *recordingObserver
}

func setup(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	if store == nil {
		store = memory.NewStore()
	}
	cat := catalog.NewMemoryRepository(
		&catalogdomain.Product{ID: "p1", Name: "Keyboard", Price: money.MustParse("10.00", ""), Active: true},
		&catalogdomain.Product{ID: "p2", Name: "Monitor", Price: money.MustParse("899.99", ""), Active: true},
		&catalogdomain.Product{ID: "p3", Name: "Webcam", Price: money.MustParse("150.00", ""), Active: false},
	)
	f := &fixture{
		store:    store,
		catalog:  cat,
		carts:    &recordingInvalidator{},
		observer: &recordingObserver{},
	}
	f.svc = NewCheckoutService(store, cat, f.carts, f.observer, logger.Nop(), nil)
	f.svc.now = func() time.Time { return testNow }
	return f
}

type item struct {
	productID string
	qty       int
	price     string
}

func (f *fixture) cart(t *testing.T, ownerID string, items ...item) string {
	t.Helper()
	c := cartdomain.NewCart("cart-"+ownerID, ownerID, "", testNow)
	for i, it := range items {
		_, err := c.AddItem(ownerID+"-line-"+string(rune('a'+i)), it.productID, it.qty, money.MustParse(it.price, ""), testNow)
		require.NoError(t, err)
	}
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.Carts().Create(ctx, c)
	})
	require.NoError(t, err)
	return c.ID()
}

func (f *fixture) setStock(t *testing.T, productID string, qty int) {
	t.Helper()
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Stock().Set(ctx, productID, qty, testNow)
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) stockOf(t *testing.T, productID string) int {
	t.Helper()
	var qty int
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		l, err := tx.Stock().Get(ctx, productID)
		qty = l.Quantity
		return err
	})
	require.NoError(t, err)
	return qty
}

func (f *fixture) activeCart(t *testing.T, ownerID string) (*cartdomain.Cart, error) {
	t.Helper()
	var c *cartdomain.Cart
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		c, err = tx.Carts().FindActiveByOwner(ctx, ownerID)
		return err
	})
	return c, err
}

var request = CheckoutRequest{ShippingAddress: "Rua das Flores, 123", Notes: "leave at the door"}

func TestCheckout_ScenarioD(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.setStock(t, "p1", 5)
	cartID := f.cart(t, "u1", item{"p1", 2, "10.00"})

	order, err := f.svc.Checkout(ctx, "u1", request)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCreated, order.Status())
	assert.Equal(t, "20.00", order.Subtotal().Amount().StringFixed(2))
	assert.Equal(t, "20.00", order.Total().Amount().StringFixed(2))
	assert.True(t, order.ShippingFee().IsZero())
	assert.True(t, order.Discount().IsZero())
	assert.Equal(t, 2, order.ItemCount())
	assert.Equal(t, cartID, order.CartID())
	assert.Equal(t, "Rua das Flores, 123", order.ShippingAddress())
	require.Len(t, order.Lines(), 1)
	assert.Equal(t, "Keyboard", order.Lines()[0].ProductName)

	_, err = f.activeCart(t, "u1")
	assert.ErrorIs(t, err, apperr.ErrCartNotFound, "the cart must be CLOSED")
	assert.Equal(t, 3, f.stockOf(t, "p1"))
	assert.Equal(t, []string{"u1"}, f.carts.owners)
	require.Len(t, f.observer.changes, 1)
	assert.Equal(t, invdomain.OpSale, f.observer.changes[0].Operation)
}

func TestCheckout_EmitsEvents(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.setStock(t, "p1", 5)
	f.setStock(t, "p2", 5)
	f.cart(t, "u1", item{"p1", 2, "10.00"}, item{"p2", 1, "899.99"})

	order, err := f.svc.Checkout(ctx, "u1", request)
	require.NoError(t, err)

	pending, err := f.store.Outbox().FetchPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	var types []string
	for _, rec := range pending {
		types = append(types, rec.Event.Type)
	}
	assert.Equal(t, []string{events.TypeStockUpdated, events.TypeStockUpdated, events.TypeOrderCreated}, types)

	var created events.OrderCreated
	require.NoError(t, json.Unmarshal(pending[2].Event.Payload, &created))
	assert.Equal(t, order.ID(), created.OrderID)
	assert.Equal(t, "919.99", created.Total.Amount().StringFixed(2))
	assert.Equal(t, 3, created.ItemCount)
}

func TestCheckout_UsesCartPriceSnapshot(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.setStock(t, "p1", 5)
	f.cart(t, "u1", item{"p1", 1, "10.00"})

	product, err := f.catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	product.Price = money.MustParse("12.50", "")
	product.Name = "Mechanical Keyboard"
	require.NoError(t, f.catalog.SaveProduct(ctx, product))

	order, err := f.svc.Checkout(ctx, "u1", request)
	require.NoError(t, err)
	line := order.Lines()[0]
	assert.Equal(t, "10.00", line.UnitPrice.Amount().StringFixed(2))
	assert.Equal(t, "Mechanical Keyboard", line.ProductName, "the name is read at checkout")
}

func TestCheckout_Failures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture)
		request CheckoutRequest
		want    error
	}{
		{
			name:    "no active cart",
			prepare: func(*testing.T, *fixture) {},
			request: request,
			want:    apperr.ErrCartNotFound,
		},
		{
			name:    "empty cart",
			prepare: func(t *testing.T, f *fixture) { f.cart(t, "u1") },
			request: request,
			want:    apperr.ErrEmptyCart,
		},
		{
			name: "product deactivated",
			prepare: func(t *testing.T, f *fixture) {
				f.setStock(t, "p3", 5)
				f.cart(t, "u1", item{"p3", 1, "150.00"})
			},
			request: request,
			want:    apperr.ErrProductUnavailable,
		},
		{
			name: "product removed from catalog",
			prepare: func(t *testing.T, f *fixture) {
				f.cart(t, "u1", item{"gone", 1, "1.00"})
			},
			request: request,
			want:    apperr.ErrProductNotFound,
		},
		{
			name: "blank shipping address",
			prepare: func(t *testing.T, f *fixture) {
				f.setStock(t, "p1", 5)
				f.cart(t, "u1", item{"p1", 1, "10.00"})
			},
			request: CheckoutRequest{ShippingAddress: "   "},
			want:    &apperr.Error{Code: apperr.CodeInvalidArgument},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, nil)
			tt.prepare(t, f)

			order, err := f.svc.Checkout(context.Background(), "u1", tt.request)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, order)
			assert.Empty(t, f.carts.owners)
		})
	}
}

func TestCheckout_AtomicWhenOneLineFails(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.setStock(t, "p1", 5)
	f.setStock(t, "p2", 1)
	f.cart(t, "u1", item{"p1", 2, "10.00"}, item{"p2", 2, "899.99"})

	_, err := f.svc.Checkout(ctx, "u1", request)
	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Monitor", stockErr.ProductName)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)

	cart, err := f.activeCart(t, "u1")
	require.NoError(t, err, "the cart must stay ACTIVE")
	assert.Len(t, cart.Lines(), 2)
	assert.Equal(t, 4, cart.TotalQuantity())
	assert.Equal(t, 5, f.stockOf(t, "p1"))
	assert.Equal(t, 1, f.stockOf(t, "p2"))

	pending, err := f.store.Outbox().FetchPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var orders []*domain.Order
	err = f.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		orders, err = tx.Orders().ListByOwner(ctx, "u1")
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// testScenarioE races two owners for the last unit of a product.
func testScenarioE(t *testing.T, store storage.Store) {
	f := setup(t, store)
	f.setStock(t, "p1", 1)
	f.cart(t, "alice", item{"p1", 1, "10.00"})
	f.cart(t, "bob", item{"p1", 1, "10.00"})

	owners := []string{"alice", "bob"}
	errs := make([]error, len(owners))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, owner := range owners {
		wg.Add(1)
		go func(i int, owner string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Checkout(context.Background(), owner, request)
		}(i, owner)
	}
	close(start)
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
		rejected++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, f.stockOf(t, "p1"))
}

func TestCheckout_ScenarioE(t *testing.T) {
	testScenarioE(t, nil)
}

func TestCheckout_ScenarioE_SQLite(t *testing.T) {
	store, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "store.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.RunMigrations("../../storage/sqlstore/migrations/sqlite"))

	testScenarioE(t, store)
}
