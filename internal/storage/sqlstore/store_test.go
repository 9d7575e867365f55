package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	cartdomain "github.com/fjod/go_store/internal/cart/domain"
	"github.com/fjod/go_store/internal/events"
	invdomain "github.com/fjod/go_store/internal/inventory/domain"
	"github.com/fjod/go_store/internal/money"
	orderdomain "github.com/fjod/go_store/internal/orders/domain"
	"github.com/fjod/go_store/internal/storage"
	"github.com/fjod/go_store/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupSQLite(t *testing.T) *Store {
	t.Helper()
	store, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "store.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.RunMigrations("./migrations/sqlite"))
	return store
}

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(DriverPostgres, dsn, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.RunMigrations("./migrations/postgres"))
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, setupSQLite)
}

func TestPostgresStore(t *testing.T) {
	store := setupPostgres(t)
	runStoreSuite(t, func(*testing.T) *Store { return store })
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", logger.Nop())
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", sqliteDSN("a.db?mode=rwc"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(0)", sqliteDSN("a.db?_pragma=foreign_keys(0)"))
}

// runStoreSuite checks the storage contract. Subtests use distinct ids so a
// shared database can serve all of them.
func runStoreSuite(t *testing.T, open func(*testing.T) *Store) {
	t.Run("cart round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		c := cartdomain.NewCart("cart-rt", "owner-rt", "", now)
		_, err := c.AddItem("line-rt-1", "p1", 2, money.MustParse("7.50", ""), now)
		require.NoError(t, err)
		_, err = c.AddItem("line-rt-2", "p2", 1, money.MustParse("10.00", ""), now)
		require.NoError(t, err)
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.Carts().Create(ctx, c)
		}))

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			loaded, err := tx.Carts().FindActiveByOwner(ctx, "owner-rt")
			require.NoError(t, err)
			assert.Equal(t, "cart-rt", loaded.ID())
			require.Len(t, loaded.Lines(), 2)
			assert.Equal(t, "line-rt-1", loaded.Lines()[0].ID)
			assert.Equal(t, "25.00", loaded.TotalValue().Amount().StringFixed(2))
			assert.Equal(t, 3, loaded.TotalQuantity())
			assert.True(t, now.Equal(loaded.CreatedAt()))

			_, err = loaded.UpdateQuantity("line-rt-1", 4, now)
			require.NoError(t, err)
			require.NoError(t, loaded.RemoveLine("line-rt-2", now))
			return tx.Carts().Save(ctx, loaded)
		}))

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			loaded, err := tx.Carts().FindActiveByOwner(ctx, "owner-rt")
			require.NoError(t, err)
			require.Len(t, loaded.Lines(), 1)
			assert.Equal(t, "30.00", loaded.TotalValue().Amount().StringFixed(2))

			cartID, err := tx.Carts().FindLineCartID(ctx, "line-rt-1")
			require.NoError(t, err)
			assert.Equal(t, "cart-rt", cartID)

			_, err = tx.Carts().FindLineCartID(ctx, "line-rt-2")
			assert.ErrorIs(t, err, apperr.ErrLineNotFound)
			return nil
		}))
	})

	t.Run("one active cart per owner", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.Carts().Create(ctx, cartdomain.NewCart("cart-u1", "owner-u", "", now))
		}))
		err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.Carts().Create(ctx, cartdomain.NewCart("cart-u2", "owner-u", "", now))
		})
		assert.ErrorIs(t, err, apperr.ErrActiveCartExists)

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			c, err := tx.Carts().FindActiveByOwner(ctx, "owner-u")
			require.NoError(t, err)
			require.NoError(t, c.Close(now))
			if err := tx.Carts().Save(ctx, c); err != nil {
				return err
			}
			return tx.Carts().Create(ctx, cartdomain.NewCart("cart-u2", "owner-u", "", now))
		}))
	})

	t.Run("rollback discards every write", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Stock().Increment(ctx, "p-rb", 5, now); err != nil {
				return err
			}
			if err := tx.Carts().Create(ctx, cartdomain.NewCart("cart-rb", "owner-rb", "", now)); err != nil {
				return err
			}
			ev, err := events.New(events.TypeStockUpdated, "p-rb", map[string]int{"q": 5}, now)
			if err != nil {
				return err
			}
			if err := tx.Events().Append(ctx, ev); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			l, err := tx.Stock().Get(ctx, "p-rb")
			require.NoError(t, err)
			assert.False(t, l.Exists)
			assert.Equal(t, 0, l.Quantity)

			_, err = tx.Carts().FindActiveByOwner(ctx, "owner-rb")
			assert.ErrorIs(t, err, apperr.ErrCartNotFound)
			return nil
		}))

		pending, err := s.Outbox().FetchPending(ctx, 0)
		require.NoError(t, err)
		for _, rec := range pending {
			assert.NotEqual(t, "p-rb", rec.Event.AggregateID)
		}
	})

	t.Run("stock conditional decrement", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			change, err := tx.Stock().Increment(ctx, "p-st", 5, now)
			require.NoError(t, err)
			assert.Equal(t, 0, change.Old)
			assert.Equal(t, 5, change.New)

			change, err = tx.Stock().Decrement(ctx, "p-st", 3, now)
			require.NoError(t, err)
			assert.Equal(t, 5, change.Old)
			assert.Equal(t, 2, change.New)

			_, err = tx.Stock().Decrement(ctx, "p-st", 3, now)
			var stockErr *apperr.InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
			assert.Equal(t, 2, stockErr.Available)
			assert.Equal(t, 3, stockErr.Requested)

			_, err = tx.Stock().Decrement(ctx, "p-none", 1, now)
			require.ErrorAs(t, err, &stockErr)
			assert.Equal(t, 0, stockErr.Available)

			change, err = tx.Stock().Set(ctx, "p-st", 9, now)
			require.NoError(t, err)
			assert.Equal(t, 2, change.Old)
			assert.Equal(t, 9, change.New)

			_, err = tx.Stock().Set(ctx, "p-st", -1, now)
			assert.ErrorIs(t, err, apperr.ErrInvalidQuantity)

			l, err := tx.Stock().Get(ctx, "p-st")
			require.NoError(t, err)
			assert.True(t, l.Exists)
			assert.Equal(t, 9, l.Quantity)
			return nil
		}))
	})

	t.Run("stock never passes the maximum", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.Stock().Increment(ctx, "p-max", 1, now)
			require.NoError(t, err)

			_, err = tx.Stock().Increment(ctx, "p-max", invdomain.MaxQuantity, now)
			assert.ErrorIs(t, err, apperr.ErrInvalidQuantity)

			_, err = tx.Stock().Increment(ctx, "p-max", math.MaxInt, now)
			assert.ErrorIs(t, err, apperr.ErrInvalidQuantity)

			change, err := tx.Stock().Increment(ctx, "p-max", invdomain.MaxQuantity-1, now)
			require.NoError(t, err)
			assert.Equal(t, invdomain.MaxQuantity, change.New)

			_, err = tx.Stock().Set(ctx, "p-max", invdomain.MaxQuantity+1, now)
			assert.ErrorIs(t, err, apperr.ErrInvalidQuantity)

			l, err := tx.Stock().Get(ctx, "p-max")
			require.NoError(t, err)
			assert.Equal(t, invdomain.MaxQuantity, l.Quantity)
			return nil
		}))
	})

	t.Run("concurrent decrements never oversell", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.Stock().Set(ctx, "p-race", 3, now)
			return err
		}))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok, fail int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
					_, err := tx.Stock().Decrement(ctx, "p-race", 1, now)
					return err
				})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if errors.Is(err, apperr.ErrInsufficientStock) {
					fail++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, ok)
		assert.Equal(t, 7, fail)
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			l, err := tx.Stock().Get(ctx, "p-race")
			assert.Equal(t, 0, l.Quantity)
			return err
		}))
	})

	t.Run("orders", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		mk := func(id, owner string, at time.Time) *orderdomain.Order {
			o, err := orderdomain.NewOrder(orderdomain.NewOrderParams{
				ID:      id,
				OwnerID: owner,
				CartID:  "cart-of-" + id,
				Lines: []orderdomain.LineInput{
					{ID: id + "-1", ProductID: "p1", ProductName: "Keyboard", Quantity: 2, UnitPrice: money.MustParse("10.00", "")},
					{ID: id + "-2", ProductID: "p2", ProductName: "Mouse", Quantity: 1, UnitPrice: money.MustParse("5.50", "")},
				},
				ShippingAddress: "Rua A, 1",
				Notes:           "fragile",
				Now:             at,
			})
			require.NoError(t, err)
			return o
		}

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			for i, id := range []string{"ord-1", "ord-2", "ord-3"} {
				owner := "owner-ord"
				if id == "ord-3" {
					owner = "owner-other"
				}
				if err := tx.Orders().Create(ctx, mk(id, owner, now.Add(time.Duration(i)*time.Minute))); err != nil {
					return err
				}
			}
			return nil
		}))

		err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.Orders().Create(ctx, mk("ord-1", "owner-ord", now))
		})
		assert.ErrorIs(t, err, apperr.ErrDuplicateOrder)

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			o, err := tx.Orders().Get(ctx, "ord-1")
			require.NoError(t, err)
			assert.Equal(t, "25.50", o.Total().Amount().StringFixed(2))
			assert.Equal(t, 3, o.ItemCount())
			assert.Equal(t, "fragile", o.Notes())
			require.Len(t, o.Lines(), 2)
			assert.Equal(t, "Keyboard", o.Lines()[0].ProductName)

			from := o.Status()
			require.NoError(t, o.Pay(now.Add(time.Hour)))
			require.NoError(t, tx.Orders().UpdateStatus(ctx, o, from))
			assert.ErrorIs(t, tx.Orders().UpdateStatus(ctx, o, from), apperr.ErrConcurrentUpdate)

			_, err = tx.Orders().Get(ctx, "missing")
			assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
			return nil
		}))

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			o, err := tx.Orders().Get(ctx, "ord-1")
			require.NoError(t, err)
			assert.Equal(t, orderdomain.OrderStatusPaid, o.Status())
			require.NotNil(t, o.PaidAt())
			assert.True(t, now.Add(time.Hour).Equal(*o.PaidAt()))
			assert.Nil(t, o.ShippedAt())

			mine, err := tx.Orders().ListByOwner(ctx, "owner-ord")
			require.NoError(t, err)
			require.Len(t, mine, 2)
			assert.Equal(t, "ord-2", mine[0].ID())
			assert.Len(t, mine[0].Lines(), 2)

			paid, err := tx.Orders().ListByStatus(ctx, orderdomain.OrderStatusPaid)
			require.NoError(t, err)
			require.Len(t, paid, 1)
			assert.Equal(t, "ord-1", paid[0].ID())
			return nil
		}))
	})

	t.Run("outbox", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		before, err := s.Outbox().FetchPending(ctx, 0)
		require.NoError(t, err)

		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			for i := 0; i < 3; i++ {
				ev, err := events.New(events.TypeOrderPaid, fmt.Sprintf("ob-%d", i), map[string]int{"n": i}, now)
				require.NoError(t, err)
				if err := tx.Events().Append(ctx, ev); err != nil {
					return err
				}
			}
			return nil
		}))

		pending, err := s.Outbox().FetchPending(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pending, len(before)+3)
		last := pending[len(pending)-3:]
		assert.Equal(t, "ob-0", last[0].Event.AggregateID)
		assert.JSONEq(t, `{"n":0}`, string(last[0].Event.Payload))
		assert.True(t, now.Equal(last[0].Event.OccurredAt))

		for _, rec := range pending {
			require.NoError(t, s.Outbox().MarkSent(ctx, rec.ID))
		}
		pending, err = s.Outbox().FetchPending(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}
