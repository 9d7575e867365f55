package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	catalogdomain "github.com/fjod/go_store/internal/catalog/domain"
	catalog "github.com/fjod/go_store/internal/catalog/repository"
	"github.com/fjod/go_store/internal/events"
	"github.com/fjod/go_store/internal/inventory/domain"
	"github.com/fjod/go_store/internal/money"
	"github.com/fjod/go_store/internal/storage/memory"
	"github.com/fjod/go_store/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mouseID = "prod-mouse"

func setupService(t *testing.T) (*StockService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	cat := catalog.NewMemoryRepository(&catalogdomain.Product{
		ID:     mouseID,
		Name:   "Mouse",
		Price:  money.MustParse("89.90", money.DefaultCurrency),
		Active: true,
	})
	svc := NewStockService(store, cat, logger.Nop(), nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestStockService_ScenarioB(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	ledger, err := svc.AddStock(ctx, mouseID, 10, "initial receipt")
	require.NoError(t, err)
	assert.Equal(t, 10, ledger.Quantity)

	ledger, err = svc.RemoveStock(ctx, mouseID, 3, "manual removal")
	require.NoError(t, err)
	assert.Equal(t, 7, ledger.Quantity)

	_, err = svc.RemoveStock(ctx, mouseID, 8, "manual removal")
	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 7, stockErr.Available)
	assert.Equal(t, 8, stockErr.Requested)

	view, err := svc.GetStock(ctx, mouseID)
	require.NoError(t, err)
	assert.Equal(t, 7, view.Quantity)
}

func TestStockService_UnknownProduct(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)

	_, err = svc.GetStock(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)

	_, err = svc.HasSufficientStock(ctx, "missing", 1)
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)
}

func TestStockService_InvalidQuantity(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	for _, qty := range []int{0, -1} {
		_, err := svc.AddStock(ctx, mouseID, qty, "")
		assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

		_, err = svc.RemoveStock(ctx, mouseID, qty, "")
		assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

		_, err = svc.HasSufficientStock(ctx, mouseID, qty)
		assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
	}

	_, err := svc.AdjustStock(ctx, mouseID, -1, "")
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestStockService_QuantityOverflow(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, mouseID, 1, "")
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
	}{
		{"add max int", func() error { _, err := svc.AddStock(ctx, mouseID, math.MaxInt, ""); return err }},
		{"add past max", func() error { _, err := svc.AddStock(ctx, mouseID, domain.MaxQuantity, ""); return err }},
		{"adjust above max", func() error { _, err := svc.AdjustStock(ctx, mouseID, domain.MaxQuantity+1, ""); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
			assert.ErrorIs(t, err, apperr.ErrInvalidQuantity)
		})
	}

	view, err := svc.GetStock(ctx, mouseID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Quantity)
}

func TestStockService_MissingLedgerReadsAsZero(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	view, err := svc.GetStock(ctx, mouseID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Quantity)
	assert.False(t, view.Exists)
	assert.True(t, view.OutOfStock)

	ok, err := svc.HasSufficientStock(ctx, mouseID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStockService_AdjustAndFlags(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, mouseID, 4, "inventory count")
	require.NoError(t, err)

	view, err := svc.GetStock(ctx, mouseID)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Quantity)
	assert.True(t, view.Low)
	assert.False(t, view.OutOfStock)

	svc.WithLowThreshold(2)
	view, err = svc.GetStock(ctx, mouseID)
	require.NoError(t, err)
	assert.False(t, view.Low)

	_, err = svc.AdjustStock(ctx, mouseID, 0, "write-off")
	require.NoError(t, err)
	ok, err := svc.HasSufficientStock(ctx, mouseID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStockService_EmitsStockEvents(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, mouseID, 10, "initial receipt")
	require.NoError(t, err)
	_, err = svc.RemoveStock(ctx, mouseID, 11, "oversell")
	require.Error(t, err)
	_, err = svc.RemoveStock(ctx, mouseID, 2, "damaged")
	require.NoError(t, err)

	pending, err := store.Outbox().FetchPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2, "a rejected mutation must not leave an event behind")

	var payload events.StockUpdated
	require.NoError(t, json.Unmarshal(pending[1].Event.Payload, &payload))
	assert.Equal(t, events.TypeStockUpdated, pending[1].Event.Type)
	assert.Equal(t, mouseID, pending[1].Event.AggregateID)
	assert.Equal(t, "remove", payload.Operation)
	assert.Equal(t, "damaged", payload.Reason)
	assert.Equal(t, 10, payload.OldQuantity)
	assert.Equal(t, 8, payload.NewQuantity)
}

func TestStockService_ConcurrentRemovalsNeverOversell(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, mouseID, 5, "")
	require.NoError(t, err)

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := svc.RemoveStock(ctx, mouseID, 1, "race")
			errs <- err
		}()
	}

	var ok, rejected int
	for i := 0; i < 20; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, rejected)

	view, err := svc.GetStock(ctx, mouseID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Quantity)
}
