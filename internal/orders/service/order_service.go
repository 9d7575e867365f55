package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/events"
	invdomain "github.com/fjod/go_store/internal/inventory/domain"
	invservice "github.com/fjod/go_store/internal/inventory/service"
	"github.com/fjod/go_store/internal/metrics"
	"github.com/fjod/go_store/internal/orders/domain"
	"github.com/fjod/go_store/internal/storage"
)

// StockObserver reports ledger changes after their unit of work committed.
type StockObserver interface {
	Observe(ctx context.Context, changes ...invdomain.Change)
}

type OrderService struct {
	store           storage.Store
	stock           StockObserver
	log             *slog.Logger
	metrics         *metrics.Metrics
	restockOnCancel bool
	now             func() time.Time
}

func NewOrderService(store storage.Store, stock StockObserver, log *slog.Logger, m *metrics.Metrics) *OrderService {
	return &OrderService{
		store:           store,
		stock:           stock,
		log:             log,
		metrics:         m,
		restockOnCancel: true,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithRestockOnCancel controls whether canceling an order puts its
// quantities back on the ledger.
func (s *OrderService) WithRestockOnCancel(restock bool) *OrderService {
	s.restockOnCancel = restock
	return s
}

// Get returns an order of ownerID. Orders of other owners read as not found.
func (s *OrderService) Get(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		order, err = ownedOrder(ctx, tx, ownerID, orderID)
		return err
	})
	return order, err
}

func (s *OrderService) GetAny(ctx context.Context, orderID string) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	return order, err
}

// ListMine returns the owner's orders, newest first.
func (s *OrderService) ListMine(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		orders, err = tx.Orders().ListByOwner(ctx, ownerID)
		return err
	})
	return orders, err
}

func (s *OrderService) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	if !status.IsValid() {
		return nil, apperr.InvalidArgument(apperr.CodeInvalidArgument, "unknown order status %q", status)
	}
	var orders []*domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		orders, err = tx.Orders().ListByStatus(ctx, status)
		return err
	})
	return orders, err
}

// Pay flips a CREATED order to PAID. There is no payment gateway behind it.
func (s *OrderService) Pay(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	return s.transition(ctx, orderID, ownerID, events.TypeOrderPaid, (*domain.Order).Pay)
}

// Cancel cancels a CREATED or PAID order of ownerID.
func (s *OrderService) Cancel(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	return s.transition(ctx, orderID, ownerID, events.TypeOrderCanceled, (*domain.Order).Cancel)
}

func (s *OrderService) Ship(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.transition(ctx, orderID, "", events.TypeOrderShipped, (*domain.Order).MarkShipped)
}

func (s *OrderService) Deliver(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.transition(ctx, orderID, "", events.TypeOrderDelivered, (*domain.Order).MarkDelivered)
}

// transition loads the order, applies move and persists it with an event in
// one unit of work. An empty ownerID skips the ownership check.
func (s *OrderService) transition(ctx context.Context, orderID, ownerID, eventType string, move func(*domain.Order, time.Time) error) (*domain.Order, error) {
	now := s.now()
	var (
		order    *domain.Order
		from     domain.OrderStatus
		released []invdomain.Change
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if ownerID == "" {
			order, err = tx.Orders().Get(ctx, orderID)
		} else {
			order, err = ownedOrder(ctx, tx, ownerID, orderID)
		}
		if err != nil {
			return err
		}

		from = order.Status()
		if err := move(order, now); err != nil {
			return err
		}
		if err := tx.Orders().UpdateStatus(ctx, order, from); err != nil {
			return err
		}

		if order.Status() == domain.OrderStatusCanceled && s.restockOnCancel {
			if released, err = releaseStock(ctx, tx, order, now); err != nil {
				return err
			}
		}

		ev, err := events.New(eventType, order.ID(), events.OrderStatusChanged{
			OrderID: order.ID(),
			OwnerID: order.OwnerID(),
			From:    from.String(),
			To:      order.Status().String(),
			At:      now,
		}, now)
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		s.log.InfoContext(ctx, "order transition rejected",
			slog.String("order_id", orderID),
			slog.String("event", eventType),
			slog.String("code", apperr.CodeOf(err)),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.log.InfoContext(ctx, "order status changed",
		slog.String("order_id", order.ID()),
		slog.String("from", from.String()),
		slog.String("to", order.Status().String()))
	s.metrics.OrderTransition(order.Status().String())
	if s.stock != nil && len(released) > 0 {
		s.stock.Observe(ctx, released...)
	}
	return order, nil
}

func releaseStock(ctx context.Context, tx storage.Tx, order *domain.Order, now time.Time) ([]invdomain.Change, error) {
	changes := make([]invdomain.Change, 0, len(order.Lines()))
	for _, line := range order.Lines() {
		change, err := tx.Stock().Increment(ctx, line.ProductID, line.Quantity, now)
		if err != nil {
			return nil, err
		}
		change.Operation = invdomain.OpRelease
		change.Reason = "order " + order.ID() + " canceled"
		if err := invservice.AppendStockEvent(ctx, tx.Events(), change, now); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func ownedOrder(ctx context.Context, tx storage.Tx, ownerID, orderID string) (*domain.Order, error) {
	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OwnerID() != ownerID {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", orderID)
	}
	return order, nil
}
