package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	cartdomain "github.com/fjod/go_store/internal/cart/domain"
	catalog "github.com/fjod/go_store/internal/catalog/repository"
	"github.com/fjod/go_store/internal/events"
	invdomain "github.com/fjod/go_store/internal/inventory/domain"
	invservice "github.com/fjod/go_store/internal/inventory/service"
	"github.com/fjod/go_store/internal/metrics"
	"github.com/fjod/go_store/internal/orders/domain"
	"github.com/fjod/go_store/internal/storage"
	"github.com/google/uuid"
)

type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	Notes           string `json:"notes"`
}

type CheckoutService interface {
	Checkout(ctx context.Context, ownerID string, request CheckoutRequest) (*domain.Order, error)
}

// CartInvalidator drops cached carts of an owner.
type CartInvalidator interface {
	Invalidate(ownerID string)
}

type StockObserver interface {
	Observe(ctx context.Context, changes ...invdomain.Change)
}

type CheckoutServiceImpl struct {
	store   storage.Store
	catalog catalog.Catalog
	carts   CartInvalidator
	stock   StockObserver
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

func NewCheckoutService(store storage.Store, cat catalog.Catalog, carts CartInvalidator, stock StockObserver, log *slog.Logger, m *metrics.Metrics) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{
		store:   store,
		catalog: cat,
		carts:   carts,
		stock:   stock,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Checkout turns the owner's ACTIVE cart into a CREATED order. Order
// creation, stock decrements and closing the cart commit together or not at
// all.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, ownerID string, request CheckoutRequest) (*domain.Order, error) {
	started := time.Now()
	order, changes, err := s.checkout(ctx, ownerID, request)
	if err != nil {
		s.metrics.CheckoutDone(apperr.CodeOf(err), started)
		s.log.InfoContext(ctx, "checkout rejected",
			slog.String("owner_id", ownerID),
			slog.String("code", apperr.CodeOf(err)),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.metrics.CheckoutDone("ok", started)
	s.log.InfoContext(ctx, "checkout completed",
		slog.String("owner_id", ownerID),
		slog.String("order_id", order.ID()),
		slog.String("cart_id", order.CartID()),
		slog.String("total", order.Total().String()),
		slog.Int("item_count", order.ItemCount()))
	if s.stock != nil {
		s.stock.Observe(ctx, changes...)
	}
	if s.carts != nil {
		s.carts.Invalidate(ownerID)
	}
	return order, nil
}

func (s *CheckoutServiceImpl) checkout(ctx context.Context, ownerID string, request CheckoutRequest) (*domain.Order, []invdomain.Change, error) {
	address := strings.TrimSpace(request.ShippingAddress)
	if address == "" {
		return nil, nil, apperr.InvalidArgument(apperr.CodeInvalidArgument, "shipping address is required")
	}

	var (
		order   *domain.Order
		changes []invdomain.Change
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cart, err := tx.Carts().FindActiveByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return apperr.ErrEmptyCart
		}

		inputs, err := s.validateLines(ctx, tx, cart)
		if err != nil {
			return err
		}

		now := s.now()
		order, err = domain.NewOrder(domain.NewOrderParams{
			ID:              s.newID(),
			OwnerID:         ownerID,
			CartID:          cart.ID(),
			Currency:        cart.Currency(),
			Lines:           inputs,
			ShippingAddress: address,
			Notes:           strings.TrimSpace(request.Notes),
			Now:             now,
		})
		if err != nil {
			return err
		}

		for _, line := range order.Lines() {
			change, err := tx.Stock().Decrement(ctx, line.ProductID, line.Quantity, now)
			if err != nil {
				var stockErr *apperr.InsufficientStockError
				if errors.As(err, &stockErr) {
					stockErr.ProductName = line.ProductName
				}
				return err
			}
			change.Operation = invdomain.OpSale
			change.Reason = "order " + order.ID()
			if err := invservice.AppendStockEvent(ctx, tx.Events(), change, now); err != nil {
				return err
			}
			changes = append(changes, change)
		}

		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		if err := cart.Close(now); err != nil {
			return err
		}
		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}
		return appendOrderCreated(ctx, tx.Events(), order, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return order, changes, nil
}

// validateLines re-checks every cart line against the catalog and the ledger
// and builds the order lines from the cart's price snapshots.
func (s *CheckoutServiceImpl) validateLines(ctx context.Context, tx storage.Tx, cart *cartdomain.Cart) ([]domain.LineInput, error) {
	lines := cart.Lines()
	inputs := make([]domain.LineInput, 0, len(lines))
	for _, line := range lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.Active {
			return nil, apperr.InvalidState(apperr.CodeProductUnavailable, "product %s is no longer available", product.Name)
		}

		ledger, err := tx.Stock().Get(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !ledger.HasSufficient(line.Quantity) {
			return nil, &apperr.InsufficientStockError{
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Available:   ledger.Quantity,
				Requested:   line.Quantity,
			}
		}

		inputs = append(inputs, domain.LineInput{
			ID:          s.newID(),
			ProductID:   line.ProductID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	return inputs, nil
}

func appendOrderCreated(ctx context.Context, w storage.EventWriter, order *domain.Order, now time.Time) error {
	lines := make([]events.OrderLine, 0, len(order.Lines()))
	for _, l := range order.Lines() {
		lines = append(lines, events.OrderLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	ev, err := events.New(events.TypeOrderCreated, order.ID(), events.OrderCreated{
		OrderID:   order.ID(),
		OwnerID:   order.OwnerID(),
		CartID:    order.CartID(),
		Total:     order.Total(),
		ItemCount: order.ItemCount(),
		Lines:     lines,
	}, now)
	if err != nil {
		return err
	}
	return w.Append(ctx, ev)
}
