package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/cart/cache"
	"github.com/fjod/go_store/internal/cart/domain"
	catalog "github.com/fjod/go_store/internal/catalog/repository"
	invdomain "github.com/fjod/go_store/internal/inventory/domain"
	"github.com/fjod/go_store/internal/metrics"
	"github.com/fjod/go_store/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type CartService struct {
	store    storage.Store
	catalog  catalog.Catalog
	cache    cache.CartCache
	log      *slog.Logger
	metrics  *metrics.Metrics
	currency string
	sfg      singleflight.Group // Prevents cache stampede
	now      func() time.Time
	newID    func() string
}

func NewCartService(store storage.Store, cat catalog.Catalog, c cache.CartCache, log *slog.Logger, m *metrics.Metrics) *CartService {
	if c == nil {
		c = cache.NoopCache{}
	}
	return &CartService{
		store:   store,
		catalog: cat,
		cache:   c,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// WithCurrency sets the currency of newly created carts.
func (s *CartService) WithCurrency(currency string) *CartService {
	s.currency = currency
	return s
}

// GetOrCreateActiveCart returns the owner's ACTIVE cart, creating an empty one
// if there is none. Reads go through the cache.
func (s *CartService) GetOrCreateActiveCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(ownerID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, ownerID)
		if err == nil && cart.IsActive() {
			return cart, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get error", slog.String("owner_id", ownerID), slog.String("error", err.Error()))
		}

		// read before the load so an invalidation during it is detected
		gen, genErr := s.cache.Generation(ctx, ownerID)
		if genErr != nil {
			s.log.WarnContext(ctx, "cache generation error", slog.String("owner_id", ownerID), slog.String("error", genErr.Error()))
		}

		err = s.withActiveCart(ctx, ownerID, func(_ context.Context, _ storage.Tx, c *domain.Cart) (bool, error) {
			cart = c
			return false, nil
		})
		if err != nil {
			return nil, err
		}

		if genErr != nil {
			return cart, nil
		}
		switch errSet := s.cache.Set(ctx, ownerID, cart, gen); {
		case errSet == nil:
		case errors.Is(errSet, cache.ErrStaleWrite):
			s.log.DebugContext(ctx, "skipped stale cache fill", slog.String("owner_id", ownerID))
		default:
			s.log.WarnContext(ctx, "cache set error", slog.String("owner_id", ownerID), slog.String("error", errSet.Error()))
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not share the aggregate
	return domain.Restore(v.(*domain.Cart).Record())
}

// AddItem puts qty units of productID in the owner's cart. An existing line
// for the product is incremented and keeps its original price; the stock
// check covers the combined quantity.
func (s *CartService) AddItem(ctx context.Context, ownerID, productID string, qty int) (*domain.Cart, error) {
	cart, err := s.addItem(ctx, ownerID, productID, qty)
	s.finish(ctx, "add_item", ownerID, err)
	return cart, err
}

func (s *CartService) addItem(ctx context.Context, ownerID, productID string, qty int) (*domain.Cart, error) {
	if err := invdomain.ValidateQuantity(qty); err != nil {
		return nil, err
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, apperr.InvalidState(apperr.CodeProductInactive, "product %s is not available for sale", product.Name)
	}

	var cart *domain.Cart
	err = s.withActiveCart(ctx, ownerID, func(ctx context.Context, tx storage.Tx, c *domain.Cart) (bool, error) {
		requested := qty
		if existing, ok := c.LineForProduct(productID); ok {
			requested += existing.Quantity
		}
		if err := checkStock(ctx, tx, productID, product.Name, requested); err != nil {
			return false, err
		}
		if _, err := c.AddItem(s.newID(), productID, qty, product.Price, s.now()); err != nil {
			return false, err
		}
		cart = c
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateItemQuantity sets the quantity of one line of the owner's cart.
func (s *CartService) UpdateItemQuantity(ctx context.Context, ownerID, lineID string, qty int) (*domain.Cart, error) {
	cart, err := s.updateItemQuantity(ctx, ownerID, lineID, qty)
	s.finish(ctx, "update_quantity", ownerID, err)
	return cart, err
}

func (s *CartService) updateItemQuantity(ctx context.Context, ownerID, lineID string, qty int) (*domain.Cart, error) {
	if err := invdomain.ValidateQuantity(qty); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, line, err := ownedLine(ctx, tx, ownerID, lineID)
		if err != nil {
			return err
		}
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if err := checkStock(ctx, tx, line.ProductID, product.Name, qty); err != nil {
			return err
		}
		if _, err := c.UpdateQuantity(lineID, qty, s.now()); err != nil {
			return err
		}
		cart = c
		return tx.Carts().Save(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, ownerID, lineID string) (*domain.Cart, error) {
	var cart *domain.Cart
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, _, err := ownedLine(ctx, tx, ownerID, lineID)
		if err != nil {
			return err
		}
		if err := c.RemoveLine(lineID, s.now()); err != nil {
			return err
		}
		cart = c
		return tx.Carts().Save(ctx, c)
	})
	s.finish(ctx, "remove_item", ownerID, err)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the owner's cart. An owner without a cart gets a new empty
// one, so Clear never fails for a missing cart.
func (s *CartService) Clear(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var cart *domain.Cart
	err := s.withActiveCart(ctx, ownerID, func(_ context.Context, _ storage.Tx, c *domain.Cart) (bool, error) {
		if c.IsEmpty() {
			cart = c
			return false, nil
		}
		if err := c.Clear(s.now()); err != nil {
			return false, err
		}
		cart = c
		return true, nil
	})
	s.finish(ctx, "clear", ownerID, err)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Invalidate drops the cached cart of ownerID. Checkout calls it after
// closing the cart.
func (s *CartService) Invalidate(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.log.Warn("cache invalidate error", slog.String("owner_id", ownerID), slog.String("error", err.Error()))
	}
}

// withActiveCart runs fn in a unit of work with the owner's ACTIVE cart,
// creating the cart first if needed. The cart is saved when fn reports a
// change. Losing the race to create the cart restarts the unit once, which
// then finds the winner's cart.
func (s *CartService) withActiveCart(ctx context.Context, ownerID string, fn func(ctx context.Context, tx storage.Tx, cart *domain.Cart) (bool, error)) error {
	run := func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			cart, err := s.findOrCreate(ctx, tx, ownerID)
			if err != nil {
				return err
			}
			changed, err := fn(ctx, tx, cart)
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			return tx.Carts().Save(ctx, cart)
		})
	}

	err := run()
	if errors.Is(err, apperr.ErrActiveCartExists) {
		s.log.InfoContext(ctx, "active cart created concurrently, retrying", slog.String("owner_id", ownerID))
		err = run()
	}
	return err
}

func (s *CartService) findOrCreate(ctx context.Context, tx storage.Tx, ownerID string) (*domain.Cart, error) {
	cart, err := tx.Carts().FindActiveByOwner(ctx, ownerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, apperr.ErrCartNotFound) {
		return nil, err
	}

	cart = domain.NewCart(s.newID(), ownerID, s.currency, s.now())
	if err := tx.Carts().Create(ctx, cart); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "cart created", slog.String("owner_id", ownerID), slog.String("cart_id", cart.ID()))
	return cart, nil
}

// ownedLine loads the owner's ACTIVE cart and the line, failing when the line
// does not exist or lives in someone else's cart.
func ownedLine(ctx context.Context, tx storage.Tx, ownerID, lineID string) (*domain.Cart, domain.CartLine, error) {
	cartID, err := tx.Carts().FindLineCartID(ctx, lineID)
	if err != nil {
		return nil, domain.CartLine{}, err
	}
	cart, err := tx.Carts().FindActiveByOwner(ctx, ownerID)
	if errors.Is(err, apperr.ErrCartNotFound) {
		return nil, domain.CartLine{}, apperr.ErrLineOwnershipMismatch
	}
	if err != nil {
		return nil, domain.CartLine{}, err
	}
	if cart.ID() != cartID {
		return nil, domain.CartLine{}, apperr.ErrLineOwnershipMismatch
	}
	line, ok := cart.Line(lineID)
	if !ok {
		return nil, domain.CartLine{}, apperr.NotFound(apperr.CodeLineNotFound, "cart line %s not found", lineID)
	}
	return cart, line, nil
}

func checkStock(ctx context.Context, tx storage.Tx, productID, productName string, requested int) error {
	ledger, err := tx.Stock().Get(ctx, productID)
	if err != nil {
		return err
	}
	if !ledger.HasSufficient(requested) {
		return &apperr.InsufficientStockError{
			ProductID:   productID,
			ProductName: productName,
			Available:   ledger.Quantity,
			Requested:   requested,
		}
	}
	return nil
}

func (s *CartService) finish(ctx context.Context, op, ownerID string, err error) {
	s.metrics.CartOperation(op, err)
	if err != nil {
		s.log.InfoContext(ctx, "cart operation rejected",
			slog.String("op", op),
			slog.String("owner_id", ownerID),
			slog.String("code", apperr.CodeOf(err)),
			slog.String("error", err.Error()))
		return
	}
	s.Invalidate(ownerID)
}
