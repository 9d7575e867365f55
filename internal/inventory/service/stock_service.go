package service

import (
	"context"
	"log/slog"
	"time"

	catalog "github.com/fjod/go_store/internal/catalog/repository"
	"github.com/fjod/go_store/internal/events"
	"github.com/fjod/go_store/internal/inventory/domain"
	"github.com/fjod/go_store/internal/metrics"
	"github.com/fjod/go_store/internal/storage"
)

// StockView is a ledger plus the derived low/out-of-stock flags.
type StockView struct {
	domain.Ledger
	Low        bool `json:"low"`
	OutOfStock bool `json:"out_of_stock"`
}

type StockService struct {
	store        storage.Store
	catalog      catalog.Catalog
	log          *slog.Logger
	metrics      *metrics.Metrics
	lowThreshold int
	now          func() time.Time
}

func NewStockService(store storage.Store, cat catalog.Catalog, log *slog.Logger, m *metrics.Metrics) *StockService {
	return &StockService{
		store:        store,
		catalog:      cat,
		log:          log,
		metrics:      m,
		lowThreshold: domain.DefaultLowStockThreshold,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *StockService) WithLowThreshold(n int) *StockService {
	s.lowThreshold = n
	return s
}

func (s *StockService) AddStock(ctx context.Context, productID string, qty int, reason string) (domain.Ledger, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Ledger{}, err
	}
	return s.mutate(ctx, productID, reason, func(ctx context.Context, repo storage.StockRepository, now time.Time) (domain.Change, error) {
		return repo.Increment(ctx, productID, qty, now)
	})
}

// RemoveStock fails with *apperr.InsufficientStockError, leaving the ledger
// unchanged, when qty exceeds what is available.
func (s *StockService) RemoveStock(ctx context.Context, productID string, qty int, reason string) (domain.Ledger, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Ledger{}, err
	}
	return s.mutate(ctx, productID, reason, func(ctx context.Context, repo storage.StockRepository, now time.Time) (domain.Change, error) {
		return repo.Decrement(ctx, productID, qty, now)
	})
}

// AdjustStock sets the quantity directly. Meant for inventory corrections.
func (s *StockService) AdjustStock(ctx context.Context, productID string, newQty int, reason string) (domain.Ledger, error) {
	if err := domain.ValidateLevel(newQty); err != nil {
		return domain.Ledger{}, err
	}
	return s.mutate(ctx, productID, reason, func(ctx context.Context, repo storage.StockRepository, now time.Time) (domain.Change, error) {
		return repo.Set(ctx, productID, newQty, now)
	})
}

func (s *StockService) GetStock(ctx context.Context, productID string) (StockView, error) {
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return StockView{}, err
	}

	var ledger domain.Ledger
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		ledger, err = tx.Stock().Get(ctx, productID)
		return err
	})
	if err != nil {
		return StockView{}, err
	}
	return StockView{
		Ledger:     ledger,
		Low:        ledger.IsLow(s.lowThreshold),
		OutOfStock: ledger.IsOutOfStock(),
	}, nil
}

// HasSufficientStock treats a product without a ledger as having zero units.
func (s *StockService) HasSufficientStock(ctx context.Context, productID string, qty int) (bool, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return false, err
	}
	view, err := s.GetStock(ctx, productID)
	if err != nil {
		return false, err
	}
	return view.HasSufficient(qty), nil
}

type mutation func(ctx context.Context, repo storage.StockRepository, now time.Time) (domain.Change, error)

func (s *StockService) mutate(ctx context.Context, productID, reason string, fn mutation) (domain.Ledger, error) {
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return domain.Ledger{}, err
	}

	now := s.now()
	var (
		change domain.Change
		ledger domain.Ledger
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		change, err = fn(ctx, tx.Stock(), now)
		if err != nil {
			return err
		}
		change.Reason = reason
		if err := AppendStockEvent(ctx, tx.Events(), change, now); err != nil {
			return err
		}
		ledger, err = tx.Stock().Get(ctx, productID)
		return err
	})
	if err != nil {
		s.log.WarnContext(ctx, "stock mutation rejected",
			slog.String("product_id", productID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return domain.Ledger{}, err
	}

	s.Observe(ctx, change)
	return ledger, nil
}

// Observe logs and counts ledger changes once their unit of work committed.
func (s *StockService) Observe(ctx context.Context, changes ...domain.Change) {
	for _, c := range changes {
		s.log.InfoContext(ctx, "stock updated",
			slog.String("product_id", c.ProductID),
			slog.String("op", c.Operation),
			slog.String("reason", c.Reason),
			slog.Int("old_quantity", c.Old),
			slog.Int("new_quantity", c.New))
		s.metrics.StockChanged(c.Operation, c.ProductID, c.New)
	}
}

// AppendStockEvent writes a stock.updated event for change to the outbox of
// the current unit of work.
func AppendStockEvent(ctx context.Context, w storage.EventWriter, change domain.Change, now time.Time) error {
	ev, err := events.New(events.TypeStockUpdated, change.ProductID, events.StockUpdated{
		ProductID:   change.ProductID,
		Operation:   change.Operation,
		Reason:      change.Reason,
		OldQuantity: change.Old,
		NewQuantity: change.New,
	}, now)
	if err != nil {
		return err
	}
	return w.Append(ctx, ev)
}
