package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/inventory/domain"
)

type stockRepo struct{ t *tx }

func (r stockRepo) Get(ctx context.Context, productID string) (domain.Ledger, error) {
	l := domain.Empty(productID)
	err := r.t.tx.QueryRowContext(ctx,
		`SELECT quantity, updated_at FROM stock WHERE product_id = $1`, productID,
	).Scan(&l.Quantity, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Empty(productID), nil
	}
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("query stock: %w", err)
	}
	l.UpdatedAt = l.UpdatedAt.UTC()
	l.Exists = true
	return l, nil
}

func (r stockRepo) Increment(ctx context.Context, productID string, qty int, now time.Time) (domain.Change, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Change{}, err
	}

	// The upsert skips the update, returning no row, when the sum would pass
	// domain.MaxQuantity.
	query := `INSERT INTO stock (product_id, quantity, updated_at) VALUES ($1, $2, $3)
	          ON CONFLICT (product_id) DO UPDATE
	          SET quantity = stock.quantity + excluded.quantity, updated_at = excluded.updated_at
	          WHERE stock.quantity <= $4
	          RETURNING quantity`

	var newQty int
	err := r.t.tx.QueryRowContext(ctx, query, productID, qty, now.UTC(), domain.MaxQuantity-qty).Scan(&newQty)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, productID)
		if getErr != nil {
			return domain.Change{}, getErr
		}
		return domain.Change{}, domain.ExceedsMaxError(current.Quantity, qty)
	}
	if err != nil {
		return domain.Change{}, fmt.Errorf("increment stock: %w", err)
	}
	return domain.Change{ProductID: productID, Operation: domain.OpAdd, Old: newQty - qty, New: newQty}, nil
}

// Decrement is a single conditional UPDATE: the row only changes when enough
// units are left, so concurrent decrements can never go below zero.
func (r stockRepo) Decrement(ctx context.Context, productID string, qty int, now time.Time) (domain.Change, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Change{}, err
	}

	query := `UPDATE stock SET quantity = quantity - $1, updated_at = $2
	          WHERE product_id = $3 AND quantity >= $1
	          RETURNING quantity`

	var newQty int
	err := r.t.tx.QueryRowContext(ctx, query, qty, now.UTC(), productID).Scan(&newQty)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, productID)
		if getErr != nil {
			return domain.Change{}, getErr
		}
		return domain.Change{}, &apperr.InsufficientStockError{
			ProductID: productID,
			Available: current.Quantity,
			Requested: qty,
		}
	}
	if err != nil {
		return domain.Change{}, fmt.Errorf("decrement stock: %w", err)
	}
	return domain.Change{ProductID: productID, Operation: domain.OpRemove, Old: newQty + qty, New: newQty}, nil
}

func (r stockRepo) Set(ctx context.Context, productID string, qty int, now time.Time) (domain.Change, error) {
	if err := domain.ValidateLevel(qty); err != nil {
		return domain.Change{}, err
	}

	var old int
	err := r.t.tx.QueryRowContext(ctx,
		`SELECT quantity FROM stock WHERE product_id = $1`+r.t.forUpdate(), productID,
	).Scan(&old)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Change{}, fmt.Errorf("query stock: %w", err)
	}

	query := `INSERT INTO stock (product_id, quantity, updated_at) VALUES ($1, $2, $3)
	          ON CONFLICT (product_id) DO UPDATE
	          SET quantity = excluded.quantity, updated_at = excluded.updated_at`
	if _, err := r.t.tx.ExecContext(ctx, query, productID, qty, now.UTC()); err != nil {
		return domain.Change{}, fmt.Errorf("set stock: %w", err)
	}
	return domain.Change{ProductID: productID, Operation: domain.OpAdjust, Old: old, New: qty}, nil
}
