package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/money"
	"github.com/fjod/go_store/internal/orders/domain"
)

type orderRepo struct{ t *tx }

const orderColumns = `id, owner_id, cart_id, status, currency, shipping_fee, discount, shipping_address, notes,
	created_at, updated_at, paid_at, shipped_at, delivered_at, canceled_at`

func (r orderRepo) Create(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (id, owner_id, cart_id, status, currency, subtotal, shipping_fee, discount, total,
	              item_count, shipping_address, notes, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.t.tx.ExecContext(ctx, query,
		o.ID(),
		o.OwnerID(),
		o.CartID(),
		o.Status().String(),
		o.Currency(),
		o.Subtotal().Amount().StringFixed(2),
		o.ShippingFee().Amount().StringFixed(2),
		o.Discount().Amount().StringFixed(2),
		o.Total().Amount().StringFixed(2),
		o.ItemCount(),
		o.ShippingAddress(),
		o.Notes(),
		o.CreatedAt().UTC(),
		o.UpdatedAt().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `INSERT INTO order_lines (id, order_id, product_id, product_name, quantity, unit_price, currency, position)
	              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, l := range o.Lines() {
		_, err := r.t.tx.ExecContext(ctx, lineQuery,
			l.ID,
			o.ID(),
			l.ProductID,
			l.ProductName,
			l.Quantity,
			l.UnitPrice.Amount().StringFixed(2),
			l.UnitPrice.Currency(),
			i,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (r orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + r.t.forUpdate()

	rec, err := scanOrder(r.t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return r.restore(ctx, rec)
}

// UpdateStatus is a compare-and-set on the status column.
func (r orderRepo) UpdateStatus(ctx context.Context, o *domain.Order, from domain.OrderStatus) error {
	query := `UPDATE orders
	          SET status = $1, updated_at = $2, paid_at = $3, shipped_at = $4, delivered_at = $5, canceled_at = $6
	          WHERE id = $7 AND status = $8`

	res, err := r.t.tx.ExecContext(ctx, query,
		o.Status().String(),
		o.UpdatedAt().UTC(),
		nullTime(o.PaidAt()),
		nullTime(o.ShippedAt()),
		nullTime(o.DeliveredAt()),
		nullTime(o.CanceledAt()),
		o.ID(),
		from.String(),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = r.t.tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = $1`, o.ID()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", o.ID())
	}
	if err != nil {
		return fmt.Errorf("query order: %w", err)
	}
	return apperr.ErrConcurrentUpdate
}

func (r orderRepo) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query, ownerID)
}

func (r orderRepo) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query, status.String())
}

func (r orderRepo) list(ctx context.Context, query string, arg any) ([]*domain.Order, error) {
	rows, err := r.t.tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var recs []domain.Record
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	// a transaction runs one statement at a time, so lines are loaded after
	// the cursor is closed
	orders := make([]*domain.Order, 0, len(recs))
	for _, rec := range recs {
		o, err := r.restore(ctx, rec)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r orderRepo) restore(ctx context.Context, rec domain.Record) (*domain.Order, error) {
	query := `SELECT id, product_id, product_name, quantity, unit_price, currency
	          FROM order_lines WHERE order_id = $1 ORDER BY position`

	rows, err := r.t.tx.QueryContext(ctx, query, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l        domain.OrderLine
			price    string
			currency string
		)
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ProductName, &l.Quantity, &price, &currency); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		if l.UnitPrice, err = money.Parse(price, currency); err != nil {
			return nil, fmt.Errorf("order line %s price: %w", l.ID, err)
		}
		rec.Lines = append(rec.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return domain.Restore(rec)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Record, error) {
	var (
		rec                                        domain.Record
		shippingFee, discount                      string
		paidAt, shippedAt, deliveredAt, canceledAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.CartID,
		&rec.Status,
		&rec.Currency,
		&shippingFee,
		&discount,
		&rec.ShippingAddress,
		&rec.Notes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&paidAt,
		&shippedAt,
		&deliveredAt,
		&canceledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("scan order: %w", err)
	}

	if rec.ShippingFee, err = money.Parse(shippingFee, rec.Currency); err != nil {
		return rec, fmt.Errorf("order %s shipping fee: %w", rec.ID, err)
	}
	if rec.Discount, err = money.Parse(discount, rec.Currency); err != nil {
		return rec, fmt.Errorf("order %s discount: %w", rec.ID, err)
	}
	rec.CreatedAt, rec.UpdatedAt = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()
	rec.PaidAt = timePtr(paidAt)
	rec.ShippedAt = timePtr(shippedAt)
	rec.DeliveredAt = timePtr(deliveredAt)
	rec.CanceledAt = timePtr(canceledAt)
	return rec, nil
}
