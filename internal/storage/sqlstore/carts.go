package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/cart/domain"
	"github.com/fjod/go_store/internal/money"
)

type cartRepo struct{ t *tx }

func (r cartRepo) FindActiveByOwner(ctx context.Context, ownerID string) (*domain.Cart, error) {
	query := `SELECT id, owner_id, status, currency, created_at, updated_at
	          FROM carts WHERE owner_id = $1 AND status = 'ACTIVE'` + r.t.forUpdate()

	var rec domain.Record
	err := r.t.tx.QueryRowContext(ctx, query, ownerID).Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Status,
		&rec.Currency,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeCartNotFound, "no active cart for owner %s", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("query active cart: %w", err)
	}
	rec.CreatedAt, rec.UpdatedAt = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()

	rec.Lines, err = r.lines(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return domain.Restore(rec)
}

func (r cartRepo) lines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	query := `SELECT id, product_id, quantity, unit_price, currency
	          FROM cart_lines WHERE cart_id = $1 ORDER BY position`

	rows, err := r.t.tx.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var (
			l        domain.CartLine
			price    string
			currency string
		)
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Quantity, &price, &currency); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if l.UnitPrice, err = money.Parse(price, currency); err != nil {
			return nil, fmt.Errorf("cart line %s price: %w", l.ID, err)
		}
		l.CartID = cartID
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (r cartRepo) FindLineCartID(ctx context.Context, lineID string) (string, error) {
	var cartID string
	err := r.t.tx.QueryRowContext(ctx, `SELECT cart_id FROM cart_lines WHERE id = $1`, lineID).Scan(&cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound(apperr.CodeLineNotFound, "cart line %s not found", lineID)
	}
	if err != nil {
		return "", fmt.Errorf("query cart line: %w", err)
	}
	return cartID, nil
}

func (r cartRepo) Create(ctx context.Context, c *domain.Cart) error {
	query := `INSERT INTO carts (id, owner_id, status, currency, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.t.tx.ExecContext(ctx, query,
		c.ID(),
		c.OwnerID(),
		c.Status().String(),
		c.Currency(),
		c.CreatedAt().UTC(),
		c.UpdatedAt().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrActiveCartExists
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return r.insertLines(ctx, c)
}

// Save writes the cart root and replaces all of its lines.
func (r cartRepo) Save(ctx context.Context, c *domain.Cart) error {
	res, err := r.t.tx.ExecContext(ctx,
		`UPDATE carts SET status = $1, updated_at = $2 WHERE id = $3`,
		c.Status().String(), c.UpdatedAt().UTC(), c.ID())
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound(apperr.CodeCartNotFound, "cart %s not found", c.ID())
	}

	if _, err := r.t.tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, c.ID()); err != nil {
		return fmt.Errorf("delete cart lines: %w", err)
	}
	return r.insertLines(ctx, c)
}

func (r cartRepo) insertLines(ctx context.Context, c *domain.Cart) error {
	query := `INSERT INTO cart_lines (id, cart_id, product_id, quantity, unit_price, currency, position)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for i, l := range c.Lines() {
		_, err := r.t.tx.ExecContext(ctx, query,
			l.ID,
			c.ID(),
			l.ProductID,
			l.Quantity,
			l.UnitPrice.Amount().StringFixed(2),
			l.UnitPrice.Currency(),
			i,
		)
		if err != nil {
			return fmt.Errorf("insert cart line: %w", err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
