package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/money"
)

type CartStatus string

const (
	CartStatusActive CartStatus = "ACTIVE"
	CartStatusClosed CartStatus = "CLOSED"
)

func (s CartStatus) String() string {
	return string(s)
}

// CartLine is one product in a cart. UnitPrice is the price captured when the
// line was created and is never refreshed.
type CartLine struct {
	ID        string      `json:"id"`
	CartID    string      `json:"cart_id"`
	ProductID string      `json:"product_id"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
	Subtotal  money.Money `json:"subtotal"`
}

func newLine(id, cartID, productID string, qty int, unitPrice money.Money) (CartLine, error) {
	l := CartLine{ID: id, CartID: cartID, ProductID: productID, UnitPrice: unitPrice}
	return l.withQuantity(qty)
}

// withQuantity is the only place a line's quantity changes, so the subtotal
// always follows it.
func (l CartLine) withQuantity(qty int) (CartLine, error) {
	if qty < 1 {
		return l, apperr.InvalidArgument(apperr.CodeInvalidQuantity, "quantity must be at least 1: %d", qty)
	}
	subtotal, err := l.UnitPrice.Multiply(qty)
	if err != nil {
		return l, err
	}
	l.Quantity = qty
	l.Subtotal = subtotal
	return l, nil
}

// Cart is the aggregate root for a customer's basket. Lines are only changed
// through Cart methods, each of which recomputes the totals before returning.
type Cart struct {
	id            string
	ownerID       string
	status        CartStatus
	currency      string
	lines         []CartLine
	totalValue    money.Money
	totalQuantity int
	createdAt     time.Time
	updatedAt     time.Time
}

func NewCart(id, ownerID, currency string, now time.Time) *Cart {
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return &Cart{
		id:         id,
		ownerID:    ownerID,
		status:     CartStatusActive,
		currency:   currency,
		totalValue: money.Zero(currency),
		createdAt:  now,
		updatedAt:  now,
	}
}

func (c *Cart) ID() string { return c.id }
func (c *Cart) OwnerID() string { return c.ownerID }
func (c *Cart) Status() CartStatus { return c.status }
func (c *Cart) Currency() string { return c.currency }
func (c *Cart) TotalValue() money.Money { return c.totalValue }
func (c *Cart) TotalQuantity() int { return c.totalQuantity }
func (c *Cart) CreatedAt() time.Time { return c.createdAt }
func (c *Cart) UpdatedAt() time.Time { return c.updatedAt }
func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }
func (c *Cart) IsActive() bool { return c.status == CartStatusActive }

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Line(lineID string) (CartLine, bool) {
	for _, l := range c.lines {
		if l.ID == lineID {
			return l, true
		}
	}
	return CartLine{}, false
}

func (c *Cart) LineForProduct(productID string) (CartLine, bool) {
	for _, l := range c.lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return CartLine{}, false
}

// AddItem increments the existing line for productID or appends a new one
// priced at unitPrice. newLineID is only used when a line is created.
func (c *Cart) AddItem(newLineID, productID string, qty int, unitPrice money.Money, now time.Time) (CartLine, error) {
	if err := c.ensureActive(); err != nil {
		return CartLine{}, err
	}
	if qty < 1 {
		return CartLine{}, apperr.InvalidArgument(apperr.CodeInvalidQuantity, "quantity must be at least 1: %d", qty)
	}

	lines := c.Lines()
	var line CartLine
	idx := c.indexOfProduct(productID)
	if idx >= 0 {
		updated, err := lines[idx].withQuantity(lines[idx].Quantity + qty)
		if err != nil {
			return CartLine{}, err
		}
		lines[idx] = updated
		line = updated
	} else {
		created, err := newLine(newLineID, c.id, productID, qty, unitPrice)
		if err != nil {
			return CartLine{}, err
		}
		lines = append(lines, created)
		line = created
	}

	if err := c.replaceLines(lines, now); err != nil {
		return CartLine{}, err
	}
	return line, nil
}

func (c *Cart) UpdateQuantity(lineID string, qty int, now time.Time) (CartLine, error) {
	if err := c.ensureActive(); err != nil {
		return CartLine{}, err
	}
	idx := c.indexOfLine(lineID)
	if idx < 0 {
		return CartLine{}, apperr.NotFound(apperr.CodeLineNotFound, "cart line %s not found", lineID)
	}

	lines := c.Lines()
	updated, err := lines[idx].withQuantity(qty)
	if err != nil {
		return CartLine{}, err
	}
	lines[idx] = updated

	if err := c.replaceLines(lines, now); err != nil {
		return CartLine{}, err
	}
	return updated, nil
}

func (c *Cart) RemoveLine(lineID string, now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	idx := c.indexOfLine(lineID)
	if idx < 0 {
		return apperr.NotFound(apperr.CodeLineNotFound, "cart line %s not found", lineID)
	}

	lines := c.Lines()
	lines = append(lines[:idx], lines[idx+1:]...)
	return c.replaceLines(lines, now)
}

func (c *Cart) Clear(now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	return c.replaceLines(nil, now)
}

// Close marks the cart as checked out. A closed cart is never reopened.
func (c *Cart) Close(now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	c.status = CartStatusClosed
	c.updatedAt = now
	return nil
}

func (c *Cart) ensureActive() error {
	if c.status != CartStatusActive {
		return apperr.InvalidState(apperr.CodeCartNotActive, "cart %s is %s", c.id, c.status)
	}
	return nil
}

func (c *Cart) indexOfLine(lineID string) int {
	for i, l := range c.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfProduct(productID string) int {
	for i, l := range c.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// replaceLines installs lines and recomputes the totals. The cart is left
// untouched when the totals cannot be computed.
func (c *Cart) replaceLines(lines []CartLine, now time.Time) error {
	total := money.Zero(c.currency)
	quantity := 0
	for _, l := range lines {
		var err error
		total, err = total.Add(l.Subtotal)
		if err != nil {
			return err
		}
		quantity += l.Quantity
	}

	c.lines = lines
	c.totalValue = total
	c.totalQuantity = quantity
	c.updatedAt = now
	return nil
}

// Record is the persisted shape of a cart. Totals are not part of it; they are
// derived again by Restore.
type Record struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Status    CartStatus `json:"status"`
	Currency  string     `json:"currency"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Cart) Record() Record {
	return Record{
		ID:        c.id,
		OwnerID:   c.ownerID,
		Status:    c.status,
		Currency:  c.currency,
		Lines:     c.Lines(),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

// Restore rebuilds a cart from storage, recomputing every subtotal and total.
func Restore(rec Record) (*Cart, error) {
	if rec.Status != CartStatusActive && rec.Status != CartStatusClosed {
		return nil, fmt.Errorf("restore cart %s: unknown status %q", rec.ID, rec.Status)
	}
	c := NewCart(rec.ID, rec.OwnerID, rec.Currency, rec.CreatedAt)
	c.status = rec.Status

	lines := make([]CartLine, 0, len(rec.Lines))
	for _, l := range rec.Lines {
		restored, err := newLine(l.ID, rec.ID, l.ProductID, l.Quantity, l.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("restore cart %s line %s: %w", rec.ID, l.ID, err)
		}
		lines = append(lines, restored)
	}
	if err := c.replaceLines(lines, rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("restore cart %s: %w", rec.ID, err)
	}
	return c, nil
}

type cartJSON struct {
	Record
	TotalValue    money.Money `json:"total_value"`
	TotalQuantity int         `json:"total_quantity"`
}

func (c *Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(cartJSON{
		Record:        c.Record(),
		TotalValue:    c.totalValue,
		TotalQuantity: c.totalQuantity,
	})
}

func (c *Cart) UnmarshalJSON(data []byte) error {
	var raw cartJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restored, err := Restore(raw.Record)
	if err != nil {
		return err
	}
	*c = *restored
	return nil
}
