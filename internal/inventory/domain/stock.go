package domain

import (
	"math"
	"time"

	"github.com/fjod/go_store/internal/apperr"
)

// DefaultLowStockThreshold is the quantity at or below which a product is
// reported as running low.
const DefaultLowStockThreshold = 5

// MaxQuantity bounds both a single movement and the level a ledger can hold,
// so quantities fit the INTEGER stock column on every backend.
const MaxQuantity = math.MaxInt32

// Ledger is the available quantity of one product. A product that never
// received stock has a zero Ledger with Exists == false.
type Ledger struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
	Exists    bool      `json:"-"`
}

// Empty is the explicit zero state for a product without a ledger row.
func Empty(productID string) Ledger {
	return Ledger{ProductID: productID}
}

// Change describes one ledger mutation for logs, metrics and events.
type Change struct {
	ProductID string `json:"product_id"`
	Operation string `json:"operation"`
	Reason    string `json:"reason,omitempty"`
	Old       int    `json:"old_quantity"`
	New       int    `json:"new_quantity"`
}

const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpAdjust  = "adjust"
	OpRelease = "release"
	OpSale    = "sale"
)

func (l Ledger) HasSufficient(qty int) bool {
	return l.Quantity >= qty
}

func (l Ledger) IsOutOfStock() bool {
	return l.Quantity == 0
}

func (l Ledger) IsLow(threshold int) bool {
	return l.Quantity <= threshold
}

func (l Ledger) Add(qty int, now time.Time) (Ledger, error) {
	if err := ValidateQuantity(qty); err != nil {
		return l, err
	}
	if l.Quantity > MaxQuantity-qty {
		return l, ExceedsMaxError(l.Quantity, qty)
	}
	l.Quantity += qty
	l.UpdatedAt = now
	l.Exists = true
	return l, nil
}

func (l Ledger) Remove(qty int, now time.Time) (Ledger, error) {
	if err := ValidateQuantity(qty); err != nil {
		return l, err
	}
	if qty > l.Quantity {
		return l, &apperr.InsufficientStockError{ProductID: l.ProductID, Available: l.Quantity, Requested: qty}
	}
	l.Quantity -= qty
	l.UpdatedAt = now
	return l, nil
}

func (l Ledger) Adjust(newQty int, now time.Time) (Ledger, error) {
	if err := ValidateLevel(newQty); err != nil {
		return l, err
	}
	l.Quantity = newQty
	l.UpdatedAt = now
	l.Exists = true
	return l, nil
}

func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return apperr.InvalidArgument(apperr.CodeInvalidQuantity, "quantity must be greater than zero: %d", qty)
	}
	if qty > MaxQuantity {
		return apperr.InvalidArgument(apperr.CodeInvalidQuantity, "quantity must not exceed %d: %d", MaxQuantity, qty)
	}
	return nil
}

// ValidateLevel checks an absolute stock level, where zero is allowed.
func ValidateLevel(qty int) error {
	if qty < 0 {
		return apperr.InvalidArgument(apperr.CodeInvalidQuantity, "stock quantity must not be negative: %d", qty)
	}
	if qty > MaxQuantity {
		return apperr.InvalidArgument(apperr.CodeInvalidQuantity, "stock quantity must not exceed %d: %d", MaxQuantity, qty)
	}
	return nil
}

func ExceedsMaxError(current, qty int) error {
	return apperr.InvalidArgument(apperr.CodeInvalidQuantity,
		"adding %d to %d units would exceed the maximum stock of %d", qty, current, MaxQuantity)
}
