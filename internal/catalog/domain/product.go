package domain

import (
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/money"
)

type Product struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       money.Money `json:"price"`
	Active      bool        `json:"active"`
	ImageURL    string      `json:"image_url"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Reprice changes the catalog price. Carts and orders keep the unit price
// they captured, so only later additions see the new value.
func (p *Product) Reprice(price money.Money) error {
	if price.Currency() != p.Price.Currency() {
		return apperr.InvalidArgument(apperr.CodeCurrencyMismatch,
			"product %s is priced in %s, got %s", p.ID, p.Price.Currency(), price.Currency())
	}
	p.Price = price
	return nil
}
