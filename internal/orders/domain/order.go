package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/money"
)

// OrderLine is the permanent copy of a cart line. Name and price are the
// values at order creation.
type OrderLine struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id"`
	ProductID   string      `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	Subtotal    money.Money `json:"subtotal"`
}

type LineInput struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   money.Money
}

type NewOrderParams struct {
	ID              string
	OwnerID         string
	CartID          string
	Currency        string
	Lines           []LineInput
	ShippingFee     money.Money
	Discount        money.Money
	ShippingAddress string
	Notes           string
	Now             time.Time
}

// Order lines are fixed at creation. After that only the status and its
// timestamps change, through the transition methods.
type Order struct {
	id              string
	ownerID         string
	cartID          string
	status          OrderStatus
	currency        string
	lines           []OrderLine
	subtotal        money.Money
	shippingFee     money.Money
	discount        money.Money
	total           money.Money
	itemCount       int
	shippingAddress string
	notes           string
	createdAt       time.Time
	updatedAt       time.Time
	paidAt          *time.Time
	shippedAt       *time.Time
	deliveredAt     *time.Time
	canceledAt      *time.Time
}

func NewOrder(p NewOrderParams) (*Order, error) {
	if len(p.Lines) == 0 {
		return nil, apperr.ErrEmptyCart
	}
	currency := p.Currency
	if currency == "" {
		currency = money.DefaultCurrency
	}

	lines := make([]OrderLine, 0, len(p.Lines))
	for _, in := range p.Lines {
		if in.Quantity < 1 {
			return nil, apperr.InvalidArgument(apperr.CodeInvalidQuantity, "order line quantity must be at least 1: %d", in.Quantity)
		}
		lines = append(lines, OrderLine{
			ID:          in.ID,
			OrderID:     p.ID,
			ProductID:   in.ProductID,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		})
	}

	o := &Order{
		id:              p.ID,
		ownerID:         p.OwnerID,
		cartID:          p.CartID,
		status:          OrderStatusCreated,
		currency:        currency,
		lines:           lines,
		shippingFee:     orZero(p.ShippingFee, currency),
		discount:        orZero(p.Discount, currency),
		shippingAddress: p.ShippingAddress,
		notes:           p.Notes,
		createdAt:       p.Now,
		updatedAt:       p.Now,
	}
	if err := o.recalculate(); err != nil {
		return nil, err
	}
	return o, nil
}

func orZero(m money.Money, currency string) money.Money {
	if m.IsZero() {
		return money.Zero(currency)
	}
	return m
}

// recalculate derives line subtotals, subtotal, total and item count from the
// lines. total = subtotal + shipping - discount.
func (o *Order) recalculate() error {
	subtotal := money.Zero(o.currency)
	count := 0
	for i := range o.lines {
		lineTotal, err := o.lines[i].UnitPrice.Multiply(o.lines[i].Quantity)
		if err != nil {
			return err
		}
		o.lines[i].Subtotal = lineTotal
		if subtotal, err = subtotal.Add(lineTotal); err != nil {
			return err
		}
		count += o.lines[i].Quantity
	}

	withShipping, err := subtotal.Add(o.shippingFee)
	if err != nil {
		return err
	}
	total, err := withShipping.Subtract(o.discount)
	if err != nil {
		return err
	}

	o.subtotal = subtotal
	o.total = total
	o.itemCount = count
	return nil
}

func (o *Order) ID() string { return o.id }
func (o *Order) OwnerID() string { return o.ownerID }
func (o *Order) CartID() string { return o.cartID }
func (o *Order) Status() OrderStatus { return o.status }
func (o *Order) Currency() string { return o.currency }
func (o *Order) Subtotal() money.Money { return o.subtotal }
func (o *Order) ShippingFee() money.Money { return o.shippingFee }
func (o *Order) Discount() money.Money { return o.discount }
func (o *Order) Total() money.Money { return o.total }
func (o *Order) ItemCount() int { return o.itemCount }
func (o *Order) ShippingAddress() string { return o.shippingAddress }
func (o *Order) Notes() string { return o.notes }
func (o *Order) CreatedAt() time.Time { return o.createdAt }
func (o *Order) UpdatedAt() time.Time { return o.updatedAt }
func (o *Order) PaidAt() *time.Time { return o.paidAt }
func (o *Order) ShippedAt() *time.Time { return o.shippedAt }
func (o *Order) DeliveredAt() *time.Time { return o.deliveredAt }
func (o *Order) CanceledAt() *time.Time { return o.canceledAt }

func (o *Order) Lines() []OrderLine {
	out := make([]OrderLine, len(o.lines))
	copy(out, o.lines)
	return out
}

func (o *Order) Pay(now time.Time) error {
	if err := o.transition(OrderStatusPaid, now); err != nil {
		return err
	}
	o.paidAt = &now
	return nil
}

func (o *Order) MarkShipped(now time.Time) error {
	if err := o.transition(OrderStatusShipped, now); err != nil {
		return err
	}
	o.shippedAt = &now
	return nil
}

func (o *Order) MarkDelivered(now time.Time) error {
	if err := o.transition(OrderStatusDelivered, now); err != nil {
		return err
	}
	o.deliveredAt = &now
	return nil
}

// Cancel never touches stock. Releasing quantities is the caller's policy.
func (o *Order) Cancel(now time.Time) error {
	if err := o.transition(OrderStatusCanceled, now); err != nil {
		return err
	}
	o.canceledAt = &now
	return nil
}

func (o *Order) transition(to OrderStatus, now time.Time) error {
	if !o.status.CanTransitionTo(to) {
		return &apperr.IllegalTransitionError{From: o.status.String(), To: to.String()}
	}
	o.status = to
	o.updatedAt = now
	return nil
}

// Record is the persisted shape of an order.
type Record struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"owner_id"`
	CartID          string      `json:"cart_id"`
	Status          OrderStatus `json:"status"`
	Currency        string      `json:"currency"`
	Lines           []OrderLine `json:"lines"`
	Subtotal        money.Money `json:"subtotal"`
	ShippingFee     money.Money `json:"shipping_fee"`
	Discount        money.Money `json:"discount"`
	Total           money.Money `json:"total"`
	ItemCount       int         `json:"item_count"`
	ShippingAddress string      `json:"shipping_address"`
	Notes           string      `json:"notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
	ShippedAt       *time.Time  `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time  `json:"delivered_at,omitempty"`
	CanceledAt      *time.Time  `json:"canceled_at,omitempty"`
}

func (o *Order) Record() Record {
	return Record{
		ID:              o.id,
		OwnerID:         o.ownerID,
		CartID:          o.cartID,
		Status:          o.status,
		Currency:        o.currency,
		Lines:           o.Lines(),
		Subtotal:        o.subtotal,
		ShippingFee:     o.shippingFee,
		Discount:        o.discount,
		Total:           o.total,
		ItemCount:       o.itemCount,
		ShippingAddress: o.shippingAddress,
		Notes:           o.notes,
		CreatedAt:       o.createdAt,
		UpdatedAt:       o.updatedAt,
		PaidAt:          o.paidAt,
		ShippedAt:       o.shippedAt,
		DeliveredAt:     o.deliveredAt,
		CanceledAt:      o.canceledAt,
	}
}

// Restore rebuilds an order from storage. Subtotal, total and item count are
// derived from the stored lines; the stored values are ignored.
func Restore(rec Record) (*Order, error) {
	if !rec.Status.IsValid() {
		return nil, fmt.Errorf("restore order %s: unknown status %q", rec.ID, rec.Status)
	}
	currency := rec.Currency
	if currency == "" {
		currency = money.DefaultCurrency
	}
	lines := make([]OrderLine, len(rec.Lines))
	copy(lines, rec.Lines)
	for i := range lines {
		lines[i].OrderID = rec.ID
	}

	o := &Order{
		id:              rec.ID,
		ownerID:         rec.OwnerID,
		cartID:          rec.CartID,
		status:          rec.Status,
		currency:        currency,
		lines:           lines,
		shippingFee:     orZero(rec.ShippingFee, currency),
		discount:        orZero(rec.Discount, currency),
		shippingAddress: rec.ShippingAddress,
		notes:           rec.Notes,
		createdAt:       rec.CreatedAt,
		updatedAt:       rec.UpdatedAt,
		paidAt:          rec.PaidAt,
		shippedAt:       rec.ShippedAt,
		deliveredAt:     rec.DeliveredAt,
		canceledAt:      rec.CanceledAt,
	}
	if err := o.recalculate(); err != nil {
		return nil, fmt.Errorf("restore order %s: %w", rec.ID, err)
	}
	return o, nil
}

func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Record())
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	restored, err := Restore(rec)
	if err != nil {
		return err
	}
	*o = *restored
	return nil
}
