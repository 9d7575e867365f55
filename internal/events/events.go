// Package events defines the domain events written to the outbox together
// with the state change that produced them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_store/internal/money"
	"github.com/google/uuid"
)

const (
	TypeOrderCreated   = "order.created"
	TypeOrderPaid      = "order.paid"
	TypeOrderShipped   = "order.shipped"
	TypeOrderDelivered = "order.delivered"
	TypeOrderCanceled  = "order.canceled"
	TypeStockUpdated   = "stock.updated"
)

type Event struct {
	ID          string          `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

func New(eventType, aggregateID string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  now,
		Payload:     data,
	}, nil
}

type OrderLine struct {
	ProductID   string      `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
}

type OrderCreated struct {
	OrderID   string      `json:"order_id"`
	OwnerID   string      `json:"owner_id"`
	CartID    string      `json:"cart_id"`
	Total     money.Money `json:"total"`
	ItemCount int         `json:"item_count"`
	Lines     []OrderLine `json:"lines"`
}

type OrderStatusChanged struct {
	OrderID string    `json:"order_id"`
	OwnerID string    `json:"owner_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

type StockUpdated struct {
	ProductID   string `json:"product_id"`
	Operation   string `json:"operation"`
	Reason      string `json:"reason,omitempty"`
	OldQuantity int    `json:"old_quantity"`
	NewQuantity int    `json:"new_quantity"`
}
