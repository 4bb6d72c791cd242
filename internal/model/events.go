package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated             EventType = "order.created"
	EventOrderStatusChanged       EventType = "order.status_changed"
	EventPaymentAfterCancellation EventType = "order.payment_after_cancellation"
)

// OrderEvent is the payload handed to the event publishers.
type OrderEvent struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	OrderID        string          `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	UserID         string          `json:"userId"`
	Status         Status          `json:"status"`
	PreviousStatus Status          `json:"previousStatus,omitempty"`
	Note           string          `json:"note,omitempty"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus,omitempty"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	OccurredAt     time.Time       `json:"occurredAt"`
}
