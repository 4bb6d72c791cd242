// models.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodAirtelMoney PaymentMethod = "airtel-money"
	PaymentMethodMpamba      PaymentMethod = "mpamba"
	PaymentMethodCard        PaymentMethod = "card"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodAirtelMoney, PaymentMethodMpamba, PaymentMethodCard:
		return true
	}
	return false
}

// IsMobileMoney reports whether the gateway needs the payer's phone number.
func (m PaymentMethod) IsMobileMoney() bool {
	return m == PaymentMethodAirtelMoney || m == PaymentMethodMpamba
}

type Order struct {
	ID              string          `bson:"_id" json:"id"`
	OrderNumber     string          `bson:"order_number" json:"orderNumber"`
	UserID          string          `bson:"user_id" json:"userId"`
	Items           []OrderItem     `bson:"items" json:"items"`
	ShippingAddress ShippingAddress `bson:"shipping_address" json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `bson:"payment_method" json:"paymentMethod"`

	ItemsPrice    decimal.Decimal `bson:"items_price" json:"itemsPrice"`
	ShippingPrice decimal.Decimal `bson:"shipping_price" json:"shippingPrice"`
	TotalPrice    decimal.Decimal `bson:"total_price" json:"totalPrice"`

	Status        Status         `bson:"status" json:"status"`
	StatusHistory []StatusRecord `bson:"status_history" json:"statusHistory"`

	PaymentResult PaymentResult `bson:"payment_result" json:"paymentResult"`
	// every txRef ever issued for this order, current one included
	TxRefs []string `bson:"tx_refs" json:"-"`

	IsPaid             bool       `bson:"is_paid" json:"isPaid"`
	PaidAt             *time.Time `bson:"paid_at,omitempty" json:"paidAt,omitempty"`
	DeliveredAt        *time.Time `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	CancelledAt        *time.Time `bson:"cancelled_at,omitempty" json:"cancelledAt,omitempty"`
	CancellationReason string     `bson:"cancellation_reason,omitempty" json:"cancellationReason,omitempty"`

	ReservationID string `bson:"reservation_id" json:"-"`

	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// OrderItem snapshots are frozen at creation; they are never re-read from the catalog.
type OrderItem struct {
	ProductRef string          `bson:"product_ref" json:"productRef"`
	Name       string          `bson:"name" json:"name"`
	Image      string          `bson:"image,omitempty" json:"image,omitempty"`
	Price      decimal.Decimal `bson:"price" json:"price"`
	Quantity   int             `bson:"quantity" json:"quantity"`
}

type ShippingAddress struct {
	FullName string `bson:"full_name" json:"fullName"`
	Phone    string `bson:"phone" json:"phone"`
	Street   string `bson:"street" json:"street"`
	City     string `bson:"city" json:"city"`
	District string `bson:"district" json:"district"`
	Country  string `bson:"country" json:"country"`
	Notes    string `bson:"notes,omitempty" json:"notes,omitempty"`
}

type StatusRecord struct {
	Status    Status    `bson:"status" json:"status"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Note      string    `bson:"note,omitempty" json:"note,omitempty"`
	Actor     string    `bson:"actor,omitempty" json:"actor,omitempty"`
}

type PaymentResult struct {
	ExternalRef    string        `bson:"external_ref,omitempty" json:"externalRef,omitempty"`
	ExternalStatus PaymentStatus `bson:"external_status" json:"externalStatus"`
	UpdatedAt      time.Time     `bson:"updated_at,omitempty" json:"updatedAt,omitempty"`
	TransactionID  string        `bson:"transaction_id,omitempty" json:"transactionId,omitempty"`
}

// Product is the slice of the external catalog record this service reads.
type Product struct {
	ID    string          `bson:"_id" json:"id"`
	Name  string          `bson:"name" json:"name"`
	Image string          `bson:"image,omitempty" json:"image,omitempty"`
	Price decimal.Decimal `bson:"price" json:"price"`
	Stock int             `bson:"stock" json:"stock"`
}

type ReservationLine struct {
	ProductRef string `bson:"product_ref" json:"productRef"`
	Quantity   int    `bson:"quantity" json:"quantity"`
}

// Reservation is the token handed out by the inventory coordinator.
type Reservation struct {
	ID         string            `bson:"_id" json:"id"`
	OrderID    string            `bson:"order_id" json:"orderId"`
	Lines      []ReservationLine `bson:"lines" json:"lines"`
	Released   bool              `bson:"released" json:"released"`
	CreatedAt  time.Time         `bson:"created_at" json:"createdAt"`
	ReleasedAt *time.Time        `bson:"released_at,omitempty" json:"releasedAt,omitempty"`
}

func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.Lines = append([]ReservationLine(nil), r.Lines...)
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		c.ReleasedAt = &t
	}
	return &c
}
