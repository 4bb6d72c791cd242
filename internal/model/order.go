package model

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"order-fulfillment-service/internal/apperr"
)

const DefaultCountry = "Malawi"

// NewOrderParams carries everything the aggregate needs at creation. Items must
// already hold catalog snapshots.
type NewOrderParams struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	ItemsPrice      decimal.Decimal
	ShippingPrice   decimal.Decimal
	TotalPrice      decimal.Decimal
	ReservationID   string
}

// NewOrder validates the price breakdown and freezes the order in pending.
func NewOrder(p NewOrderParams, now time.Time) (*Order, error) {
	if p.ID == "" {
		return nil, apperr.Validation("id", "is required")
	}
	if p.UserID == "" {
		return nil, apperr.Validation("userId", "is required")
	}
	if p.OrderNumber == "" {
		return nil, apperr.Validation("orderNumber", "is required")
	}
	if err := ValidateItems(p.Items); err != nil {
		return nil, err
	}
	if err := p.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	if !p.PaymentMethod.IsValid() {
		return nil, apperr.Validation("paymentMethod", fmt.Sprintf("unsupported method %q", p.PaymentMethod))
	}
	if err := ValidatePrices(p.Items, p.ItemsPrice, p.ShippingPrice, p.TotalPrice); err != nil {
		return nil, err
	}

	addr := p.ShippingAddress
	if addr.Country == "" {
		addr.Country = DefaultCountry
	}
	items := make([]OrderItem, len(p.Items))
	copy(items, p.Items)

	now = now.UTC()
	return &Order{
		ID:              p.ID,
		OrderNumber:     p.OrderNumber,
		UserID:          p.UserID,
		Items:           items,
		ShippingAddress: addr,
		PaymentMethod:   p.PaymentMethod,
		ItemsPrice:      p.ItemsPrice,
		ShippingPrice:   p.ShippingPrice,
		TotalPrice:      p.TotalPrice,
		Status:          StatusPending,
		StatusHistory: []StatusRecord{
			{Status: StatusPending, Timestamp: now, Note: "Order created", Actor: p.UserID},
		},
		PaymentResult: PaymentResult{ExternalStatus: PaymentUnknown},
		ReservationID: p.ReservationID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func ValidateItems(items []OrderItem) error {
	if len(items) == 0 {
		return apperr.Validation("items", "no order items provided")
	}
	for i, it := range items {
		if it.ProductRef == "" {
			return apperr.Validation(fmt.Sprintf("items[%d].productRef", i), "is required")
		}
		if it.Quantity < 1 {
			return apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if it.Price.IsNegative() {
			return apperr.Validation(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
	}
	return nil
}

// ValidatePrices enforces itemsPrice == Σ price*qty and totalPrice == itemsPrice + shippingPrice.
func ValidatePrices(items []OrderItem, itemsPrice, shippingPrice, totalPrice decimal.Decimal) error {
	if itemsPrice.IsNegative() || shippingPrice.IsNegative() || totalPrice.IsNegative() {
		return apperr.Validation("price", "prices must not be negative")
	}
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !sum.Equal(itemsPrice) {
		return apperr.Validation("itemsPrice", fmt.Sprintf("expected %s, got %s", sum.String(), itemsPrice.String()))
	}
	if !itemsPrice.Add(shippingPrice).Equal(totalPrice) {
		return apperr.Validation("totalPrice", fmt.Sprintf("expected %s, got %s",
			itemsPrice.Add(shippingPrice).String(), totalPrice.String()))
	}
	return nil
}

func (a ShippingAddress) Validate() error {
	required := []struct{ field, value string }{
		{"shippingAddress.fullName", a.FullName},
		{"shippingAddress.phone", a.Phone},
		{"shippingAddress.street", a.Street},
		{"shippingAddress.city", a.City},
		{"shippingAddress.district", a.District},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.Validation(r.field, "is required")
		}
	}
	return nil
}

// GenerateOrderNumber returns LS{YYYY}{MM}{6 digits}. Uniqueness is enforced by the store.
func GenerateOrderNumber(now time.Time) string {
	return fmt.Sprintf("LS%s%06d", now.UTC().Format("200601"), rand.IntN(1_000_000))
}

// Transition moves the order along the lifecycle graph and applies the entry effects of the target status.
func (o *Order) Transition(to Status, note, actor string, now time.Time) error {
	if !to.IsValid() || !CanTransition(o.Status, to) {
		return &apperr.InvalidTransitionError{From: string(o.Status), To: string(to)}
	}
	now = now.UTC()
	switch to {
	case StatusPaid:
		if !o.IsPaid {
			o.IsPaid = true
			o.PaidAt = &now
		}
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
		if note != "" {
			o.CancellationReason = note
		}
	}
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, StatusRecord{Status: to, Timestamp: now, Note: note, Actor: actor})
	o.touch(now)
	return nil
}

// AttachPaymentReference binds a new gateway attempt to the order.
func (o *Order) AttachPaymentReference(txRef string, now time.Time) {
	now = now.UTC()
	o.PaymentResult = PaymentResult{ExternalRef: txRef, ExternalStatus: PaymentUnknown, UpdatedAt: now}
	o.rememberTxRef(txRef)
	o.touch(now)
}

// RecordPaymentStatus overwrites the payment result with a report that outranks the recorded one.
func (o *Order) RecordPaymentStatus(txRef string, status PaymentStatus, transactionID string, now time.Time) {
	now = now.UTC()
	if transactionID == "" {
		transactionID = o.PaymentResult.TransactionID
	}
	o.PaymentResult = PaymentResult{
		ExternalRef:    txRef,
		ExternalStatus: status,
		UpdatedAt:      now,
		TransactionID:  transactionID,
	}
	o.rememberTxRef(txRef)
	o.touch(now)
}

// TouchPaymentAudit records that a stale report was seen without changing the recorded status.
func (o *Order) TouchPaymentAudit(transactionID string, now time.Time) {
	now = now.UTC()
	o.PaymentResult.UpdatedAt = now
	if transactionID != "" {
		o.PaymentResult.TransactionID = transactionID
	}
	o.touch(now)
}

// rememberTxRef appends txRef to the issued references; the current ref is
// looked up through TxRefs, so membership is checked there alone.
func (o *Order) rememberTxRef(txRef string) {
	if txRef == "" {
		return
	}
	for _, r := range o.TxRefs {
		if r == txRef {
			return
		}
	}
	o.TxRefs = append(o.TxRefs, txRef)
}

func (o *Order) HoldsTxRef(txRef string) bool {
	if txRef == "" {
		return false
	}
	if o.PaymentResult.ExternalRef == txRef {
		return true
	}
	for _, r := range o.TxRefs {
		if r == txRef {
			return true
		}
	}
	return false
}

func (o *Order) touch(now time.Time) {
	o.Version++
	o.UpdatedAt = now
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusRecord(nil), o.StatusHistory...)
	c.TxRefs = append([]string(nil), o.TxRefs...)
	c.PaidAt = cloneTime(o.PaidAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
