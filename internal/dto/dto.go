// dto.go
package dto

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"order-fulfillment-service/internal/model"
)

type OrderItemRequest struct {
	Product  string `json:"product" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
}

type ShippingAddressDTO struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Street   string `json:"street"`
	City     string `json:"city"`
	District string `json:"district"`
	Country  string `json:"country"`
	Notes    string `json:"notes"`
}

func (s ShippingAddressDTO) ToModel() model.ShippingAddress {
	return model.ShippingAddress{
		FullName: s.FullName,
		Phone:    s.Phone,
		Street:   s.Street,
		City:     s.City,
		District: s.District,
		Country:  s.Country,
		Notes:    s.Notes,
	}
}

// CreateOrderRequest is the body of POST /orders. Item names and prices are taken
// from the catalog, the client only names products and quantities.
type CreateOrderRequest struct {
	Items           []OrderItemRequest  `json:"items"`
	ShippingAddress ShippingAddressDTO  `json:"shippingAddress"`
	PaymentMethod   model.PaymentMethod `json:"paymentMethod" binding:"required"`
	ItemsPrice      decimal.Decimal     `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal     `json:"shippingPrice"`
	TotalPrice      decimal.Decimal     `json:"totalPrice"`
}

type UpdateStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Note    string `json:"note"`
	Version *int64 `json:"version"`
}

type MarkPaidRequest struct {
	TransactionID string `json:"transactionId"`
}

type InitiatePaymentRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Phone   string `json:"phone"`
}

type InitiatePaymentResponse struct {
	RedirectURL string `json:"redirectUrl"`
	TxRef       string `json:"txRef"`
}

// PaymentCallbackRequest accepts both the gateway's snake_case fields and camelCase.
type PaymentCallbackRequest struct {
	TxRef            string          `json:"tx_ref"`
	TxRefAlt         string          `json:"txRef"`
	Status           string          `json:"status"`
	TransactionID    json.RawMessage `json:"transaction_id"`
	TransactionIDAlt string          `json:"transactionId"`
}

func (r PaymentCallbackRequest) Reference() string {
	if r.TxRef != "" {
		return r.TxRef
	}
	return r.TxRefAlt
}

// Transaction returns the gateway transaction id, which may arrive as a string or a number.
func (r PaymentCallbackRequest) Transaction() string {
	raw := strings.TrimSpace(string(r.TransactionID))
	if raw == "" || raw == "null" {
		return r.TransactionIDAlt
	}
	var s string
	if err := json.Unmarshal(r.TransactionID, &s); err == nil {
		return s
	}
	return raw
}

type PaymentStatusResponse struct {
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
	Applied       bool                `json:"applied"`
	Order         *model.Order        `json:"order,omitempty"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type OrderListResponse struct {
	Orders     []*model.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
