package model

import (
	"strings"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether the edge from -> to exists in the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus is the gateway-reported state of one payment attempt.
type PaymentStatus string

const (
	PaymentUnknown PaymentStatus = "unknown"
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
	PaymentSuccess PaymentStatus = "success"
)

// Precedence orders payment statuses: unknown < pending < failed < success.
func (p PaymentStatus) Precedence() int {
	switch p {
	case PaymentPending:
		return 1
	case PaymentFailed:
		return 2
	case PaymentSuccess:
		return 3
	default:
		return 0
	}
}

// NormalizePaymentStatus maps gateway vocabulary onto PaymentStatus.
func NormalizePaymentStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "completed":
		return PaymentSuccess
	case "failed", "failure", "cancelled", "canceled", "declined":
		return PaymentFailed
	case "pending", "processing", "initiated":
		return PaymentPending
	default:
		return PaymentUnknown
	}
}
