// Package apperr holds the error taxonomy shared by the service, storage and HTTP layers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable, client-visible classification of an error.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindNotFound               Kind = "not_found"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindInvalidTransition      Kind = "invalid_transition"
	KindConcurrentModification Kind = "concurrent_modification"
	KindGatewayUnavailable     Kind = "gateway_unavailable"
	KindGatewayRejected        Kind = "gateway_rejected"
	KindForbidden              Kind = "forbidden"
	KindConflict               Kind = "conflict"
	KindStaleReport            Kind = "stale_report"
	KindInternal               Kind = "internal"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// InsufficientStockError reports the stock observed when the conditional decrement was refused.
// Available is best effort: it is read after the refusal and may already be stale.
type InsufficientStockError struct {
	ProductRef string
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductRef, e.Requested, e.Available)
}

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

type ConcurrentModificationError struct {
	OrderID         string
	ExpectedVersion int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("order %s was modified concurrently (expected version %d)", e.OrderID, e.ExpectedVersion)
}

type GatewayUnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway unavailable during %s after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// GatewayRejectedError is a non-retryable refusal by the gateway (4xx other than 429).
type GatewayRejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("payment gateway rejected %s (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
}

// StaleReportError is informational: the report did not raise the recorded payment status.
type StaleReportError struct {
	TxRef    string
	Reported string
	Recorded string
}

func (e *StaleReportError) Error() string {
	return fmt.Sprintf("stale payment report for %s: reported %s, recorded %s", e.TxRef, e.Reported, e.Recorded)
}

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

func Forbidden(reason string) error { return &ForbiddenError{Reason: reason} }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

func Conflict(reason string) error { return &ConflictError{Reason: reason} }

// KindOf classifies err; unknown errors are KindInternal.
func KindOf(err error) Kind {
	var (
		validation  *ValidationError
		notFound    *NotFoundError
		stock       *InsufficientStockError
		transition  *InvalidTransitionError
		concurrent  *ConcurrentModificationError
		unavailable *GatewayUnavailableError
		rejected    *GatewayRejectedError
		forbidden   *ForbiddenError
		conflict    *ConflictError
		stale       *StaleReportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &stock):
		return KindInsufficientStock
	case errors.As(err, &transition):
		return KindInvalidTransition
	case errors.As(err, &concurrent):
		return KindConcurrentModification
	case errors.As(err, &unavailable):
		return KindGatewayUnavailable
	case errors.As(err, &rejected):
		return KindGatewayRejected
	case errors.As(err, &forbidden):
		return KindForbidden
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &stale):
		return KindStaleReport
	default:
		return KindInternal
	}
}

// IsConcurrentModification reports whether err is a lost version race.
func IsConcurrentModification(err error) bool {
	var c *ConcurrentModificationError
	return errors.As(err, &c)
}
