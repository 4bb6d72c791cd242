package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/metrics"
	"order-fulfillment-service/internal/model"
)

type ReserveLine struct {
	ProductRef string
	Quantity   int
}

// InventoryCoordinator reserves stock for a whole order or nothing.
type InventoryCoordinator struct {
	stock        StockStore
	reservations ReservationRepository
	log          *zap.Logger
	metrics      *metrics.Metrics
	clock        clock
}

func NewInventoryCoordinator(stock StockStore, reservations ReservationRepository, log *zap.Logger, m *metrics.Metrics) *InventoryCoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &InventoryCoordinator{stock: stock, reservations: reservations, log: log, metrics: m}
}

// Reserve decrements every line with a conditional store operation. On the first
// refusal the decrements already applied are compensated.
func (ic *InventoryCoordinator) Reserve(ctx context.Context, orderID string, lines []ReserveLine) (*model.Reservation, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		ic.metrics.Reservation("invalid")
		return nil, err
	}

	applied := make([]model.ReservationLine, 0, len(merged))
	for _, line := range merged {
		ok, err := ic.stock.DecrementStock(ctx, line.ProductRef, line.Quantity)
		if err != nil {
			ic.rollback(ctx, orderID, applied)
			ic.metrics.Reservation("error")
			return nil, fmt.Errorf("reserve %s: %w", line.ProductRef, err)
		}
		if !ok {
			ic.rollback(ctx, orderID, applied)
			ic.metrics.Reservation("insufficient_stock")
			return nil, ic.refusal(ctx, line)
		}
		applied = append(applied, line)
	}

	res := &model.Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Lines:     applied,
		CreatedAt: ic.clock.now(),
	}
	if err := ic.reservations.Create(ctx, res); err != nil {
		ic.rollback(ctx, orderID, applied)
		ic.metrics.Reservation("error")
		return nil, fmt.Errorf("store reservation: %w", err)
	}
	ic.metrics.Reservation("reserved")
	return res, nil
}

// Release returns the reserved quantities. Only the caller that flips the
// reservation's released flag touches stock, so repeated calls are no-ops.
func (ic *InventoryCoordinator) Release(ctx context.Context, token string) error {
	res, err := ic.reservations.FindByID(ctx, token)
	if err != nil {
		return err
	}
	if res.Released {
		return nil
	}
	flipped, err := ic.reservations.MarkReleased(ctx, token, ic.clock.now())
	if err != nil {
		return fmt.Errorf("mark reservation released: %w", err)
	}
	if !flipped {
		return nil
	}

	log := logging.FromContext(ctx, ic.log)
	var errs []error
	for _, line := range res.Lines {
		if err := ic.stock.IncrementStock(ctx, line.ProductRef, line.Quantity); err != nil {
			log.Error("stock_release_failed",
				zap.String("reservation_id", token),
				zap.String("product_ref", line.ProductRef),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("release %s: %w", line.ProductRef, err))
		}
	}
	log.Info("reservation_released", zap.String("reservation_id", token), zap.String("order_id", res.OrderID))
	return errors.Join(errs...)
}

// refusal distinguishes a missing product from a short one.
func (ic *InventoryCoordinator) refusal(ctx context.Context, line model.ReservationLine) error {
	available, err := ic.stock.GetStock(ctx, line.ProductRef)
	var notFound *apperr.NotFoundError
	if errors.As(err, &notFound) {
		return err
	}
	if err != nil {
		available = 0
	}
	return &apperr.InsufficientStockError{
		ProductRef: line.ProductRef,
		Requested:  line.Quantity,
		Available:  available,
	}
}

// rollback ignores cancellation of ctx.
func (ic *InventoryCoordinator) rollback(ctx context.Context, orderID string, applied []model.ReservationLine) {
	if len(applied) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	log := logging.FromContext(ctx, ic.log)
	for _, line := range applied {
		if err := ic.stock.IncrementStock(detached, line.ProductRef, line.Quantity); err != nil {
			log.Error("stock_rollback_failed",
				zap.String("order_id", orderID),
				zap.String("product_ref", line.ProductRef),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}

func mergeLines(lines []ReserveLine) ([]model.ReservationLine, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("items", "no order items provided")
	}
	index := make(map[string]int, len(lines))
	merged := make([]model.ReservationLine, 0, len(lines))
	for i, l := range lines {
		if l.ProductRef == "" {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].productRef", i), "is required")
		}
		if l.Quantity < 1 {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if pos, ok := index[l.ProductRef]; ok {
			merged[pos].Quantity += l.Quantity
			continue
		}
		index[l.ProductRef] = len(merged)
		merged = append(merged, model.ReservationLine{ProductRef: l.ProductRef, Quantity: l.Quantity})
	}
	return merged, nil
}
