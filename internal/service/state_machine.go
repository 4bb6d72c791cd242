package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/model"
)

const transitionLatestAttempts = 5

type TransitionRequest struct {
	OrderID         string
	To              model.Status
	Note            string
	ExpectedVersion int64
	Actor           string
}

// StateMachine applies lifecycle transitions with a version-guarded write and runs
// the post-commit effects (stock release, notifications).
type StateMachine struct {
	orders    OrderRepository
	inventory *InventoryCoordinator
	notifier  NotificationDispatcher
	log       *zap.Logger
	clock     clock
}

func NewStateMachine(orders OrderRepository, inventory *InventoryCoordinator, notifier NotificationDispatcher, log *zap.Logger) *StateMachine {
	if log == nil {
		log = zap.NewNop()
	}
	return &StateMachine{orders: orders, inventory: inventory, notifier: notifier, log: log}
}

func (sm *StateMachine) Transition(ctx context.Context, req TransitionRequest) (*model.Order, error) {
	o, err := sm.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Version != req.ExpectedVersion {
		return nil, &apperr.ConcurrentModificationError{OrderID: o.ID, ExpectedVersion: req.ExpectedVersion}
	}
	return sm.apply(ctx, o, req)
}

// TransitionLatest is used when the caller holds no version: it re-reads and
// retries on lost races. Invalid transitions are never retried.
func (sm *StateMachine) TransitionLatest(ctx context.Context, orderID string, to model.Status, note, actor string) (*model.Order, error) {
	var lastErr error
	for attempt := 0; attempt < transitionLatestAttempts; attempt++ {
		o, err := sm.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		updated, err := sm.apply(ctx, o, TransitionRequest{
			OrderID: orderID, To: to, Note: note, Actor: actor, ExpectedVersion: o.Version,
		})
		if err == nil {
			return updated, nil
		}
		if !apperr.IsConcurrentModification(err) {
			return nil, err
		}
		lastErr = err
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (sm *StateMachine) apply(ctx context.Context, o *model.Order, req TransitionRequest) (*model.Order, error) {
	from := o.Status
	expected := o.Version
	if err := o.Transition(req.To, req.Note, req.Actor, sm.clock.now()); err != nil {
		return nil, err
	}
	if err := sm.orders.Replace(ctx, o, expected); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx, sm.log)
	log.Info("order_status_changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
		zap.String("actor", req.Actor),
		zap.Int64("version", o.Version))

	if o.Status == model.StatusCancelled {
		sm.releaseReservation(ctx, o)
	}
	sm.notifier.OrderStatusChanged(ctx, o, from, req.Note)
	return o, nil
}

// releaseReservation runs after the cancel is committed; a failure leaves the
// cancellation in place and is only logged.
func (sm *StateMachine) releaseReservation(ctx context.Context, o *model.Order) {
	if o.ReservationID == "" || sm.inventory == nil {
		return
	}
	if err := sm.inventory.Release(context.WithoutCancel(ctx), o.ReservationID); err != nil {
		logging.FromContext(ctx, sm.log).Error("reservation_release_failed",
			zap.String("order_id", o.ID),
			zap.String("reservation_id", o.ReservationID),
			zap.Error(fmt.Errorf("release after cancel: %w", err)))
	}
}
