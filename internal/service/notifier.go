package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/metrics"
	"order-fulfillment-service/internal/model"
)

const publishTimeout = 3 * time.Second

// EventNotifier turns order changes into OrderEvents. Publishing failures are
// logged and counted; they never reach the caller.
type EventNotifier struct {
	publisher EventPublisher
	log       *zap.Logger
	metrics   *metrics.Metrics
	clock     clock
}

func NewEventNotifier(publisher EventPublisher, log *zap.Logger, m *metrics.Metrics) *EventNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventNotifier{publisher: publisher, log: log, metrics: m}
}

func (n *EventNotifier) OrderCreated(ctx context.Context, o *model.Order) {
	n.publish(ctx, n.event(model.EventOrderCreated, o, "", "Order created"))
}

func (n *EventNotifier) OrderStatusChanged(ctx context.Context, o *model.Order, from model.Status, note string) {
	n.publish(ctx, n.event(model.EventOrderStatusChanged, o, from, note))
}

func (n *EventNotifier) PaymentAfterCancellation(ctx context.Context, o *model.Order) {
	n.publish(ctx, n.event(model.EventPaymentAfterCancellation, o, "", "Payment received for a cancelled order"))
}

func (n *EventNotifier) event(t model.EventType, o *model.Order, from model.Status, note string) model.OrderEvent {
	return model.OrderEvent{
		ID:             uuid.NewString(),
		Type:           t,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Status:         o.Status,
		PreviousStatus: from,
		Note:           note,
		PaymentStatus:  o.PaymentResult.ExternalStatus,
		TotalPrice:     o.TotalPrice,
		OccurredAt:     n.clock.now(),
	}
}

func (n *EventNotifier) publish(ctx context.Context, ev model.OrderEvent) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.publisher.Publish(pubCtx, ev); err != nil {
		n.metrics.Notification(string(ev.Type), "error")
		logging.FromContext(ctx, n.log).Error("notification_failed",
			zap.String("event", string(ev.Type)),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		return
	}
	n.metrics.Notification(string(ev.Type), "ok")
}

// LogPublisher writes events to the log; used when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev model.OrderEvent) error {
	p.log.Info("order_event",
		zap.String("event", string(ev.Type)),
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(ev.Status)),
		zap.String("previous_status", string(ev.PreviousStatus)))
	return nil
}
