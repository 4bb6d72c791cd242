package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"order-fulfillment-service/internal/metrics"
	"order-fulfillment-service/internal/model"
)

type capturePublisher struct {
	events   []model.OrderEvent
	deadline bool
	err      error
}

func (p *capturePublisher) Publish(ctx context.Context, ev model.OrderEvent) error {
	_, p.deadline = ctx.Deadline()
	p.events = append(p.events, ev)
	return p.err
}

func TestEventNotifier_BuildsEvents(t *testing.T) {
	pub := &capturePublisher{}
	n := NewEventNotifier(pub, nil, nil)
	o := &model.Order{ID: "o1", OrderNumber: "LS202601000001", UserID: "u1", Status: model.StatusProcessing}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.OrderStatusChanged(ctx, o, model.StatusPending, "Payment confirmed")

	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != model.EventOrderStatusChanged || ev.PreviousStatus != model.StatusPending || ev.Status != model.StatusProcessing {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ID == "" || ev.OccurredAt.IsZero() {
		t.Fatal("event id and timestamp must be set")
	}
	if !pub.deadline {
		t.Fatal("publish must carry its own deadline")
	}
}

func TestEventNotifier_SwallowsPublishErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	pub := &capturePublisher{err: errors.New("broker down")}
	m := metrics.New(prometheus.NewRegistry(), "test")
	n := NewEventNotifier(pub, zap.New(core), m)
	n.clock = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	n.OrderCreated(context.Background(), &model.Order{ID: "o1"})
	n.PaymentAfterCancellation(context.Background(), &model.Order{ID: "o1", Status: model.StatusCancelled})

	if logs.FilterMessage("notification_failed").Len() != 2 {
		t.Fatalf("expected two logged failures, got %d", logs.Len())
	}
	if pub.events[1].Type != model.EventPaymentAfterCancellation {
		t.Fatalf("unexpected event type %s", pub.events[1].Type)
	}
}
