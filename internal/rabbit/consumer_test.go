package rabbit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/model"
	"order-fulfillment-service/internal/service"
)

type stubReconciler struct {
	reports []service.Report
	err     error
}

func (s *stubReconciler) Reconcile(_ context.Context, rep service.Report) (*service.Outcome, error) {
	s.reports = append(s.reports, rep)
	if s.err != nil {
		return nil, s.err
	}
	return &service.Outcome{Applied: true, PaymentStatus: model.PaymentSuccess}, nil
}

type fakeDelivery struct {
	payload []byte
	acked   bool
	nacked  bool
	requeue bool
}

func (d *fakeDelivery) Ack(bool) error { d.acked = true; return nil }
func (d *fakeDelivery) Nack(_ bool, requeue bool) error {
	d.nacked, d.requeue = true, requeue
	return nil
}
func (d *fakeDelivery) body() []byte { return d.payload }

func TestHandle_MapsMessageToQueueReport(t *testing.T) {
	r := &stubReconciler{}
	c := NewPaymentReportConsumer(r, nil)

	body := []byte(`{"correlation_id":"c-1","message":{"txRef":"ORDER-1-1700","status":"successful","transaction_id":99812}}`)
	if err := c.Handle(context.Background(), body); err != nil {
		t.Fatal(err)
	}
	want := service.Report{TxRef: "ORDER-1-1700", Status: "successful", TransactionID: "99812", Source: service.SourceQueue}
	if len(r.reports) != 1 || r.reports[0] != want {
		t.Fatalf("unexpected reports %+v", r.reports)
	}
}

func TestSettle_AckAndNack(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	cases := []struct {
		name    string
		body    string
		err     error
		acked   bool
		requeue bool
	}{
		{name: "applied", body: `{"message":{"tx_ref":"ORDER-1","status":"success"}}`, acked: true},
		{name: "garbage", body: `{not json`},
		{name: "unknown reference", body: `{"message":{"tx_ref":"ORDER-x","status":"success"}}`, err: &apperr.NotFoundError{Resource: "order", Key: "ORDER-x"}},
		{name: "storage down", body: `{"message":{"tx_ref":"ORDER-1","status":"success"}}`, err: errors.New("connection reset"), requeue: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewPaymentReportConsumer(&stubReconciler{err: tc.err}, log)
			d := &fakeDelivery{payload: []byte(tc.body)}
			settle(context.Background(), c, d, log)

			if d.acked != tc.acked {
				t.Fatalf("acked = %v, want %v", d.acked, tc.acked)
			}
			if !tc.acked && (!d.nacked || d.requeue != tc.requeue) {
				t.Fatalf("nacked=%v requeue=%v, want requeue %v", d.nacked, d.requeue, tc.requeue)
			}
		})
	}
	if logs.FilterMessage("payment_report_failed").Len() != 3 {
		t.Fatalf("expected three logged failures, got %d", logs.FilterMessage("payment_report_failed").Len())
	}
}

func TestPublishingFor(t *testing.T) {
	p, err := publishingFor(model.OrderEvent{ID: "ev-1", Type: model.EventOrderCreated, OrderID: "o-1"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != string(model.EventOrderCreated) || p.MessageId != "ev-1" || p.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", p)
	}
}
