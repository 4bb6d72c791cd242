package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/service"
)

// PaymentReconciler is the part of the reconciler the consumer needs.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, rep service.Report) (*service.Outcome, error)
}

// PaymentReportConsumer feeds gateway results relayed over RabbitMQ into the
// reconciler, the same way callbacks and polls do.
type PaymentReportConsumer struct {
	reconciler PaymentReconciler
	log        *zap.Logger
}

func NewPaymentReportConsumer(r PaymentReconciler, log *zap.Logger) *PaymentReportConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentReportConsumer{reconciler: r, log: log}
}

// PaymentReportMessage keeps the envelope used by the other services on the bus.
type PaymentReportMessage struct {
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Message       struct {
		TxRef         string          `json:"tx_ref"`
		TxRefAlt      string          `json:"txRef"`
		Status        string          `json:"status"`
		TransactionID json.RawMessage `json:"transaction_id"`
	} `json:"message"`
}

func (m PaymentReportMessage) report() service.Report {
	ref := m.Message.TxRef
	if ref == "" {
		ref = m.Message.TxRefAlt
	}
	return service.Report{
		TxRef:         ref,
		Status:        m.Message.Status,
		TransactionID: transactionID(m.Message.TransactionID),
		Source:        service.SourceQueue,
	}
}

func transactionID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// errPermanent marks messages that will never succeed and must not be requeued.
var errPermanent = errors.New("permanent")

func (c *PaymentReportConsumer) Handle(ctx context.Context, body []byte) error {
	var msg PaymentReportMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: decode payment report: %v", errPermanent, err)
	}
	rep := msg.report()
	log := logging.FromContext(ctx, c.log).With(
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("tx_ref", rep.TxRef))

	out, err := c.reconciler.Reconcile(ctx, rep)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindNotFound:
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return err
	}
	log.Info("payment_report_consumed",
		zap.Bool("applied", out.Applied),
		zap.String("payment_status", string(out.PaymentStatus)))
	return nil
}

// requeue reports whether a failed delivery should go back on the queue.
func requeue(err error) bool {
	return err != nil && !errors.Is(err, errPermanent)
}
