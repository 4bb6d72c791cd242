// setup.go
package rabbit

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	PaymentReportsExchange = "payment_reports"
	PaymentReportsQueue    = "order_fulfillment_payment_reports"
)

// ConsumePaymentReports declares the queue, binds it to the fanout exchange and
// blocks delivering messages until ctx is done or the channel closes.
func ConsumePaymentReports(ctx context.Context, ch *amqp091.Channel, consumer *PaymentReportConsumer, log *zap.Logger) error {
	if err := ch.ExchangeDeclare(PaymentReportsExchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", PaymentReportsExchange, err)
	}
	q, err := ch.QueueDeclare(PaymentReportsQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// fanout ignores the routing key
	if err := ch.QueueBind(q.Name, "", PaymentReportsExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	log.Info("rabbit_subscribed", zap.String("exchange", PaymentReportsExchange), zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return fmt.Errorf("rabbit delivery channel closed")
			}
			deliver(ctx, consumer, m, log)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type delivery interface {
	acknowledger
	body() []byte
}

type amqpDelivery struct{ amqp091.Delivery }

func (d amqpDelivery) body() []byte { return d.Body }

func deliver(ctx context.Context, consumer *PaymentReportConsumer, m amqp091.Delivery, log *zap.Logger) {
	settle(ctx, consumer, amqpDelivery{m}, log)
}

func settle(ctx context.Context, consumer *PaymentReportConsumer, d delivery, log *zap.Logger) {
	err := consumer.Handle(ctx, d.body())
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Warn("rabbit_ack_failed", zap.Error(ackErr))
		}
		return
	}
	again := requeue(err)
	log.Error("payment_report_failed", zap.Bool("requeue", again), zap.Error(err))
	if nackErr := d.Nack(false, again); nackErr != nil {
		log.Warn("rabbit_nack_failed", zap.Error(nackErr))
	}
}
