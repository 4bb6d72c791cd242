package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"order-fulfillment-service/internal/model"
)

const DefaultTopic = "order-events"

// Publisher writes order events to a Kafka topic keyed by order id, so every event
// of one order lands on the same partition and keeps its order.
type Publisher struct {
	writer *kafka.Writer
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewPublisher(writer *kafka.Writer) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) Publish(ctx context.Context, ev model.OrderEvent) error {
	msg, err := messageFor(ctx, ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func messageFor(ctx context.Context, ev model.OrderEvent) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal order event: %w", err)
	}
	headers := headerCarrier{{Key: "event_type", Value: []byte(ev.Type)}}
	otel.GetTextMapPropagator().Inject(ctx, &headers)
	return kafka.Message{
		Key:     []byte(ev.OrderID),
		Value:   body,
		Headers: headers,
		Time:    ev.OccurredAt,
	}, nil
}

// headerCarrier adapts Kafka message headers to the otel propagation carrier.
type headerCarrier []kafka.Header

func (h *headerCarrier) Get(key string) string {
	for _, kv := range *h {
		if kv.Key == key {
			return string(kv.Value)
		}
	}
	return ""
}

func (h *headerCarrier) Set(key, value string) {
	for i, kv := range *h {
		if kv.Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*h))
	for _, kv := range *h {
		keys = append(keys, kv.Key)
	}
	return keys
}
