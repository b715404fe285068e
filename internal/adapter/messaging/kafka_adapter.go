package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	KindText  = "text"
	KindImage = "image"
)

// PushEvent is what the chat gateway consumes from the notifications topic.
type PushEvent struct {
	To       string    `json:"to"`
	Kind     string    `json:"kind"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// MessageWriter is the producer side of a topic.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a traced producer for topic. Trace context travels in
// the message headers.
func NewKafkaWriter(brokers []string, topic, clientID string, tp trace.TracerProvider) (MessageWriter, error) {
	base := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafka.RequireOne,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", clientID),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka writer: %w", err)
	}
	return writer, nil
}

// KafkaMessenger publishes push requests to a topic keyed by recipient, so
// one recipient's messages stay ordered on a single partition.
type KafkaMessenger struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaMessenger(writer MessageWriter) *KafkaMessenger {
	return &KafkaMessenger{writer: writer, now: time.Now}
}

func (k *KafkaMessenger) PushText(ctx context.Context, to, text string) error {
	return k.publish(ctx, PushEvent{To: to, Kind: KindText, Text: text})
}

func (k *KafkaMessenger) PushImage(ctx context.Context, to, imageURL string) error {
	return k.publish(ctx, PushEvent{To: to, Kind: KindImage, ImageURL: imageURL})
}

func (k *KafkaMessenger) publish(ctx context.Context, event PushEvent) error {
	if event.To == "" {
		return fmt.Errorf("push %s: empty recipient", event.Kind)
	}
	event.SentAt = k.now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal push event: %w", err)
	}

	// WriteMessage (singular) keeps the span attached to this message
	err = k.writer.WriteMessage(ctx, kafka.Message{
		Key:   []byte(event.To),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s push: %w", event.Kind, err)
	}
	return nil
}

func (k *KafkaMessenger) Close() error {
	return k.writer.Close()
}
