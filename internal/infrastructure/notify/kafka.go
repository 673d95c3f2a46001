package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the transport uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport keys records by room so one room's messages stay ordered
// on a single partition.
type KafkaTransport struct {
	writer MessageWriter
}

func NewKafkaTransport(w MessageWriter) *KafkaTransport {
	return &KafkaTransport{writer: w}
}

// NewKafkaWriter builds a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Deliver(ctx context.Context, m notification.Message) error {
	body, err := encode(m)
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	err = t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.Room),
		Value: body,
		Time:  m.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(m.Event)},
			{Key: "room-kind", Value: []byte(roomKind(m.Room))},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Close() error { return t.writer.Close() }

func roomKind(room string) string {
	kind, _, _ := strings.Cut(room, ":")
	return kind
}
