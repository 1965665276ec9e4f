// Package bus publishes committed ledger events to Kafka through the
// transactional outbox. Events are keyed by stream so consumers see each
// stream in order.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Publisher delivers one committed event to the broker.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
	Close() error
}

// Envelope is the wire shape of a published ledger event.
type Envelope struct {
	GlobalSeq   uint64          `json:"global_seq"`
	StreamKey   string          `json:"stream_key"`
	StreamSeq   uint64          `json:"stream_seq"`
	EventType   string          `json:"event_type"`
	CommandID   string          `json:"command_id"`
	OperatorID  string          `json:"operator_id"`
	Timestamp   time.Time       `json:"timestamp"`
	PayloadJSON json.RawMessage `json:"payload"`
}

// KafkaPublisher writes envelopes to one Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish writes the event to the topic, keyed by its stream.
func (p *KafkaPublisher) Publish(ctx context.Context, evt event.Event) error {
	value, err := json.Marshal(Envelope{
		GlobalSeq:   evt.GlobalSeq,
		StreamKey:   evt.StreamKey,
		StreamSeq:   evt.StreamSeq,
		EventType:   string(evt.Type),
		CommandID:   evt.CommandID,
		OperatorID:  evt.OperatorID,
		Timestamp:   evt.Timestamp,
		PayloadJSON: json.RawMessage(evt.PayloadJSON),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.StreamKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
