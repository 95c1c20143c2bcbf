package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the forwarder.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaEnvelope struct {
	Type       string          `json:"type"`
	Change     json.RawMessage `json:"appointment"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewKafkaWriter builds a writer keyed by appointment id so that changes to
// one appointment land on one partition in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// KafkaForwarder publishes local appointment events for downstream consumers.
type KafkaForwarder struct {
	writer MessageWriter
	queue  chan kafka.Message
	logger *zerolog.Logger
}

func NewKafkaForwarder(writer MessageWriter, queueSize int, logger *zerolog.Logger) *KafkaForwarder {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &KafkaForwarder{
		writer: writer,
		queue:  make(chan kafka.Message, queueSize),
		logger: logger,
	}
}

// Handle is an EventHandler; it never blocks the publisher.
func (f *KafkaForwarder) Handle(event *Event) error {
	if !event.Local() {
		return nil
	}

	change, err := DecodeAppointmentChange(event)
	if err != nil {
		f.logger.Warn().Err(err).Str("event_type", event.Type).Msg("kafka: undecodable event")
		return err
	}

	value, err := json.Marshal(kafkaEnvelope{Type: event.Type, Change: event.Payload, OccurredAt: event.CreatedAt})
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:     []byte(change.ID),
		Value:   value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}},
		Time:    event.CreatedAt,
	}

	select {
	case f.queue <- msg:
	default:
		f.logger.Warn().Str("appointment_id", change.ID).Msg("kafka: queue full, event dropped")
	}
	return nil
}

// Run drains the queue until ctx is cancelled, then closes the writer.
func (f *KafkaForwarder) Run(ctx context.Context) {
	defer func() {
		if err := f.writer.Close(); err != nil {
			f.logger.Error().Err(err).Msg("kafka: close writer")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-f.queue:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := f.writer.WriteMessages(writeCtx, msg); err != nil {
				f.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("kafka: write failed")
			}
			cancel()
		}
	}
}
