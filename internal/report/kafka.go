package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher produces run reports to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaPublisher creates a Kafka producer for the report topic.
func NewKafkaPublisher(logger *slog.Logger, brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish serializes the report and writes it to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, r *Report) error {
	msg, err := serializeToMessage(r)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	p.logger.Info("Published report", "recipe", r.Recipe, "bytes", len(msg.Value))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a report into a Kafka message keyed by recipe
// and target month.
func serializeToMessage(r *Report) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(fmt.Sprintf("%s/%d-%s", r.Recipe, r.Year, r.Month)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "mode", Value: []byte(r.Mode)},
			{Key: "created_at", Value: []byte(r.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
