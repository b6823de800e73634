package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// Envelope is the message written to Kafka; Data holds the report JSON.
type Envelope struct {
	Type      string          `json:"type"`
	TS        int64           `json:"ts"`
	Severity  Severity        `json:"severity"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// KafkaSender publishes reports to a topic keyed by seed address
type KafkaSender struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaSender connects a synchronous producer to brokers
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSenderFromProducer(p, topic), nil
}

// NewKafkaSenderFromProducer wraps an existing producer
func NewKafkaSenderFromProducer(p sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{topic: topic, producer: p}
}

// Close closes the producer
func (s *KafkaSender) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// Send publishes the report. SyncProducer has no context support, so ctx is
// only checked before sending.
func (s *KafkaSender) Send(ctx context.Context, payload *AlertPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	env := Envelope{
		Type:      "aml.report",
		TS:        payload.Timestamp.UnixMilli(),
		Severity:  payload.Severity,
		RequestID: payload.RequestID,
		Data:      data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(payload.Report.Seed.String()),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	return nil
}
