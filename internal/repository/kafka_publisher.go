package repository

import (
	"context"

	"RegimePulse/internal/domain/models"
	"RegimePulse/internal/domain/repository"
	pkgkafka "RegimePulse/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka. Outputs are keyed by symbol
// so per-symbol ordering survives partitioning.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, o *models.HMMOutput) error {
	return p.producer.Publish(ctx, p.topic, []byte(o.Symbol), o)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// LogPublisher adapts the Kafka producer to the logger's aggregated log
// sink interface.
type LogPublisher struct {
	producer *pkgkafka.Producer
}

func NewLogPublisher(producer *pkgkafka.Producer) *LogPublisher {
	return &LogPublisher{producer: producer}
}

func (p *LogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}
