package messaging

import (
	"fmt"

	"bank-saga/internal/infrastructure/messaging/kafka"
)

// EventPublisher defines the interface for publishing saga events
type EventPublisher interface {
	PublishAccountCreated(event AccountCreatedEvent) error
	PublishSagaCompleted(event SagaCompletedEvent) error
	PublishTransactionRejected(event TransactionRejectedEvent) error
	Close() error
	IsHealthy() bool
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer *kafka.Producer
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(config *kafka.Config) (*KafkaEventPublisher, error) {
	producer, err := kafka.NewProducer(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEventPublisher{
		producer: producer,
	}, nil
}

// PublishAccountCreated publishes an account created event
func (p *KafkaEventPublisher) PublishAccountCreated(event AccountCreatedEvent) error {
	return p.producer.PublishEvent(kafka.TopicAccountCreated, event.AccountNumber, event)
}

// PublishSagaCompleted publishes a saga outcome, keyed by transaction id
// so all events for one saga land on one partition
func (p *KafkaEventPublisher) PublishSagaCompleted(event SagaCompletedEvent) error {
	return p.producer.PublishEvent(kafka.TopicSagaCompleted, event.TransactionID, event)
}

// PublishTransactionRejected publishes a participant rejection
func (p *KafkaEventPublisher) PublishTransactionRejected(event TransactionRejectedEvent) error {
	return p.producer.PublishEvent(kafka.TopicTransactionRejected, event.TransactionID, event)
}

// Close closes the Kafka producer
func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

// IsHealthy checks if the publisher is healthy
func (p *KafkaEventPublisher) IsHealthy() bool {
	return p.producer.IsHealthy()
}

// NoOpEventPublisher is a no-op implementation for tests and for running
// without Kafka
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

func (p *NoOpEventPublisher) PublishAccountCreated(event AccountCreatedEvent) error         { return nil }
func (p *NoOpEventPublisher) PublishSagaCompleted(event SagaCompletedEvent) error           { return nil }
func (p *NoOpEventPublisher) PublishTransactionRejected(event TransactionRejectedEvent) error {
	return nil
}
func (p *NoOpEventPublisher) Close() error    { return nil }
func (p *NoOpEventPublisher) IsHealthy() bool { return true }
