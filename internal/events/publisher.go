package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-service/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	TransactionCreated   EventType = "transaction.created"
	TransactionCompleted EventType = "transaction.completed"
	TransactionFailed    EventType = "transaction.failed"
	TransactionReversed  EventType = "transaction.reversed"
)

// TypeFor names the event that announces a transaction reaching state.
func TypeFor(state models.TransactionState) EventType {
	switch state {
	case models.StateCompleted:
		return TransactionCompleted
	case models.StateFailed:
		return TransactionFailed
	case models.StateReversed:
		return TransactionReversed
	default:
		return TransactionCreated
	}
}

type TransactionEvent struct {
	ID          string             `json:"id"`
	Type        EventType          `json:"type"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Transaction models.Transaction `json:"transaction"`
}

func NewTransactionEvent(txn models.Transaction) TransactionEvent {
	return TransactionEvent{
		ID:          uuid.NewString(),
		Type:        TypeFor(txn.State),
		OccurredAt:  time.Now().UTC(),
		Transaction: txn,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys every message by account id so all events of one
// account land on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Transaction.AccountID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event TransactionEvent) error {
	return nil
}

func (NopPublisher) Close() error {
	return nil
}
