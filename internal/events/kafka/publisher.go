// Package kafka writes movement events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/ledgersmith/miniledger/internal/events"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *Publisher) Publish(event events.MovementRecorded) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(event.Route),
		Value: data,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ events.Publisher = (*Publisher)(nil)
