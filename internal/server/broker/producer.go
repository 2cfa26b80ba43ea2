// Package broker moves event envelopes over Kafka.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dmitrijs2005/docseal/internal/server/events"
)

const (
	maxAttempts  = 10
	batchTimeout = 50 * time.Millisecond
	ioTimeout    = 10 * time.Second
	minBytes     = 1
	maxBytes     = 10e6
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes envelopes keyed by their Key.
type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  maxAttempts,
		BatchTimeout: batchTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		RequiredAcks: kafka.RequireAll,
	}}
}

func (p *Producer) Publish(ctx context.Context, envs ...events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(envs))
	for i, env := range envs {
		data, err := events.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(env.Key),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(env.Type)},
				{Key: "event-id", Value: []byte(env.ID)},
			},
		}
	}

	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write messages: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}
