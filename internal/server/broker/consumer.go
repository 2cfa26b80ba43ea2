package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/events"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dispatcher handles one envelope; events.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, env events.Envelope) error
}

// Consumer reads topics as part of a consumer group. Every fetched message
// is committed after dispatch whatever the outcome.
type Consumer struct {
	r   messageReader
	log logging.Logger
}

func NewConsumer(brokers []string, topics []string, groupID string, log logging.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			GroupTopics: topics,
			MinBytes:    minBytes,
			MaxBytes:    maxBytes,
			MaxAttempts: maxAttempts,
		}),
		log: log.With("module", "consumer", "group", groupID),
	}
}

// Run blocks until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context, d Dispatcher) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		env, err := events.Unmarshal(msg.Value)
		if err != nil {
			c.log.Warn(ctx, "undecodable message dropped",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else {
			// the router has already logged handler failures
			_ = d.Dispatch(ctx, env)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error(ctx, "commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}
