package rabbit

import (
	"context"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
)

// ConsumerConfig holds configuration for a queue consumer.
type ConsumerConfig struct {
	QueueName string

	// Prefetch bounds the number of unacknowledged deliveries per channel.
	Prefetch int

	// BufferSize sizes the adapted delivery channel.
	BufferSize int
}

// NewConsumerDefaults provides a config with sensible defaults.
func NewConsumerDefaults(queueName string) *ConsumerConfig {
	return &ConsumerConfig{
		QueueName:  queueName,
		Prefetch:   20,
		BufferSize: 100,
	}
}

// Consumer consumes one queue with manual acknowledgement and adapts each
// AMQP delivery into a messaging.Delivery for the receiver handler.
type Consumer struct {
	channel    *amqp091.Channel
	cfg        ConsumerConfig
	logger     zerolog.Logger
	outputChan chan messaging.Delivery
	doneChan   chan struct{}
	started    bool
	stopOnce   sync.Once
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewConsumer opens a dedicated channel for the queue and applies prefetch.
func NewConsumer(conn *Connection, cfg *ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	ch, err := conn.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("create consume channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set prefetch for %s: %w", cfg.QueueName, err)
		}
	}

	return &Consumer{
		channel:    ch,
		cfg:        *cfg,
		logger:     logger.With().Str("component", "RabbitConsumer").Str("queue", cfg.QueueName).Logger(),
		outputChan: make(chan messaging.Delivery, cfg.BufferSize),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the channel of adapted deliveries.
func (c *Consumer) Messages() <-chan messaging.Delivery {
	return c.outputChan
}

// Start begins consuming the queue. The adaptation goroutine runs until the
// broker delivery stream closes or ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	deliveries, err := c.channel.Consume(c.cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("consume queue %s: %w", c.cfg.QueueName, err)
	}

	c.logger.Info().Msg("Consuming queue.")
	c.started = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.outputChan)
		defer close(c.doneChan)

		for {
			select {
			case <-receiveCtx.Done():
				c.logger.Info().Msg("Consumer context cancelled, stopping.")
				return
			case d, ok := <-deliveries:
				if !ok {
					c.logger.Info().Msg("Broker delivery stream closed.")
					return
				}

				bodyCopy := make([]byte, len(d.Body))
				copy(bodyCopy, d.Body)
				adapted := messaging.Delivery{
					Queue:         c.cfg.QueueName,
					MessageID:     d.MessageId,
					CorrelationID: d.CorrelationId,
					Body:          bodyCopy,
					Redelivered:   d.Redelivered,
					Ack:           func() error { return d.Ack(false) },
					Nack:          func(requeue bool) error { return d.Nack(false, requeue) },
				}

				select {
				case c.outputChan <- adapted:
				case <-receiveCtx.Done():
					// Take no action on the delivery; the broker redelivers
					// unacknowledged messages once the channel closes.
					c.logger.Warn().Str("msg_id", d.MessageId).Msg("Consumer stopping, leaving delivery unacknowledged.")
					return
				}
			}
		}
	}()
	return nil
}

// Stop gracefully ceases consumption and closes the channel.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping consumer...")
		if c.cancelFunc != nil {
			c.cancelFunc()
		}
		if !c.started {
			// The adaptation goroutine owns doneChan once consumption begins;
			// without it, Stop must close the channel so Done does not hang.
			close(c.doneChan)
		}

		waitDone := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		if c.channel != nil {
			if closeErr := c.channel.Close(); closeErr != nil {
				c.logger.Warn().Err(closeErr).Msg("Failed to close consume channel.")
			}
		}
	})
	return err
}

// Done returns a channel closed when the consumer has fully shut down.
func (c *Consumer) Done() <-chan struct{} {
	return c.doneChan
}
