package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"conversation-service/internal/observability"
)

// Handler processes one delivery body.
type Handler func(body []byte) error

// Consumer reads events from an exclusive queue bound to a topic exchange.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *zap.Logger
}

// NewConsumer declares a server-named exclusive queue bound with every pattern.
func NewConsumer(amqpURL, exchange string, patterns []string, log *zap.Logger) (*Consumer, error) {
	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, pattern := range patterns {
		if err := ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", pattern, err)
		}
	}
	return &Consumer{conn: conn, ch: ch, queue: q.Name, log: log}, nil
}

// Run delivers messages to handle until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := handle(d.Body); err != nil {
				c.log.Warn("rabbitmq delivery rejected",
					zap.String("routing_key", d.RoutingKey),
					zap.String("request_id", headerString(d.Headers, observability.HeaderRequestID)),
					zap.String("trace_id", headerString(d.Headers, observability.HeaderTraceID)),
					zap.Error(err))
			}
		}
	}
}

func headerString(headers amqp.Table, name string) string {
	v, _ := headers[name].(string)
	return v
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}
