package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_store/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "store.events"
	exchangeType    = "topic"
)

// RabbitMQSink publishes to a durable topic exchange using the event type as
// routing key (order.created, stock.updated, ...).
type RabbitMQSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// DialRabbitMQ connects with a few retries, which covers broker containers
// that are still starting.
func DialRabbitMQ(url, exchange string, log *slog.Logger) (*RabbitMQSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("failed to connect to rabbitmq",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}
	return &RabbitMQSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *RabbitMQSink) Publish(ctx context.Context, event events.Event) error {
	return s.ch.PublishWithContext(ctx,
		s.exchange, // exchange
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		publishing(event),
	)
}

func publishing(event events.Event) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.OccurredAt,
		Headers:      amqp.Table{"aggregate_id": event.AggregateID},
		Body:         event.Payload,
	}
}

func (s *RabbitMQSink) Close() error {
	if err := s.ch.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
