// Package rabbitmq содержит подключение к RabbitMQ, объявление топологии
// и публикацию JSON-сообщений.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
)

// Connect подключается к брокеру, делая до retries попыток с паузой delay.
func Connect(ctx context.Context, url string, retries int, delay time.Duration, log *slog.Logger) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"

	attempts := max(retries, 1)
	var err error
	for attempt := 1; ; attempt++ {
		var conn *amqp.Connection
		if conn, err = amqp.Dial(url); err == nil {
			return conn, nil
		}
		if attempt == attempts {
			break
		}
		log.Warn("broker dial failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			sl.Err(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%s: %d attempts: %w", op, attempts, err)
}

// Declarer — часть *amqp.Channel, нужная для объявления топологии.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// SetupChannel открывает канал и объявляет на нём топологию.
func SetupChannel(conn *amqp.Connection, exchange string, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = DeclareTopology(ch, exchange, queues); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ch, nil
}

// DeclareTopology объявляет durable direct exchange и очереди. Для очереди с DeadLetter
// дополнительно объявляются exchange <exchange>.dlx и очередь <queue>.dlq, куда брокер
// перекладывает отклонённые потребителем сообщения.
func DeclareTopology(ch Declarer, exchange string, queues []QueueConfig) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	dlx := exchange + ".dlx"
	dlxDeclared := false
	for _, q := range queues {
		var args amqp.Table
		if q.DeadLetter {
			if !dlxDeclared {
				if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
					return fmt.Errorf("declare exchange %s: %w", dlx, err)
				}
				dlxDeclared = true
			}
			if err := declareBound(ch, q.QueueName+".dlq", q.RoutingKey, dlx, nil); err != nil {
				return err
			}
			args = amqp.Table{"x-dead-letter-exchange": dlx}
		}
		if err := declareBound(ch, q.QueueName, q.RoutingKey, exchange, args); err != nil {
			return err
		}
	}
	return nil
}

func declareBound(ch Declarer, queue, key, exchange string, args amqp.Table) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s with key %s: %w", queue, exchange, key, err)
	}
	return nil
}
