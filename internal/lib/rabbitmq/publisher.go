package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// AppID проставляется в заголовок app_id каждого сообщения.
const AppID = "entitlement"

// Channel — часть *amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message — событие и его AMQP-заголовки. Потребители отбрасывают повторы по ID.
type Message struct {
	ID        string
	Type      string
	Timestamp time.Time
	Payload   any
}

// Publish сериализует Payload в JSON и публикует его как persistent-сообщение.
func Publish(ch Channel, exchange, routingKey string, msg Message) error {
	const op = "rabbitmq.Publish"

	if msg.ID == "" {
		return fmt.Errorf("%s: empty message id", op)
	}
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	err = ch.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		AppId:        AppID,
		Timestamp:    ts.UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, msg.ID, err)
	}
	return nil
}
