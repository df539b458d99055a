// Package reconcile сообщает о транзакциях, которые были подтверждены у платёжного провайдера,
// но не прошли проверку на бэкенде. Такие транзакции разбираются вручную.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement/internal/lib/rabbitmq"
)

// EventType — значение заголовка type событий сверки.
const EventType = "reconciliation.unverified_transaction"

// Event — транзакция, требующая сверки.
type Event struct {
	TransactionID string    `json:"transaction_id"`
	OriginalID    string    `json:"original_transaction_id,omitempty"`
	ProductID     string    `json:"product_id"`
	UserID        string    `json:"user_id,omitempty"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// LogReporter пишет события в лог. Используется, когда брокер не настроен.
type LogReporter struct {
	log *slog.Logger
}

// NewLogReporter создаёт LogReporter.
func NewLogReporter(log *slog.Logger) *LogReporter {
	return &LogReporter{log: log}
}

func (r *LogReporter) Report(_ context.Context, ev Event) error {
	r.log.Warn("transaction requires reconciliation",
		slog.String("op", "reconcile.LogReporter.Report"),
		slog.String("transaction_id", ev.TransactionID),
		slog.String("product_id", ev.ProductID),
		slog.String("user_id", ev.UserID),
		slog.String("reason", ev.Reason),
	)
	return nil
}

// AMQPReporter публикует события в RabbitMQ.
type AMQPReporter struct {
	ch         rabbitmq.Channel
	exchange   string
	routingKey string
	log        *slog.Logger
}

// NewAMQPReporter создаёт издателя событий сверки.
func NewAMQPReporter(ch rabbitmq.Channel, exchange, routingKey string, log *slog.Logger) *AMQPReporter {
	return &AMQPReporter{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		log:        log,
	}
}

func (r *AMQPReporter) Report(ctx context.Context, ev Event) error {
	const op = "reconcile.AMQPReporter.Report"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// повторная публикация той же транзакции несёт тот же message_id
	msg := rabbitmq.Message{
		ID:        ev.TransactionID,
		Type:      EventType,
		Timestamp: ev.OccurredAt,
		Payload:   ev,
	}
	if err := rabbitmq.Publish(r.ch, r.exchange, r.routingKey, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.log.Info("reconciliation event published",
		slog.String("op", op),
		slog.String("transaction_id", ev.TransactionID),
	)
	return nil
}
