package adapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"flowgate/internal/infrastructure/notify/port"
)

// RabbitSink publishes session events to a RabbitMQ topic exchange.
// Publishing is best-effort: failures are logged and swallowed so the
// session path is never blocked by a broker outage.
type RabbitSink struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

func NewRabbitSink(url, exchange string, log *slog.Logger) (*RabbitSink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &RabbitSink{conn: conn, exchange: exchange, log: log}, nil
}

var _ port.Sink = (*RabbitSink)(nil)

func (r *RabbitSink) Publish(ctx context.Context, evt port.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	ch, err := r.conn.Channel()
	if err != nil {
		r.log.Warn("notify: channel open failed", slog.String("kind", evt.Kind), slog.Any("error", err))
		return
	}
	defer ch.Close()

	body, err := json.Marshal(evt)
	if err != nil {
		r.log.Warn("notify: marshal failed", slog.String("kind", evt.Kind), slog.Any("error", err))
		return
	}

	err = ch.PublishWithContext(ctx, r.exchange, evt.Kind, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	})
	if err != nil {
		r.log.Warn("notify: publish failed",
			slog.String("kind", evt.Kind),
			slog.String("tenant", evt.TenantID),
			slog.Any("error", err),
		)
	}
}

func (r *RabbitSink) Close() error {
	return r.conn.Close()
}
