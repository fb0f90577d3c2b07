package event

import (
	"context"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"shopmall/pkg/domain/model"
)

const routingKeyPrefix = "shopmall."

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPDispatcher struct {
	conn     *amqp.Connection
	channel  publisher
	exchange string
	timeout  time.Duration
}

// NewAMQPDispatcher declares a durable topic exchange; consumers bind queues by
// routing key, e.g. "shopmall.Stock*".
func NewAMQPDispatcher(url, exchange string, timeout time.Duration) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return &AMQPDispatcher{conn: conn, channel: channel, exchange: exchange, timeout: timeout}, nil
}

func (d *AMQPDispatcher) Dispatch(event model.Event) error {
	envelope, body, err := NewEnvelope(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err = d.channel.PublishWithContext(ctx, d.exchange, routingKeyPrefix+envelope.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    envelope.EventID,
		Timestamp:    envelope.OccurredAt,
		Type:         envelope.Type,
		Body:         body,
	})
	return errors.Wrapf(err, "publish %s to amqp", envelope.Type)
}

func (d *AMQPDispatcher) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
