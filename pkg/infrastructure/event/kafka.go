package event

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"shopmall/pkg/domain/model"
)

// Each Dispatch writes a single message synchronously, so batching only adds latency.
const kafkaBatchTimeout = 10 * time.Millisecond

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaDispatcher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaDispatcher(brokersCSV, topic string, timeout time.Duration) *KafkaDispatcher {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: kafkaBatchTimeout,
		},
		timeout: timeout,
	}
}

func (d *KafkaDispatcher) Dispatch(event model.Event) error {
	envelope, body, err := NewEnvelope(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(envelope.AggregateID),
		Value: body,
		Time:  envelope.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(envelope.Type)},
			{Key: "event_id", Value: []byte(envelope.EventID)},
		},
	})
	return errors.Wrapf(err, "publish %s to kafka", envelope.Type)
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
