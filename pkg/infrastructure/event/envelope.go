package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"shopmall/pkg/domain/model"
)

// Envelope is the wire form shared by every broker.
type Envelope struct {
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

func NewEnvelope(event model.Event) (Envelope, []byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, nil, errors.Wrapf(err, "marshal %s", event.Type())
	}

	envelope := Envelope{
		EventID:     uuid.NewString(),
		Type:        event.Type(),
		AggregateID: AggregateID(event),
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, nil, errors.Wrapf(err, "marshal %s envelope", event.Type())
	}
	return envelope, body, nil
}

// AggregateID is the partition key: events of one order, or of one product,
// keep their relative order on the broker.
func AggregateID(event model.Event) string {
	switch e := event.(type) {
	case model.OrderCreated:
		return e.OrderID.String()
	case model.OrderStatusChanged:
		return e.OrderID.String()
	case model.OrderCancelled:
		return e.OrderID.String()
	case model.OrderItemCancelled:
		return e.OrderID.String()
	case model.PaymentCompletedEvent:
		return e.OrderID.String()
	case model.PaymentFailedEvent:
		return e.OrderID.String()
	case model.PaymentCancelledEvent:
		return e.OrderID.String()
	case model.StockDeducted:
		return e.ProductID.String()
	case model.StockRestored:
		return e.ProductID.String()
	case model.StockRestoreFailed:
		return e.ProductID.String()
	}
	return ""
}
