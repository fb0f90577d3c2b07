package event

import (
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) Dispatch(event model.Event) error {
	log.WithFields(log.Fields{
		"event":        event.Type(),
		"aggregate_id": AggregateID(event),
	}).Info("domain event")
	return nil
}
