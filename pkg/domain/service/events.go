package service

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

func dispatchEvents(dispatcher model.EventDispatcher, events ...model.Event) {
	for _, event := range events {
		if err := dispatcher.Dispatch(event); err != nil {
			log.WithError(err).WithField("event", event.Type()).Error("failed to dispatch event")
		}
	}
}

// eventBuffer holds events raised inside a lock until the lock is released.
type eventBuffer struct {
	mu     sync.Mutex
	events []model.Event
}

func (b *eventBuffer) add(events ...model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
}

func (b *eventBuffer) flush(dispatcher model.EventDispatcher) {
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()

	dispatchEvents(dispatcher, events...)
}
