package event

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"shopmall/pkg/domain/model"
)

// FanOut delivers every event to all targets even when one of them fails.
type FanOut []model.EventDispatcher

func (f FanOut) Dispatch(event model.Event) error {
	var first error
	failed := 0
	for _, target := range f {
		if err := target.Dispatch(event); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.Wrapf(first, "%d of %d dispatchers failed", failed, len(f))
	}
	return nil
}

// MetricsDispatcher counts events by type. StockRestoreFailed is the signal
// operators alert on: it means stock drifted and needs reconciliation.
type MetricsDispatcher struct {
	next     model.EventDispatcher
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func NewMetricsDispatcher(next model.EventDispatcher, registerer prometheus.Registerer) *MetricsDispatcher {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopmall",
		Subsystem: "events",
		Name:      "dispatched_total",
		Help:      "Domain events by type.",
	}, []string{"type"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopmall",
		Subsystem: "events",
		Name:      "dispatch_failures_total",
		Help:      "Domain events that could not be delivered to a broker.",
	}, []string{"type"})
	registerer.MustRegister(events, failures)

	return &MetricsDispatcher{next: next, events: events, failures: failures}
}

func (d *MetricsDispatcher) Dispatch(event model.Event) error {
	d.events.WithLabelValues(event.Type()).Inc()
	if err := d.next.Dispatch(event); err != nil {
		d.failures.WithLabelValues(event.Type()).Inc()
		return err
	}
	return nil
}
