// Package sink fans engine events out to logging, storage, forwarding,
// alerting and display consumers.
package sink

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/anystat/internal/model"
)

// Hub implements record.Emitter by passing every event to each attached
// sink in order. It is called from the reactor goroutine.
type Hub struct {
	sinks []model.Sink
}

// NewHub returns a hub over sinks.
func NewHub(sinks ...model.Sink) *Hub {
	return &Hub{sinks: sinks}
}

// Attach adds a sink. It must not be called once events flow.
func (h *Hub) Attach(s model.Sink) { h.sinks = append(h.sinks, s) }

// Sinks returns the attached sinks.
func (h *Hub) Sinks() []model.Sink { return h.sinks }

func (h *Hub) RecordCreated(info model.RecordInfo) {
	h.dispatch(model.Event{Kind: model.EventRecordCreated, Record: info})
}

func (h *Hub) Sample(s model.Sample) {
	h.dispatch(model.Event{Kind: model.EventSample, Sample: s})
}

func (h *Hub) Alert(a model.Alert) {
	h.dispatch(model.Event{Kind: model.EventAlert, Alert: a})
}

func (h *Hub) dispatch(ev model.Event) {
	for _, s := range h.sinks {
		s.Handle(ev)
	}
}

// Close closes the sinks in attach order. Asynchronous sinks drain their
// queues first.
func (h *Hub) Close() error {
	var errs []error
	for _, s := range h.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink: close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
