package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/anystat/internal/model"
)

// Sender delivers a message to a running program. *tea.Program
// satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Sink forwards engine events to the dashboard. Send blocks until the
// program reads the message, so the sink belongs behind a sink.Async.
type Sink struct {
	to Sender
}

// NewSink returns a sink that sends to p.
func NewSink(p Sender) *Sink { return &Sink{to: p} }

func (s *Sink) Name() string { return "dashboard" }

func (s *Sink) Handle(ev model.Event) {
	if ev.Kind == model.EventSample {
		ev.Sample.Stats.History = append([]float64(nil), ev.Sample.Stats.History...)
	}
	s.to.Send(EventMsg{Event: ev})
}

func (s *Sink) Close() error { return nil }
