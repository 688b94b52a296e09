package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/tinytelemetry/anystat/internal/model"
)

// Console prints a one-line summary of every sample.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	units map[string]string
}

// NewConsole writes to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, units: make(map[string]string)}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Handle(ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case model.EventRecordCreated:
		if ev.Record.Unit != "" {
			c.units[ev.Record.Path] = ev.Record.Unit
		}
	case model.EventSample:
		fmt.Fprintln(c.w, SummaryLine(ev.Sample, c.units[ev.Sample.Path]))
	}
}

func (c *Console) Close() error { return nil }

// SummaryLine renders value, mean, range, rate of change and amplitude.
// Rate of change is scaled to the largest unit that keeps it readable.
func SummaryLine(s model.Sample, unit string) string {
	st := s.Stats
	if unit != "" {
		unit = " " + unit
	}
	if st.Count < 2 {
		return fmt.Sprintf("[%s] %.3g%s", s.Path, s.Value, unit)
	}
	roc, per := ScaleRoC(st.RocMean)
	return fmt.Sprintf("[%s] %.3g%s <%.3g> [%.3g..%.3g] | RoC %.3g/%s | Amplitude %.3g | Cycle %.3gs",
		s.Path, s.Value, unit, st.Mean, st.Min, st.Max, roc, per, st.AmpMean, st.UpdMean)
}

// ScaleRoC expresses a per-second rate per hour, minute or second.
func ScaleRoC(perSec float64) (float64, string) {
	switch {
	case perSec < 0.1/60:
		return perSec * 3600, "h"
	case perSec < 0.1:
		return perSec * 60, "m"
	default:
		return perSec, "s"
	}
}
