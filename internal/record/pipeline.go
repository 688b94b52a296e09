package record

import (
	"log"
	"math"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

// Observe feeds one raw reading through delta, rate and consolidation.
// It returns the reported sample, if any.
func (t *Tree) Observe(r *Record, raw float64, now time.Time) (model.Sample, bool) {
	v := raw
	if r.cfg.Delta {
		if !r.hasRaw {
			r.rawPrev, r.hasRaw = raw, true
			r.lastUpdate = now
			return model.Sample{}, false
		}
		if raw < r.rawPrev {
			log.Printf("record: %s: delta went backwards (%g < %g)", r.path, raw, r.rawPrev)
		}
		v = raw - r.rawPrev
		r.rawPrev = raw
	}

	if r.cfg.Rate > 0 {
		if r.lastUpdate.IsZero() {
			r.lastUpdate = now
			return model.Sample{}, false
		}
		elapsed := now.Sub(r.lastUpdate).Seconds()
		if elapsed <= 0 {
			return model.Sample{}, false
		}
		v /= elapsed * r.cfg.Rate
	}

	if r.cfg.Consolidation != model.ConsolNone {
		return t.consolidate(r, v, now)
	}
	return t.report(r, v, now)
}

func (t *Tree) consolidate(r *Record, v float64, now time.Time) (model.Sample, bool) {
	switch r.cfg.Consolidation {
	case model.ConsolFirst:
		if r.firstTaken {
			return model.Sample{}, false
		}
		r.firstTaken = true
		return t.report(r, v, now)
	case model.ConsolLast:
		r.consolAcc = v
	case model.ConsolMin:
		if r.consolCount == 0 || v < r.consolAcc {
			r.consolAcc = v
		}
	case model.ConsolMax:
		if r.consolCount == 0 || v > r.consolAcc {
			r.consolAcc = v
		}
	case model.ConsolSum, model.ConsolAvg:
		r.consolAcc += v
	}
	r.consolCount++
	return model.Sample{}, false
}

// ReportConsolidation closes the current window and reports its value.
// A "first" window is closed without a report since its value went out
// when it arrived.
func (t *Tree) ReportConsolidation(r *Record, now time.Time) (model.Sample, bool) {
	switch r.cfg.Consolidation {
	case model.ConsolNone:
		return model.Sample{}, false
	case model.ConsolFirst:
		r.firstTaken = false
		return model.Sample{}, false
	}
	v := r.consolAcc
	if r.cfg.Consolidation == model.ConsolAvg && r.consolCount > 0 {
		v /= float64(r.consolCount)
	}
	r.consolAcc, r.consolCount = 0, 0
	return t.report(r, v, now)
}

// FlushWindow closes the consolidation window of r, or of each child
// when r groups by name.
func (t *Tree) FlushWindow(r *Record, now time.Time) {
	if r.cfg.Consolidation == model.ConsolNone {
		return
	}
	if !r.cfg.Mode.Grouped() {
		t.ReportConsolidation(r, now)
		return
	}
	for _, c := range r.children {
		t.flushBelow(c, now)
	}
}

// flushBelow flushes r and its descendants. Inner nodes of a nested
// hierarchy only report when they received values themselves.
func (t *Tree) flushBelow(r *Record, now time.Time) {
	if len(r.children) == 0 || r.consolCount > 0 {
		t.ReportConsolidation(r, now)
	}
	for _, c := range r.children {
		t.flushBelow(c, now)
	}
}

// ReportCounts observes the line counts gathered this cycle for r and,
// for grouped counts, its children, then resets them.
func (t *Tree) ReportCounts(r *Record, now time.Time) {
	n := r.pending
	r.pending = 0
	t.Observe(r, float64(n), now)
	if r.cfg.Mode != model.ModeGroupCount {
		return
	}
	for _, c := range r.children {
		cn := c.pending
		c.pending = 0
		t.Observe(c, float64(cn), now)
	}
}

func (t *Tree) report(r *Record, v float64, now time.Time) (model.Sample, bool) {
	if r.sampleCount > 0 && now.Equal(r.lastUpdate) && v == r.lastValue {
		return model.Sample{}, false
	}

	r.history.Push(v)
	r.sampleCount++
	r.valueSum += v
	if r.sampleCount == 1 {
		r.valueMin, r.valueMax = v, v
	} else {
		r.valueMin = math.Min(r.valueMin, v)
		r.valueMax = math.Max(r.valueMax, v)

		r.updLast = now.Sub(r.lastUpdate).Seconds()
		r.updSum += r.updLast
		r.rocLast = 0
		if r.updLast > 0 {
			r.rocLast = math.Abs(v-r.lastValue) / r.updLast
		}
		r.rocSum += r.rocLast
		r.ampLast = math.Abs(v - r.valueSum/float64(r.sampleCount))
		r.ampSum += r.ampLast
	}
	r.lastUpdate = now
	r.lastValue = v

	s := model.Sample{Path: r.path, Value: v, Timestamp: now, Stats: r.Stats()}
	t.out.Sample(s)
	t.evaluate(r, v, now)
	return s, true
}
