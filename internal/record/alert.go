package record

import (
	"fmt"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

// evaluate applies threshold hysteresis after an accepted report.
// Critical thresholds are checked first; a critical breach never also
// raises a warning.
func (t *Tree) evaluate(r *Record, v float64, now time.Time) {
	c := &r.cfg
	if desc, hit := breach(v, c.CritAbove, c.CritBelow); hit {
		t.hold(r, model.SeverityCrit, v, desc, now)
		return
	}
	if desc, hit := breach(v, c.WarnAbove, c.WarnBelow); hit {
		t.hold(r, model.SeverityWarn, v, desc, now)
		return
	}
	r.alertHold = 0
}

func (t *Tree) hold(r *Record, sev model.Severity, v float64, desc string, now time.Time) {
	r.alertHold++
	if r.alertHold < r.cfg.AlertAfter {
		return
	}
	if last, ok := r.lastFired[sev]; ok && t.alertRepeat > 0 && now.Sub(last) < t.alertRepeat {
		return
	}
	r.lastFired[sev] = now
	t.out.Alert(model.Alert{
		Severity:  sev,
		Path:      r.path,
		Message:   fmt.Sprintf("%s %s: value %g %s", r.path, sev, v, desc),
		Value:     v,
		Timestamp: now,
	})
}

func breach(v float64, above, below model.Limit) (string, bool) {
	if above.Above(v) {
		return fmt.Sprintf("above %g", above.Value), true
	}
	if below.Below(v) {
		return fmt.Sprintf("below %g", below.Value), true
	}
	return "", false
}
