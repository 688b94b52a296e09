// Package record holds the metric records, their tree, and the numeric
// pipeline that turns raw readings into reported samples.
//
// Records are owned by a single goroutine (the reactor); nothing here is
// safe for concurrent use.
package record

import (
	"time"

	"github.com/tinytelemetry/anystat/internal/extract"
	"github.com/tinytelemetry/anystat/internal/model"
)

// Config is a fully resolved record definition.
type Config struct {
	Name   string
	Kind   model.SourceKind
	Mode   model.ExtractMode
	Target string // file path, command line, or listen address

	Interval   time.Duration // zero for purely event-driven sources
	Skip       int
	Line       int
	ValueIndex int
	NameIndex  int
	Delimiter  byte
	Pattern    extract.Pattern

	Delta         bool
	Rate          float64 // seconds per unit; zero disables rate
	Consolidation model.Consolidation

	WarnAbove  model.Limit
	WarnBelow  model.Limit
	CritAbove  model.Limit
	CritBelow  model.Limit
	AlertAfter int

	Unit     string
	ScaleMin model.Limit
	ScaleMax model.Limit
}

// ExtractParams returns the extractor settings for this record.
func (c Config) ExtractParams() extract.Params {
	return extract.Params{
		Mode:       c.Mode,
		Pattern:    c.Pattern,
		ValueIndex: c.ValueIndex,
		NameIndex:  c.NameIndex,
		Delimiter:  c.Delimiter,
	}
}

// inherit returns the configuration a child named name gets from c.
func (c Config) inherit(name string) Config {
	return Config{
		Name:          name,
		Kind:          c.Kind,
		Mode:          c.Mode,
		Delta:         c.Delta,
		Rate:          c.Rate,
		Consolidation: c.Consolidation,
		WarnAbove:     c.WarnAbove,
		WarnBelow:     c.WarnBelow,
		CritAbove:     c.CritAbove,
		CritBelow:     c.CritBelow,
		AlertAfter:    c.AlertAfter,
		Unit:          c.Unit,
		ScaleMin:      c.ScaleMin,
		ScaleMax:      c.ScaleMax,
	}
}

// Record is one tracked metric series.
type Record struct {
	cfg      Config
	path     string
	parent   *Record
	children []*Record // sorted by name

	// pipeline state
	rawPrev     float64
	hasRaw      bool
	consolAcc   float64
	consolCount int
	firstTaken  bool
	pending     int

	// running statistics
	sampleCount uint64
	valueSum    float64
	valueMin    float64
	valueMax    float64
	updLast     float64
	updSum      float64
	rocLast     float64
	rocSum      float64
	ampLast     float64
	ampSum      float64
	lastValue   float64
	lastUpdate  time.Time
	history     Ring

	alertHold int
	lastFired map[model.Severity]time.Time
}

func newRecord(cfg Config, parent *Record) *Record {
	r := &Record{
		cfg:       cfg,
		path:      cfg.Name,
		parent:    parent,
		history:   NewRing(model.HistorySize),
		lastFired: make(map[model.Severity]time.Time, 2),
	}
	if parent != nil {
		r.path = parent.path + "/" + cfg.Name
	}
	return r
}

func (r *Record) Name() string        { return r.cfg.Name }
func (r *Record) Path() string        { return r.path }
func (r *Record) Parent() *Record     { return r.parent }
func (r *Record) Config() Config      { return r.cfg }
func (r *Record) History() *Ring      { return &r.history }
func (r *Record) SampleCount() uint64 { return r.sampleCount }

// Children returns the child records in name order. The slice must not
// be modified.
func (r *Record) Children() []*Record { return r.children }

// AddLine counts one line toward the current cycle.
func (r *Record) AddLine() { r.pending++ }

// Pending is the number of lines counted this cycle.
func (r *Record) Pending() int { return r.pending }

// AlertHold is the current consecutive-breach counter.
func (r *Record) AlertHold() int { return r.alertHold }

// Info describes the record for creation events.
func (r *Record) Info() model.RecordInfo {
	info := model.RecordInfo{
		Path:     r.path,
		Name:     r.cfg.Name,
		Kind:     r.cfg.Kind,
		Mode:     r.cfg.Mode,
		Unit:     r.cfg.Unit,
		ScaleMin: r.cfg.ScaleMin,
		ScaleMax: r.cfg.ScaleMax,
	}
	if r.parent != nil {
		info.Parent = r.parent.path
	}
	return info
}

// Stats snapshots the running statistics.
func (r *Record) Stats() model.Stats {
	s := model.Stats{
		Count:      r.sampleCount,
		Last:       r.lastValue,
		Min:        r.valueMin,
		Max:        r.valueMax,
		RocLast:    r.rocLast,
		AmpLast:    r.ampLast,
		UpdLast:    r.updLast,
		LastUpdate: r.lastUpdate,
		History:    r.history.Values(),
	}
	if r.sampleCount > 0 {
		s.Mean = r.valueSum / float64(r.sampleCount)
	}
	if r.sampleCount > 1 {
		n := float64(r.sampleCount - 1)
		s.RocMean = r.rocSum / n
		s.AmpMean = r.ampSum / n
		s.UpdMean = r.updSum / n
	}
	return s
}
