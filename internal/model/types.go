package model

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies where a record's raw data comes from.
type SourceKind int

const (
	SourceSnapshot SourceKind = iota + 1 // file re-read each cycle
	SourceTail                           // growing/rotating file
	SourceCommandOnce                    // subprocess run once per cycle
	SourceCommandStream                  // long-lived subprocess
	SourceListener                       // network listener (stub)
)

var sourceKindNames = map[SourceKind]string{
	SourceSnapshot:      "cat",
	SourceTail:          "tail",
	SourceCommandOnce:   "cmd",
	SourceCommandStream: "pipe",
	SourceListener:      "listen",
}

func (k SourceKind) String() string {
	if s, ok := sourceKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// ParseSourceKind maps a config key (cat, tail, cmd, pipe, listen) to a kind.
func ParseSourceKind(s string) (SourceKind, error) {
	for k, name := range sourceKindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("model: unknown source kind %q", s)
}

// Periodic reports whether sources of this kind are read on a timer
// regardless of extraction mode.
func (k SourceKind) Periodic() bool {
	return k == SourceSnapshot || k == SourceCommandOnce || k == SourceCommandStream
}

// ExtractMode selects what a parsed line contributes to its record.
type ExtractMode int

const (
	ModeLineCount ExtractMode = iota + 1
	ModeWordPosition
	ModeFixedLineWordPosition
	ModeGroupCount
	ModeGroupValue
	ModeElapsedTime
	ModeAggregate
)

func (m ExtractMode) String() string {
	switch m {
	case ModeLineCount:
		return "count"
	case ModeWordPosition:
		return "valpos"
	case ModeFixedLineWordPosition:
		return "linevalpos"
	case ModeGroupCount:
		return "namecount"
	case ModeGroupValue:
		return "namevalpos"
	case ModeElapsedTime:
		return "time"
	case ModeAggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("ExtractMode(%d)", int(m))
	}
}

// Counting reports whether the mode reports per-cycle line counts.
func (m ExtractMode) Counting() bool {
	return m == ModeLineCount || m == ModeGroupCount
}

// Grouped reports whether the mode creates child records by name.
func (m ExtractMode) Grouped() bool {
	return m == ModeGroupCount || m == ModeGroupValue || m == ModeAggregate
}

// Consolidation reduces all samples of one interval to a single value.
type Consolidation int

const (
	ConsolNone Consolidation = iota
	ConsolFirst
	ConsolLast
	ConsolMin
	ConsolMax
	ConsolSum
	ConsolAvg
)

var consolNames = [...]string{"none", "first", "last", "min", "max", "sum", "avg"}

func (c Consolidation) String() string {
	if c >= 0 && int(c) < len(consolNames) {
		return consolNames[c]
	}
	return fmt.Sprintf("Consolidation(%d)", int(c))
}

// ParseConsolidation accepts the names produced by String. The empty
// string means none.
func ParseConsolidation(s string) (Consolidation, error) {
	if s == "" {
		return ConsolNone, nil
	}
	for i, name := range consolNames {
		if strings.EqualFold(name, s) {
			return Consolidation(i), nil
		}
	}
	return ConsolNone, fmt.Errorf("model: unknown consolidation %q", s)
}

// Severity of an alert.
type Severity int

const (
	SeverityWarn Severity = iota + 1
	SeverityCrit
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warning"
	case SeverityCrit:
		return "critical"
	default:
		return "unknown"
	}
}

// Limit is an optional threshold value.
type Limit struct {
	Value float64
	Set   bool
}

// LimitOf returns a set limit.
func LimitOf(v float64) Limit { return Limit{Value: v, Set: true} }

// Above reports whether v exceeds a set limit.
func (l Limit) Above(v float64) bool { return l.Set && v > l.Value }

// Below reports whether v is under a set limit.
func (l Limit) Below(v float64) bool { return l.Set && v < l.Value }

// RecordInfo describes a record at creation time.
type RecordInfo struct {
	Path     string // slash-separated, e.g. "procs/sshd"
	Name     string
	Parent   string // parent path, empty for top-level records
	Kind     SourceKind
	Mode     ExtractMode
	Unit     string
	ScaleMin Limit
	ScaleMax Limit
}

// Sample is one normalized value reported by a record.
type Sample struct {
	Path      string
	Value     float64
	Timestamp time.Time
	Stats     Stats
}

// Stats is a point-in-time copy of a record's running statistics.
type Stats struct {
	Count      uint64
	Last       float64
	Min        float64
	Max        float64
	Mean       float64
	RocLast    float64
	RocMean    float64
	AmpLast    float64
	AmpMean    float64
	UpdLast    float64 // seconds
	UpdMean    float64 // seconds
	LastUpdate time.Time
	History    []float64 // newest first
}

// Alert is raised when a record breaches a threshold often enough.
type Alert struct {
	Severity  Severity
	Path      string
	Message   string
	Value     float64
	Timestamp time.Time
}
