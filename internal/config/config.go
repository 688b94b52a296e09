// Package config turns raw record definitions, as decoded from the agent
// config file, into validated record configurations.
package config

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/anystat/internal/extract"
	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
)

// ErrInvalid is wrapped by every resolution error.
var ErrInvalid = errors.New("invalid record definition")

// RecordSpec is one entry of the records list. Exactly one of Cat, Tail,
// Cmd, Pipe and Listen must be set.
type RecordSpec struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Cat    string `mapstructure:"cat" yaml:"cat,omitempty"`
	Tail   string `mapstructure:"tail" yaml:"tail,omitempty"`
	Cmd    string `mapstructure:"cmd" yaml:"cmd,omitempty"`
	Pipe   string `mapstructure:"pipe" yaml:"pipe,omitempty"`
	Listen string `mapstructure:"listen" yaml:"listen,omitempty"`

	ValueX      int    `mapstructure:"valuex" yaml:"valuex,omitempty"`
	NameX       int    `mapstructure:"namex" yaml:"namex,omitempty"`
	Line        int    `mapstructure:"line" yaml:"line,omitempty"`
	Skip        int    `mapstructure:"skip" yaml:"skip,omitempty"`
	Interval    int    `mapstructure:"interval" yaml:"interval,omitempty"` // seconds
	Regex       string `mapstructure:"regex" yaml:"regex,omitempty"`
	RegexEngine string `mapstructure:"regex-engine" yaml:"regex-engine,omitempty"`

	Delta     bool   `mapstructure:"delta" yaml:"delta,omitempty"`
	Rate      string `mapstructure:"rate" yaml:"rate,omitempty"`
	Consol    string `mapstructure:"consol" yaml:"consol,omitempty"`
	Time      bool   `mapstructure:"time" yaml:"time,omitempty"`
	Aggregate bool   `mapstructure:"aggregate" yaml:"aggregate,omitempty"`

	Unit     string   `mapstructure:"unit" yaml:"unit,omitempty"`
	ScaleMin *float64 `mapstructure:"scale-min" yaml:"scale-min,omitempty"`
	ScaleMax *float64 `mapstructure:"scale-max" yaml:"scale-max,omitempty"`

	WarnAbove  *float64 `mapstructure:"warn-above" yaml:"warn-above,omitempty"`
	WarnBelow  *float64 `mapstructure:"warn-below" yaml:"warn-below,omitempty"`
	CritAbove  *float64 `mapstructure:"crit-above" yaml:"crit-above,omitempty"`
	CritBelow  *float64 `mapstructure:"crit-below" yaml:"crit-below,omitempty"`
	AlertAfter int      `mapstructure:"alert-after" yaml:"alert-after,omitempty"`
}

// source returns the single configured source kind and its target.
func (s RecordSpec) source() (model.SourceKind, string, error) {
	var (
		kind   model.SourceKind
		target string
		n      int
	)
	for _, c := range []struct {
		k model.SourceKind
		v string
	}{
		{model.SourceSnapshot, s.Cat},
		{model.SourceTail, s.Tail},
		{model.SourceCommandOnce, s.Cmd},
		{model.SourceCommandStream, s.Pipe},
		{model.SourceListener, s.Listen},
	} {
		if c.v == "" {
			continue
		}
		kind, target = c.k, c.v
		n++
	}
	switch n {
	case 0:
		return 0, "", errors.New("no source (cat, tail, cmd, pipe or listen)")
	case 1:
		return kind, target, nil
	default:
		return 0, "", errors.New("more than one source")
	}
}

// Resolve validates s and fills in its derived settings.
func Resolve(s RecordSpec) (record.Config, error) {
	fail := func(format string, args ...any) (record.Config, error) {
		return record.Config{}, fmt.Errorf("%w: record %q: %s", ErrInvalid, s.Name, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(s.Name) == "" {
		return fail("name is required")
	}
	if strings.Contains(s.Name, "/") {
		return fail("name must not contain '/'")
	}
	kind, target, err := s.source()
	if err != nil {
		return fail("%v", err)
	}
	if s.ValueX < 0 || s.NameX < 0 || s.Line < 0 || s.Skip < 0 || s.Interval < 0 || s.AlertAfter < 0 {
		return fail("negative setting")
	}
	if s.ValueX != 0 && s.ValueX == s.NameX {
		return fail("namex and valuex cannot both be %d", s.ValueX)
	}
	if (s.Line != 0 || s.Skip != 0) && kind != model.SourceSnapshot && kind != model.SourceCommandOnce {
		return fail("line and skip apply to cat and cmd only")
	}
	if s.Line != 0 && s.Skip != 0 {
		return fail("line and skip are mutually exclusive")
	}

	cfg := record.Config{
		Name:       s.Name,
		Kind:       kind,
		Target:     target,
		Skip:       s.Skip,
		Line:       s.Line,
		ValueIndex: s.ValueX,
		NameIndex:  s.NameX,
		Delimiter:  ' ',
		Delta:      s.Delta,
		WarnAbove:  limit(s.WarnAbove),
		WarnBelow:  limit(s.WarnBelow),
		CritAbove:  limit(s.CritAbove),
		CritBelow:  limit(s.CritBelow),
		AlertAfter: s.AlertAfter,
		Unit:       s.Unit,
		ScaleMin:   limit(s.ScaleMin),
		ScaleMax:   limit(s.ScaleMax),
	}
	if cfg.AlertAfter == 0 {
		cfg.AlertAfter = 1
	}
	if cfg.Rate, err = parseRate(s.Rate); err != nil {
		return fail("%v", err)
	}
	if cfg.Consolidation, err = model.ParseConsolidation(s.Consol); err != nil {
		return fail("%v", err)
	}
	if s.Regex != "" {
		if cfg.Pattern, err = extract.Compile(s.Regex, s.RegexEngine); err != nil {
			return fail("%v", err)
		}
	}

	cfg.Mode = mode(s)
	switch cfg.Mode {
	case model.ModeElapsedTime, model.ModeAggregate:
		override(&cfg, s)
	}
	cfg.Interval = interval(cfg.Kind, cfg.Mode, s.Interval)

	if cfg.Consolidation != model.ConsolNone {
		switch cfg.Mode {
		case model.ModeLineCount, model.ModeFixedLineWordPosition, model.ModeGroupCount:
			return fail("mode %v cannot use consolidation", cfg.Mode)
		}
		if (kind == model.SourceTail || kind == model.SourceCommandStream) && cfg.Interval == 0 {
			return fail("%v without an interval cannot use consolidation", kind)
		}
	}
	return cfg, nil
}

// ResolveAll resolves every spec and rejects duplicate names.
func ResolveAll(specs []RecordSpec) ([]record.Config, error) {
	seen := make(map[string]bool, len(specs))
	out := make([]record.Config, 0, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate record name %q", ErrInvalid, s.Name)
		}
		seen[s.Name] = true
		cfg, err := Resolve(s)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func mode(s RecordSpec) model.ExtractMode {
	switch {
	case s.Time:
		return model.ModeElapsedTime
	case s.Aggregate:
		return model.ModeAggregate
	case s.ValueX != 0 && s.NameX != 0:
		return model.ModeGroupValue
	case s.ValueX != 0 && s.Line != 0:
		return model.ModeFixedLineWordPosition
	case s.ValueX != 0:
		return model.ModeWordPosition
	case s.NameX != 0:
		return model.ModeGroupCount
	default:
		return model.ModeLineCount
	}
}

// override clears the options that time and aggregate modes replace.
func override(cfg *record.Config, s RecordSpec) {
	for _, o := range []struct {
		set  bool
		name string
	}{
		{s.Line != 0, "line"},
		{s.ValueX != 0, "valuex"},
		{s.NameX != 0, "namex"},
		{s.Delta, "delta"},
		{cfg.Consolidation != model.ConsolNone, "consol"},
	} {
		if o.set {
			log.Printf("config: %s: mode %v overrides %s", s.Name, cfg.Mode, o.name)
		}
	}
	cfg.Line = 0
	cfg.Delta = false
	cfg.Consolidation = model.ConsolNone
	if cfg.Mode == model.ModeElapsedTime {
		cfg.Rate = 0
		cfg.ValueIndex, cfg.NameIndex = 0, 0
		return
	}
	// aggregate lines are "<dotted.name> <value>"
	cfg.NameIndex, cfg.ValueIndex = 1, 2
}

func interval(kind model.SourceKind, mode model.ExtractMode, secs int) time.Duration {
	d := time.Duration(secs) * time.Second
	periodic := kind != model.SourceTail || mode.Counting()
	switch {
	case d == 0 && periodic:
		return model.DefaultInterval
	case d > 0 && d < model.MinInterval:
		return model.MinInterval
	default:
		return d
	}
}

// parseRate accepts persec, permin or a positive integer divisor.
func parseRate(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0, nil
	case "persec":
		return 1, nil
	case "permin":
		return 60, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("rate %q: want persec, permin or a positive integer", s)
	}
	return float64(n), nil
}

func limit(p *float64) model.Limit {
	if p == nil {
		return model.Limit{}
	}
	return model.LimitOf(*p)
}
