package source

import (
	"log"
	"strings"
	"time"

	"github.com/tinytelemetry/anystat/internal/extract"
	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
)

// parser applies the line filter and extraction for one record and feeds
// results into the tree.
type parser struct {
	tree   *record.Tree
	rec    *record.Record
	params extract.Params
	skip   int
	line   int
	stream bool // elapsed time is measured between lines

	matched  int
	lastLine time.Time
}

func newParser(tree *record.Tree, rec *record.Record, stream bool) *parser {
	cfg := rec.Config()
	return &parser{
		tree:   tree,
		rec:    rec,
		params: cfg.ExtractParams(),
		skip:   cfg.Skip,
		line:   cfg.Line,
		stream: stream,
	}
}

// Line handles one line and returns true once the configured fixed line
// has been consumed, meaning the rest of the cycle can be skipped.
func (p *parser) Line(line string, now time.Time) bool {
	res, ok, err := extract.Extract(line, p.params)
	if !ok {
		if err != nil {
			log.Printf("source: %s: %v", p.rec.Path(), err)
		}
		return false
	}
	p.matched++
	if p.matched <= p.skip {
		return false
	}
	if p.line > 0 && p.matched != p.line {
		return false
	}
	if err != nil {
		log.Printf("source: %s: line %d: %v", p.rec.Path(), p.matched, err)
		return p.line > 0
	}

	switch res.Kind {
	case extract.Count:
		if p.params.Mode == model.ModeElapsedTime {
			if p.stream {
				if !p.lastLine.IsZero() {
					p.tree.Observe(p.rec, now.Sub(p.lastLine).Seconds(), now)
				}
				p.lastLine = now
			}
			break
		}
		p.rec.AddLine()
	case extract.Value:
		p.tree.Observe(p.rec, res.Value, now)
	case extract.Name:
		p.tree.Child(p.rec, res.Name).AddLine()
		p.rec.AddLine()
	case extract.NameValue:
		var target *record.Record
		if p.params.Mode == model.ModeAggregate {
			target = p.tree.Descend(p.rec, strings.Split(res.Name, "."))
		} else {
			target = p.tree.Child(p.rec, res.Name)
		}
		p.tree.Observe(target, res.Value, now)
	}
	return p.line > 0
}

// Reset starts a new cycle of line numbering.
func (p *parser) Reset() { p.matched = 0 }

// Short reports whether the cycle ended before skip or the fixed line
// was reached.
func (p *parser) Short() bool {
	need := p.skip
	if p.line > need {
		need = p.line
	}
	return p.matched < need
}

// finishCycle reports what a completed read cycle owes: line counts for
// counting modes and the consolidation window otherwise.
func finishCycle(tree *record.Tree, rec *record.Record, now time.Time) {
	mode := rec.Config().Mode
	if mode.Counting() {
		tree.ReportCounts(rec, now)
	}
	tree.FlushWindow(rec, now)
}
