package record

import (
	"fmt"
	"slices"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

// Emitter receives what the tree produces.
type Emitter interface {
	RecordCreated(info model.RecordInfo)
	Sample(s model.Sample)
	Alert(a model.Alert)
}

type nopEmitter struct{}

func (nopEmitter) RecordCreated(model.RecordInfo) {}
func (nopEmitter) Sample(model.Sample)            {}
func (nopEmitter) Alert(model.Alert)              {}

// Tree is the ordered set of top-level records and their children.
type Tree struct {
	roots       []*Record
	out         Emitter
	alertRepeat time.Duration
}

// NewTree returns an empty tree. alertRepeat is the minimum time between
// two alerts of the same severity on one record; zero disables
// suppression. A nil out discards events.
func NewTree(out Emitter, alertRepeat time.Duration) *Tree {
	if out == nil {
		out = nopEmitter{}
	}
	return &Tree{out: out, alertRepeat: alertRepeat}
}

// Add appends a top-level record. Top-level records keep declaration
// order.
func (t *Tree) Add(cfg Config) (*Record, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("record: empty name")
	}
	for _, r := range t.roots {
		if r.cfg.Name == cfg.Name {
			return nil, fmt.Errorf("record: duplicate name %q", cfg.Name)
		}
	}
	r := newRecord(cfg, nil)
	t.roots = append(t.roots, r)
	t.out.RecordCreated(r.Info())
	return r, nil
}

// Roots returns the top-level records in declaration order.
func (t *Tree) Roots() []*Record { return t.roots }

// Child finds the child of parent called name, creating it in sorted
// position if it does not exist yet.
func (t *Tree) Child(parent *Record, name string) *Record {
	i := 0
	for ; i < len(parent.children); i++ {
		c := parent.children[i]
		if c.cfg.Name == name {
			return c
		}
		if c.cfg.Name > name {
			break
		}
	}
	c := newRecord(parent.cfg.inherit(name), parent)
	parent.children = slices.Insert(parent.children, i, c)
	t.out.RecordCreated(c.Info())
	return c
}

// Descend walks names below parent, creating records as needed, and
// returns the last one.
func (t *Tree) Descend(parent *Record, names []string) *Record {
	r := parent
	for _, n := range names {
		if n == "" {
			continue
		}
		r = t.Child(r, n)
	}
	return r
}

// Walk visits every record in pre-order: roots in declaration order,
// children by name.
func (t *Tree) Walk(fn func(*Record)) {
	var visit func(*Record)
	visit = func(r *Record) {
		fn(r)
		for _, c := range r.children {
			visit(c)
		}
	}
	for _, r := range t.roots {
		visit(r)
	}
}

// Len counts all records.
func (t *Tree) Len() int {
	n := 0
	t.Walk(func(*Record) { n++ })
	return n
}
