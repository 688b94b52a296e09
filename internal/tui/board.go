package tui

import (
	"slices"
	"strings"

	"github.com/tinytelemetry/anystat/internal/model"
)

// panel is the dashboard's view of one record.
type panel struct {
	info      model.RecordInfo
	stats     model.Stats
	alerts    int
	lastAlert model.Severity
	root      int
}

// board is the state shared by every page: records in tree order and
// the selection.
type board struct {
	panels   []*panel
	byPath   map[string]*panel
	roots    map[string]int
	selected int
	paused   bool
	pending  map[string]model.Stats // samples held back while paused
}

func newBoard() *board {
	return &board{
		byPath:  make(map[string]*panel),
		roots:   make(map[string]int),
		pending: make(map[string]model.Stats),
	}
}

func (b *board) apply(ev model.Event) {
	switch ev.Kind {
	case model.EventRecordCreated:
		b.add(ev.Record)
	case model.EventSample:
		p := b.byPath[ev.Sample.Path]
		if p == nil {
			p = b.add(model.RecordInfo{Path: ev.Sample.Path, Name: ev.Sample.Path})
		}
		if b.paused {
			b.pending[p.info.Path] = ev.Sample.Stats
			return
		}
		p.stats = ev.Sample.Stats
	case model.EventAlert:
		if p := b.byPath[ev.Alert.Path]; p != nil {
			p.alerts++
			p.lastAlert = ev.Alert.Severity
		}
	}
}

// add inserts a panel at its tree position: roots in arrival order,
// descendants after their ancestor sorted by path component.
func (b *board) add(info model.RecordInfo) *panel {
	if p, ok := b.byPath[info.Path]; ok {
		return p
	}
	rootName, _, _ := strings.Cut(info.Path, "/")
	root, ok := b.roots[rootName]
	if !ok {
		root = len(b.roots)
		b.roots[rootName] = root
	}
	p := &panel{info: info, root: root}
	b.byPath[info.Path] = p

	var current *panel
	if b.selected < len(b.panels) {
		current = b.panels[b.selected]
	}
	i, _ := slices.BinarySearchFunc(b.panels, p, comparePanels)
	b.panels = slices.Insert(b.panels, i, p)
	if current != nil {
		b.selected = slices.Index(b.panels, current)
	}
	return p
}

func comparePanels(a, b *panel) int {
	if a.root != b.root {
		return a.root - b.root
	}
	return slices.Compare(strings.Split(a.info.Path, "/"), strings.Split(b.info.Path, "/"))
}

func (b *board) move(delta int) {
	if len(b.panels) == 0 {
		return
	}
	b.selected = min(max(b.selected+delta, 0), len(b.panels)-1)
}

func (b *board) current() *panel {
	if b.selected < 0 || b.selected >= len(b.panels) {
		return nil
	}
	return b.panels[b.selected]
}

func (b *board) togglePause() {
	b.paused = !b.paused
	if b.paused {
		return
	}
	for path, st := range b.pending {
		if p := b.byPath[path]; p != nil {
			p.stats = st
		}
	}
	clear(b.pending)
}
