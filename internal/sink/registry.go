package sink

import (
	"slices"
	"strings"
	"sync"

	"github.com/tinytelemetry/anystat/internal/model"
)

// Status is the latest known state of one record.
type Status struct {
	Info   model.RecordInfo `json:"info"`
	Stats  model.Stats      `json:"stats"`
	Alerts uint64           `json:"alerts"`

	root int // declaration index of the top-level ancestor
}

// Registry keeps the latest statistics per record for readers outside
// the reactor goroutine.
type Registry struct {
	mu     sync.RWMutex
	byPath map[string]*Status
	roots  map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]*Status), roots: make(map[string]int)}
}

func (r *Registry) Name() string { return "registry" }

func (r *Registry) Handle(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case model.EventRecordCreated:
		r.create(ev.Record)
	case model.EventSample:
		st := r.byPath[ev.Sample.Path]
		if st == nil {
			st = r.create(model.RecordInfo{Path: ev.Sample.Path, Name: ev.Sample.Path})
		}
		st.Stats = ev.Sample.Stats
	case model.EventAlert:
		if st := r.byPath[ev.Alert.Path]; st != nil {
			st.Alerts++
		}
	}
}

func (r *Registry) create(info model.RecordInfo) *Status {
	if st, ok := r.byPath[info.Path]; ok {
		return st
	}
	root, _, _ := strings.Cut(info.Path, "/")
	idx, ok := r.roots[root]
	if !ok {
		idx = len(r.roots)
		r.roots[root] = idx
	}
	st := &Status{Info: info, root: idx}
	r.byPath[info.Path] = st
	return st
}

func (r *Registry) Close() error { return nil }

// Get returns a copy of the status for path.
func (r *Registry) Get(path string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byPath[path]
	if !ok {
		return Status{}, false
	}
	return st.copy(), true
}

// Len is the number of known records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath)
}

// Snapshot returns every record in tree order: top-level records in the
// order they were declared, each followed by its descendants by name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.byPath))
	for _, st := range r.byPath {
		out = append(out, st.copy())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Status) int {
		if a.root != b.root {
			return a.root - b.root
		}
		return slices.Compare(strings.Split(a.Info.Path, "/"), strings.Split(b.Info.Path, "/"))
	})
	return out
}

func (st *Status) copy() Status {
	c := *st
	c.Stats.History = slices.Clone(st.Stats.History)
	return c
}
