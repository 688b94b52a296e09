package model

import "time"

// EventKind tags an Event.
type EventKind int

const (
	EventRecordCreated EventKind = iota + 1
	EventSample
	EventAlert
)

// Event is what the engine hands to sinks. Exactly one of Record,
// Sample or Alert is meaningful, selected by Kind.
type Event struct {
	Kind   EventKind
	Record RecordInfo
	Sample Sample
	Alert  Alert
}

// Sink consumes engine events. Handle is called from the engine
// goroutine and must not block on I/O.
type Sink interface {
	Name() string
	Handle(ev Event)
	Close() error
}

// SampleRow is a stored sample keyed by the database record id.
type SampleRow struct {
	RecordID  int64     `json:"record_id"`
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// StoredRecord is a registered record row.
type StoredRecord struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Parent    string    `json:"parent"`
	Kind      string    `json:"kind"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// SampleWriter is the append side of sample storage.
type SampleWriter interface {
	InsertSampleBatch(rows []*SampleRow) error
}

// SampleReader is the read side used by the HTTP API.
type SampleReader interface {
	Records() ([]StoredRecord, error)
	RecentSamples(path string, limit int) ([]SampleRow, error)
	SampleCount() (int64, error)
}
