package sink

import (
	"log"

	"github.com/tinytelemetry/anystat/internal/model"
)

// RecordRegistrar resolves the stable database id of a record.
type RecordRegistrar interface {
	RegisterRecord(info model.RecordInfo) (int64, error)
}

// SampleQueue accepts rows for batched insertion.
type SampleQueue interface {
	Add(row *model.SampleRow)
}

// Database registers records and queues their samples for storage.
type Database struct {
	records RecordRegistrar
	queue   SampleQueue
	ids     map[string]int64
}

// NewDatabase writes through records and queue.
func NewDatabase(records RecordRegistrar, queue SampleQueue) *Database {
	return &Database{records: records, queue: queue, ids: make(map[string]int64)}
}

func (d *Database) Name() string { return "database" }

func (d *Database) Handle(ev model.Event) {
	switch ev.Kind {
	case model.EventRecordCreated:
		d.id(ev.Record)
	case model.EventSample:
		id, ok := d.ids[ev.Sample.Path]
		if !ok {
			if id, ok = d.id(model.RecordInfo{Path: ev.Sample.Path, Name: ev.Sample.Path}); !ok {
				return
			}
		}
		d.queue.Add(&model.SampleRow{RecordID: id, Timestamp: ev.Sample.Timestamp, Value: ev.Sample.Value})
	}
}

func (d *Database) id(info model.RecordInfo) (int64, bool) {
	if id, ok := d.ids[info.Path]; ok {
		return id, true
	}
	id, err := d.records.RegisterRecord(info)
	if err != nil {
		log.Printf("sink: database: register %s: %v", info.Path, err)
		return 0, false
	}
	d.ids[info.Path] = id
	return id, true
}

// Close is a no-op; the owner stops the insert buffer after the queue
// in front of this sink has drained.
func (d *Database) Close() error { return nil }
