package source

import (
	"log"
	"time"

	"github.com/tinytelemetry/anystat/internal/record"
)

// listener accepts a bind address but performs no I/O yet.
type listener struct {
	rec  *record.Record
	addr string
}

func newListener(rec *record.Record) *listener {
	return &listener{rec: rec, addr: rec.Config().Target}
}

func (l *listener) Name() string { return l.rec.Name() }

func (l *listener) Start(time.Time) error {
	log.Printf("source: %s: listener on %s is not implemented, no data will be read", l.rec.Path(), l.addr)
	return nil
}

func (l *listener) Schedule(time.Time) (time.Duration, bool) { return 0, false }
func (l *listener) Tick(time.Time) error                     { return nil }
func (l *listener) AppendFDs(fds []int) []int                { return fds }
func (l *listener) Readable(int, time.Time) error            { return nil }
func (l *listener) Close() error                             { return nil }
