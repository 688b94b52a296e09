package sink

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

// DefaultQueueSize is the event capacity of an Async sink.
const DefaultQueueSize = 1024

// Async runs a blocking sink on its own goroutine behind a bounded queue.
// Handle never blocks: when the queue is full the event is dropped.
type Async struct {
	inner  model.Sink
	events chan model.Event
	onDrop func()
	wg     sync.WaitGroup
	once   sync.Once

	dropped     atomic.Int64
	lastDropLog atomic.Int64 // unix timestamp of last drop log
}

// AsyncConfig holds tunable parameters for an Async sink.
type AsyncConfig struct {
	QueueSize int
	OnDrop    func() // called for every dropped event
}

// NewAsync starts the worker for inner.
func NewAsync(inner model.Sink, conf ...AsyncConfig) *Async {
	size := DefaultQueueSize
	var onDrop func()
	if len(conf) > 0 {
		if conf[0].QueueSize > 0 {
			size = conf[0].QueueSize
		}
		onDrop = conf[0].OnDrop
	}
	a := &Async{
		inner:  inner,
		events: make(chan model.Event, size),
		onDrop: onDrop,
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

func (a *Async) Name() string { return a.inner.Name() }

func (a *Async) Handle(ev model.Event) {
	select {
	case a.events <- ev:
	default:
		a.drop()
	}
}

// Dropped is the number of events lost to a full queue.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// drop counts a lost event and logs at most once per 10 seconds.
func (a *Async) drop() {
	count := a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop()
	}
	now := time.Now().Unix()
	last := a.lastDropLog.Load()
	if now-last >= 10 && a.lastDropLog.CompareAndSwap(last, now) {
		log.Printf("sink: %s: queue full, %d events dropped", a.inner.Name(), count)
	}
}

func (a *Async) worker() {
	defer a.wg.Done()
	for ev := range a.events {
		a.inner.Handle(ev)
	}
}

// Close drains the queue and closes the wrapped sink. Handle must not be
// called afterwards.
func (a *Async) Close() error {
	var err error
	a.once.Do(func() {
		close(a.events)
		a.wg.Wait()
		err = a.inner.Close()
	})
	return err
}
