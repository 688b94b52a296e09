package duckdb

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

type journaledRow struct {
	seq uint64
	row *model.SampleRow
}

// durableJournal is the write-ahead log in front of the buffer.
type durableJournal interface {
	Append(row *model.SampleRow) (uint64, error)
	Commit(seq uint64) error
	Replay(fn func(seq uint64, row *model.SampleRow) error) error
	Close() error
}

// InsertBuffer batches sample rows and flushes them to DuckDB asynchronously.
// Add never blocks on DuckDB writes; batches are handed to a flush goroutine.
type InsertBuffer struct {
	writer        model.SampleWriter
	mu            sync.Mutex
	pending       []journaledRow
	flushChan     chan []journaledRow
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once
	journal       durableJournal

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        durableJournal
}

// NewInsertBuffer creates an insert buffer that flushes to writer. When a
// journal is configured, its uncommitted rows are queued before any new
// ones.
func NewInsertBuffer(writer model.SampleWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := 500
	flushInterval := time.Second
	flushQueueSize := DefaultFlushQueueSize
	var j durableJournal
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		j = conf[0].Journal
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]journaledRow, 0, batchSize),
		flushChan:     make(chan []journaledRow, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		journal:       j,
	}
	if j != nil {
		b.replay()
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// replay queues the rows a previous run journaled but never stored.
func (b *InsertBuffer) replay() {
	n := 0
	err := b.journal.Replay(func(seq uint64, row *model.SampleRow) error {
		b.pending = append(b.pending, journaledRow{seq: seq, row: row})
		n++
		return nil
	})
	if err != nil {
		log.Printf("duckdb: journal replay stopped after %d rows: %v", n, err)
	}
	if n > 0 {
		log.Printf("duckdb: replaying %d journaled samples", n)
	}
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure, %d inline flushes (flush channel full)", count)
	}
}

// drainPending moves pending rows to the flush channel.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]journaledRow, 0, b.maxBatch)
	b.mu.Unlock()
	b.send(batch)
}

// send queues batch for the worker, flushing inline when the queue is full.
func (b *InsertBuffer) send(batch []journaledRow) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb: flush error (inline): %v", err)
		}
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb: flush error: %v", err)
		}
	}
}

// Add queues a row for batch insertion. It journals the row first when a
// journal is configured.
func (b *InsertBuffer) Add(row *model.SampleRow) {
	seq := uint64(0)
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(row)
			if err == nil {
				break
			}
			log.Printf("duckdb: journal append failed, retrying: %v", err)
			select {
			case <-b.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, journaledRow{seq: seq, row: row})
	var batch []journaledRow
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]journaledRow, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.send(batch)
	}
}

// Stop flushes remaining rows and waits for all writes to complete. It is
// safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// tickLoop's final drain must land before the channel closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				log.Printf("duckdb: journal close error: %v", err)
			}
		}
	})
}

func (b *InsertBuffer) flushBatch(batch []journaledRow) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]*model.SampleRow, 0, len(batch))
	var maxSeq uint64
	for _, item := range batch {
		rows = append(rows, item.row)
		maxSeq = max(maxSeq, item.seq)
	}
	if err := b.writer.InsertSampleBatch(rows); err != nil {
		return err
	}
	if b.journal != nil && maxSeq > 0 {
		if err := b.journal.Commit(maxSeq); err != nil {
			return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
		}
	}
	return nil
}
