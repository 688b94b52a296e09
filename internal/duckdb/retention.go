package duckdb

import (
	"log"
	"sync"
	"time"
)

// DefaultRetentionInterval is how often expired samples are pruned.
const DefaultRetentionInterval = 6 * time.Hour

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// sampleDeleter is the part of Store the cleaner needs.
type sampleDeleter interface {
	DeleteBefore(cutoff time.Time) (int64, error)
}

// RetentionCleaner periodically deletes samples older than MaxAge.
type RetentionCleaner struct {
	store    sampleDeleter
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetentionCleaner creates a retention cleaner and runs one cleanup
// immediately. Returns nil when MaxAge is 0 (disabled).
func NewRetentionCleaner(store sampleDeleter, conf RetentionConfig) *RetentionCleaner {
	if conf.MaxAge <= 0 {
		return nil
	}
	interval := conf.Interval
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	rc := &RetentionCleaner{
		store:    store,
		maxAge:   conf.MaxAge,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := rc.now().Add(-rc.maxAge)

	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.Printf("duckdb: retention cleanup error: %v", err)
		return
	}
	if rows > 0 {
		log.Printf("duckdb: retention cleanup deleted %d expired samples (older than %s)", rows, rc.maxAge)
	}
}

// Stop signals the cleaner to stop and waits for it to finish. A nil
// cleaner is a no-op.
func (rc *RetentionCleaner) Stop() {
	if rc == nil {
		return
	}
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
