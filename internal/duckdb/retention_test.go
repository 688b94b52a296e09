package duckdb

import (
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

type recordingDeleter struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (d *recordingDeleter) DeleteBefore(cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cutoffs = append(d.cutoffs, cutoff)
	return 1, nil
}

func TestRetentionCleaner_Disabled(t *testing.T) {
	if rc := NewRetentionCleaner(&recordingDeleter{}, RetentionConfig{}); rc != nil {
		t.Fatal("expected nil cleaner when MaxAge is 0")
	}
	var rc *RetentionCleaner
	rc.Stop()
}

func TestRetentionCleaner_StartupCleanup(t *testing.T) {
	d := &recordingDeleter{}
	before := time.Now()
	rc := NewRetentionCleaner(d, RetentionConfig{MaxAge: 48 * time.Hour})
	defer rc.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cutoffs) != 1 {
		t.Fatalf("cleanups = %d, want 1 at startup", len(d.cutoffs))
	}
	want := before.Add(-48 * time.Hour)
	if d.cutoffs[0].Before(want) {
		t.Errorf("cutoff %v is older than %v", d.cutoffs[0], want)
	}
}

func TestRetentionCleaner_PrunesStore(t *testing.T) {
	store := newTestStore(t)
	id := registerTestRecord(t, store, "load")
	old := time.Now().Add(-72 * time.Hour)
	if err := store.InsertSampleBatch([]*model.SampleRow{
		{RecordID: id, Timestamp: old, Value: 1},
		{RecordID: id, Timestamp: time.Now(), Value: 2},
	}); err != nil {
		t.Fatalf("InsertSampleBatch: %v", err)
	}

	rc := NewRetentionCleaner(store, RetentionConfig{MaxAge: 24 * time.Hour})
	rc.Stop()

	count, err := store.SampleCount()
	if err != nil {
		t.Fatalf("SampleCount: %v", err)
	}
	if count != 1 {
		t.Errorf("SampleCount = %d, want 1", count)
	}
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	cleaner := NewRetentionCleaner(&recordingDeleter{}, RetentionConfig{MaxAge: time.Hour})
	if cleaner == nil {
		t.Fatal("expected non-nil retention cleaner")
	}

	cleaner.Stop()
	cleaner.Stop()
}
