package reactor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
	"github.com/tinytelemetry/anystat/internal/source"
)

// chanEmitter forwards samples out of the reactor goroutine.
type chanEmitter struct{ samples chan model.Sample }

func (e chanEmitter) RecordCreated(model.RecordInfo) {}
func (e chanEmitter) Alert(model.Alert)              {}
func (e chanEmitter) Sample(s model.Sample) {
	select {
	case e.samples <- s:
	default:
	}
}

type harness struct {
	r    *Reactor
	tree *record.Tree
	out  chanEmitter
	errc chan error
}

func newHarness(t *testing.T, cfgs ...record.Config) *harness {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := chanEmitter{samples: make(chan model.Sample, 64)}
	tree := record.NewTree(out, 0)
	env := source.Env{Tree: tree, Spawner: r.Supervisor(), Watcher: r, RelaunchBackoff: 20 * time.Millisecond}
	for _, cfg := range cfgs {
		rec, err := tree.Add(cfg)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		src, err := source.New(rec, env)
		if err != nil {
			t.Fatalf("source.New: %v", err)
		}
		r.Add(src)
	}
	return &harness{r: r, tree: tree, out: out, errc: make(chan error, 1)}
}

func (h *harness) start(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.errc <- h.r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.errc:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return cancel
}

func (h *harness) next(t *testing.T) model.Sample {
	t.Helper()
	select {
	case s := <-h.out.samples:
		return s
	case err := <-h.errc:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sample")
	}
	return model.Sample{}
}

func TestRun_CommandCount(t *testing.T) {
	h := newHarness(t, record.Config{
		Name: "lines", Kind: model.SourceCommandOnce, Mode: model.ModeLineCount,
		Target: "printf 'a\\nb\\nc\\n'", Interval: time.Hour,
	})
	h.start(t)
	s := h.next(t)
	if s.Path != "lines" || s.Value != 3 {
		t.Errorf("sample = %s/%v, want lines/3", s.Path, s.Value)
	}
}

func TestRun_SnapshotInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	if err := os.WriteFile(path, []byte("7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, record.Config{
		Name: "v", Kind: model.SourceSnapshot, Mode: model.ModeWordPosition,
		Target: path, ValueIndex: 1, Interval: 50 * time.Millisecond,
	})
	h.start(t)
	first := h.next(t)
	second := h.next(t)
	if first.Value != 7 || second.Value != 7 {
		t.Errorf("values = %v,%v, want 7,7", first.Value, second.Value)
	}
	if gap := second.Timestamp.Sub(first.Timestamp); gap < 40*time.Millisecond {
		t.Errorf("gap between reads = %v, want about the interval", gap)
	}
}

func TestRun_TailWakesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, record.Config{
		Name: "lat", Kind: model.SourceTail, Mode: model.ModeWordPosition,
		Target: path, ValueIndex: 2,
	})
	h.start(t)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	// keep writing until the watch is armed and a line is seen
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case s := <-h.out.samples:
			if s.Value != 12 {
				t.Errorf("value = %v, want 12", s.Value)
			}
			return
		case <-tick.C:
			f.WriteString("latency 12\n")
		case <-deadline:
			t.Fatal("no sample from tail")
		}
	}
}

func TestRun_StreamRelaunch(t *testing.T) {
	h := newHarness(t, record.Config{
		Name: "s", Kind: model.SourceCommandStream, Mode: model.ModeWordPosition,
		Target: "echo 5", ValueIndex: 1,
	})
	h.start(t)
	h.next(t)
	h.next(t)
}

func TestRun_FatalSource(t *testing.T) {
	h := newHarness(t, record.Config{
		Name: "gone", Kind: model.SourceTail, Mode: model.ModeLineCount,
		Target: filepath.Join(t.TempDir(), "missing.log"), Interval: time.Minute,
	})
	err := h.r.Run(context.Background())
	if err == nil {
		t.Fatal("Run with an unopenable tail should fail")
	}
}

func TestRun_CancelReturnsNil(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if err := h.r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("cancel took %v, want prompt wake", d)
	}
}

func TestMillis(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want int
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Microsecond, 1},
		{1500 * time.Microsecond, 2},
		{time.Minute, 60000},
	}
	for _, tt := range tests {
		if got := millis(tt.in); got != tt.want {
			t.Errorf("millis(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
