package sink

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tinytelemetry/anystat/internal/model"
)

type recordingSink struct {
	name     string
	mu       sync.Mutex
	events   []model.Event
	closeErr error
	closed   bool
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Handle(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}
func (s *recordingSink) Close() error {
	s.closed = true
	return s.closeErr
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func sampleAt(path string, v float64, sec int64) model.Sample {
	return model.Sample{Path: path, Value: v, Timestamp: time.Unix(sec, 0)}
}

func TestHub_DispatchAndClose(t *testing.T) {
	t.Parallel()
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", closeErr: errors.New("boom")}
	h := NewHub(a)
	h.Attach(b)

	h.RecordCreated(model.RecordInfo{Path: "load"})
	h.Sample(sampleAt("load", 1, 10))
	h.Alert(model.Alert{Path: "load", Severity: model.SeverityWarn})

	for _, s := range []*recordingSink{a, b} {
		if len(s.events) != 3 {
			t.Fatalf("%s got %d events, want 3", s.name, len(s.events))
		}
		kinds := []model.EventKind{s.events[0].Kind, s.events[1].Kind, s.events[2].Kind}
		want := []model.EventKind{model.EventRecordCreated, model.EventSample, model.EventAlert}
		for i := range want {
			if kinds[i] != want[i] {
				t.Errorf("%s event %d kind = %v, want %v", s.name, i, kinds[i], want[i])
			}
		}
	}

	err := h.Close()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Close err = %v, want wrapped boom", err)
	}
	if !a.closed || !b.closed {
		t.Error("every sink should be closed")
	}
}

type blockingSink struct {
	recordingSink
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Handle(ev model.Event) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	s.recordingSink.Handle(ev)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()
	inner := &blockingSink{
		recordingSink: recordingSink{name: "slow"},
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	var drops int
	a := NewAsync(inner, AsyncConfig{QueueSize: 1, OnDrop: func() { drops++ }})

	a.Handle(model.Event{Kind: model.EventSample})
	<-inner.started
	a.Handle(model.Event{Kind: model.EventSample}) // fills the queue
	a.Handle(model.Event{Kind: model.EventSample}) // dropped

	if a.Dropped() != 1 || drops != 1 {
		t.Errorf("dropped = %d (hook %d), want 1", a.Dropped(), drops)
	}
	close(inner.release)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := inner.count(); got != 2 {
		t.Errorf("delivered %d events, want 2", got)
	}
	if !inner.closed {
		t.Error("inner sink not closed")
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestFlatLog_WriteReuseRotate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l, err := NewFlatLog(dir, 20)
	if err != nil {
		t.Fatalf("NewFlatLog: %v", err)
	}
	l.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("procs/sshd", 2, 100)})
	l.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("procs/sshd", 3, 110)})

	first := filepath.Join(dir, "procs.sshd.100.log")
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := string(data), "100,2.000000\n110,3.000000\n"; got != want {
		t.Errorf("contents = %q, want %q", got, want)
	}

	// size limit reached: next write starts a new file
	l.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("procs/sshd", 4, 120)})
	if _, err := os.Stat(filepath.Join(dir, "procs.sshd.120.log")); err != nil {
		t.Errorf("rotated file missing: %v", err)
	}
	l.Close()

	// a new logger reuses the newest file while it is small
	l2, _ := NewFlatLog(dir, 20)
	l2.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("procs/sshd", 5, 130)})
	l2.Close()
	data, _ = os.ReadFile(filepath.Join(dir, "procs.sshd.120.log"))
	if got, want := string(data), "120,4.000000\n130,5.000000\n"; got != want {
		t.Errorf("reused contents = %q, want %q", got, want)
	}
}

func TestFlatLog_IgnoresOtherRecords(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "load.avg.50.log"), nil, 0o644)
	l, _ := NewFlatLog(dir, 0)
	l.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 1, 60)})
	l.Close()
	if _, err := os.Stat(filepath.Join(dir, "load.60.log")); err != nil {
		t.Errorf("child log was reused for parent: %v", err)
	}
}

func TestUplinkLine(t *testing.T) {
	t.Parallel()
	s := sampleAt("net/eth0/rx", 1.5, 1700000000)
	if got, want := UplinkLine("", s), "net.eth0.rx 1.5 1700000000\n"; got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
	if got, want := UplinkLine("host1", s), "host1.net.eth0.rx 1.5 1700000000\n"; got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestUplink_SendsAndRedials(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	lines := make(chan string, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}(c)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	u := NewUplink("127.0.0.1", addr.Port, "px.")
	defer u.Close()

	u.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 0.5, 10)})
	select {
	case got := <-lines:
		if got != "px.load 0.5 10" {
			t.Errorf("got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no line received")
	}

	// a broken connection is replaced on the next sample
	u.conn.Close()
	u.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 0.6, 20)})
	u.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 0.7, 30)})
	select {
	case got := <-lines:
		if got != "px.load 0.7 30" {
			t.Errorf("after redial got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no line after redial")
	}
}

func TestUplink_DownDropsQuietly(t *testing.T) {
	t.Parallel()
	u := NewUplink("127.0.0.1", 1, "")
	u.dial = func(string, string, time.Duration) (net.Conn, error) { return nil, errors.New("refused") }
	u.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 1, 1)})
	u.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 2, 2)})
	if u.failures != 2 {
		t.Errorf("failures = %d, want 2", u.failures)
	}
}

func TestAlertExec_RunsCommand(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "alert.txt")
	a := NewAlertExec("", "printf '%s' >"+out)
	a.Handle(model.Event{Kind: model.EventAlert, Alert: model.Alert{
		Severity: model.SeverityCrit, Path: "disk", Message: "critical disk: value 99 above 90",
	}})
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("command did not run: %v", err)
	}
	if got := string(data); got != "critical disk: value 99 above 90" {
		t.Errorf("argument = %q", got)
	}

	// no warn command: logged only
	a.Handle(model.Event{Kind: model.EventAlert, Alert: model.Alert{Severity: model.SeverityWarn, Message: "w"}})
}

func TestConsole_SummaryLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Handle(model.Event{Kind: model.EventRecordCreated, Record: model.RecordInfo{Path: "mem", Unit: "MB"}})
	c.Handle(model.Event{Kind: model.EventSample, Sample: model.Sample{Path: "mem", Value: 512, Stats: model.Stats{Count: 1}}})
	c.Handle(model.Event{Kind: model.EventSample, Sample: model.Sample{Path: "mem", Value: 520, Stats: model.Stats{
		Count: 2, Mean: 516, Min: 512, Max: 520, RocMean: 0.8, AmpMean: 4, UpdMean: 10,
	}}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	if lines[0] != "[mem] 512 MB" {
		t.Errorf("first line = %q", lines[0])
	}
	if want := "[mem] 520 MB <516> [512..520] | RoC 0.8/s | Amplitude 4 | Cycle 10s"; lines[1] != want {
		t.Errorf("second line = %q, want %q", lines[1], want)
	}
}

func TestScaleRoC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want float64
		per  string
	}{
		{2, 2, "s"},
		{0.05, 3, "m"},
		{0.001, 3.6, "h"},
	}
	for _, tt := range tests {
		got, per := ScaleRoC(tt.in)
		if per != tt.per || got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("ScaleRoC(%v) = %v/%s, want %v/%s", tt.in, got, per, tt.want, tt.per)
		}
	}
}

func TestMetrics_Counts(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 0.5, 1)})
	m.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 0.7, 2)})
	m.Handle(model.Event{Kind: model.EventAlert, Alert: model.Alert{Path: "load", Severity: model.SeverityCrit}})
	m.DropCounter("uplink")()

	if got := testutil.ToFloat64(m.value.WithLabelValues("load")); got != 0.7 {
		t.Errorf("value = %v, want 0.7", got)
	}
	if got := testutil.ToFloat64(m.samples.WithLabelValues("load")); got != 2 {
		t.Errorf("samples = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.alerts.WithLabelValues("load", "critical")); got != 1 {
		t.Errorf("alerts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("uplink")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestRegistry_SnapshotTreeOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, p := range []string{"zeta", "procs", "procs/sshd", "alpha", "procs/cron", "procs/cron/x"} {
		r.Handle(model.Event{Kind: model.EventRecordCreated, Record: model.RecordInfo{Path: p}})
	}
	r.Handle(model.Event{Kind: model.EventSample, Sample: model.Sample{Path: "procs/sshd", Value: 2, Stats: model.Stats{Count: 1, Last: 2, History: []float64{2}}}})
	r.Handle(model.Event{Kind: model.EventAlert, Alert: model.Alert{Path: "procs/sshd"}})

	var got []string
	for _, st := range r.Snapshot() {
		got = append(got, st.Info.Path)
	}
	want := []string{"zeta", "procs", "procs/cron", "procs/cron/x", "procs/sshd", "alpha"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}

	st, ok := r.Get("procs/sshd")
	if !ok || st.Stats.Last != 2 || st.Alerts != 1 {
		t.Errorf("Get = %+v, %v", st, ok)
	}
	st.Stats.History[0] = 99
	if again, _ := r.Get("procs/sshd"); again.Stats.History[0] != 2 {
		t.Error("Get must return a copy of the history")
	}
	if r.Len() != 6 {
		t.Errorf("Len = %d, want 6", r.Len())
	}
}

type fakeRegistrar struct {
	ids   map[string]int64
	calls int
}

func (f *fakeRegistrar) RegisterRecord(info model.RecordInfo) (int64, error) {
	f.calls++
	if id, ok := f.ids[info.Path]; ok {
		return id, nil
	}
	id := int64(len(f.ids) + 1)
	f.ids[info.Path] = id
	return id, nil
}

type fakeQueue struct{ rows []*model.SampleRow }

func (q *fakeQueue) Add(row *model.SampleRow) { q.rows = append(q.rows, row) }

func TestDatabase_RegistersAndQueues(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistrar{ids: map[string]int64{}}
	q := &fakeQueue{}
	d := NewDatabase(reg, q)

	d.Handle(model.Event{Kind: model.EventRecordCreated, Record: model.RecordInfo{Path: "load"}})
	d.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 1, 5)})
	d.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("late", 2, 6)})
	d.Handle(model.Event{Kind: model.EventSample, Sample: sampleAt("load", 3, 7)})

	if reg.calls != 2 {
		t.Errorf("RegisterRecord calls = %d, want 2", reg.calls)
	}
	if len(q.rows) != 3 {
		t.Fatalf("queued %d rows, want 3", len(q.rows))
	}
	if q.rows[0].RecordID != 1 || q.rows[1].RecordID != 2 || q.rows[2].Value != 3 {
		t.Errorf("rows = %+v %+v %+v", q.rows[0], q.rows[1], q.rows[2])
	}
}
