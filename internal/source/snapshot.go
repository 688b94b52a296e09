package source

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
)

// snapshot re-reads a whole file every interval.
type snapshot struct {
	tree  *record.Tree
	rec   *record.Record
	p     *parser
	sched schedule
}

func newSnapshot(rec *record.Record, env Env) *snapshot {
	return &snapshot{
		tree:  env.Tree,
		rec:   rec,
		p:     newParser(env.Tree, rec, false),
		sched: schedule{interval: rec.Config().Interval},
	}
}

func (s *snapshot) Name() string                  { return s.rec.Name() }
func (s *snapshot) Start(time.Time) error         { return nil }
func (s *snapshot) AppendFDs(fds []int) []int     { return fds }
func (s *snapshot) Readable(int, time.Time) error { return nil }
func (s *snapshot) Close() error                  { return nil }

func (s *snapshot) Schedule(now time.Time) (time.Duration, bool) {
	return s.sched.wait(now), true
}

func (s *snapshot) Tick(now time.Time) error {
	s.sched.mark(now)
	cfg := s.rec.Config()
	start := time.Now()

	f, err := os.Open(cfg.Target)
	if err != nil {
		log.Printf("source: %s: %v", s.rec.Path(), err)
		return nil
	}
	defer f.Close()

	s.p.Reset()
	done, err := s.read(f, now)
	if err != nil {
		return fmt.Errorf("source: %s: read %s: %w", s.rec.Path(), cfg.Target, err)
	}
	if !done && s.p.Short() {
		log.Printf("source: %s: not enough lines in %s", s.rec.Path(), cfg.Target)
		if cfg.Line > 0 {
			return nil
		}
	}

	switch cfg.Mode {
	case model.ModeLineCount:
		if s.rec.Pending() > 0 {
			s.tree.ReportCounts(s.rec, now)
		}
	case model.ModeGroupCount:
		s.tree.ReportCounts(s.rec, now)
	case model.ModeElapsedTime:
		s.tree.Observe(s.rec, time.Since(start).Seconds(), now)
	}
	s.tree.FlushWindow(s.rec, now)
	return nil
}

// read feeds f through the parser in chunks. Lines longer than the
// partial-line cap are split rather than failing the cycle. It reports
// whether the parser asked to stop.
func (s *snapshot) read(f io.Reader, now time.Time) (bool, error) {
	var lb LineBuffer
	buf := make([]byte, model.MainBufSize)
	line := func(l string) bool { return s.p.Line(l, now) }
	for {
		n, err := f.Read(buf)
		if n > 0 && lb.Feed(buf[:n], line) {
			return true, nil
		}
		if errors.Is(err, io.EOF) {
			return lb.Flush(line), nil
		}
		if err != nil {
			return false, err
		}
	}
}
