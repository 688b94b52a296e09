package source

import (
	"fmt"
	"log"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
	"github.com/tinytelemetry/anystat/internal/supervisor"
	"golang.org/x/sys/unix"
)

// stream reads a long-lived subprocess continuously.
//
// Counting and consolidated streams report on their interval and are
// relaunched on the next tick after an exit. Value streams report each
// line as it arrives and are relaunched as soon as they exit.
type stream struct {
	tree     *record.Tree
	rec      *record.Record
	spawn    Spawner
	p        *parser
	sched    schedule
	periodic bool
	backoff  time.Duration

	pid         int
	fd          int
	lb          LineBuffer
	lastLaunch  time.Time
	relaunchDue bool
	scratch     []byte
}

func newStream(rec *record.Record, env Env) *stream {
	cfg := rec.Config()
	return &stream{
		tree:     env.Tree,
		rec:      rec,
		spawn:    env.Spawner,
		p:        newParser(env.Tree, rec, true),
		sched:    schedule{interval: cfg.Interval},
		periodic: cfg.Mode.Counting() || cfg.Consolidation != model.ConsolNone,
		backoff:  env.RelaunchBackoff,
		fd:       -1,
		scratch:  make([]byte, model.MainBufSize),
	}
}

func (s *stream) Name() string { return s.rec.Name() }

func (s *stream) Start(now time.Time) error {
	s.sched.mark(now)
	return s.launch(now)
}

func (s *stream) launch(now time.Time) error {
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
	child, err := s.spawn.Spawn(s.rec.Config().Target, s)
	if err != nil {
		return fmt.Errorf("source: %s: %w", s.rec.Path(), err)
	}
	s.pid, s.fd = child.PID, child.Fd
	s.lastLaunch = now
	s.relaunchDue = false
	s.lb.Reset()
	return nil
}

func (s *stream) Schedule(now time.Time) (time.Duration, bool) {
	if s.periodic {
		return s.sched.wait(now), true
	}
	if s.relaunchDue {
		return s.lastLaunch.Add(s.backoff).Sub(now), true
	}
	return 0, false
}

func (s *stream) Tick(now time.Time) error {
	if s.periodic {
		s.sched.mark(now)
		finishCycle(s.tree, s.rec, now)
	}
	if s.relaunchDue && s.pid == 0 {
		log.Printf("source: %s: relaunching", s.rec.Path())
		return s.launch(now)
	}
	return nil
}

func (s *stream) AppendFDs(fds []int) []int {
	if s.fd >= 0 {
		fds = append(fds, s.fd)
	}
	return fds
}

func (s *stream) Readable(fd int, now time.Time) error {
	if fd != s.fd {
		return nil
	}
	return s.read(now)
}

func (s *stream) read(now time.Time) error {
	eof, _, err := readPipe(s.fd, s.scratch, &s.lb, func(line string) bool {
		s.p.Line(line, now)
		return false
	})
	if err != nil {
		return fmt.Errorf("source: %s: read output: %w", s.rec.Path(), err)
	}
	if eof {
		s.lb.Flush(func(line string) bool {
			s.p.Line(line, now)
			return false
		})
		log.Printf("source: %s: pipe closed unexpectedly", s.rec.Path())
		unix.Close(s.fd)
		s.fd = -1
	}
	return nil
}

func (s *stream) Exited(ex supervisor.Exit, now time.Time) error {
	s.pid = 0
	if s.fd >= 0 {
		if err := s.read(now); err != nil {
			return err
		}
	}
	s.relaunchDue = true
	if s.periodic {
		log.Printf("source: %s: process exited (code %d), relaunching on next tick", s.rec.Path(), ex.Code)
		return nil
	}
	if now.Sub(s.lastLaunch) >= s.backoff {
		return s.launch(now)
	}
	log.Printf("source: %s: process exited (code %d) too soon, relaunch delayed", s.rec.Path(), ex.Code)
	return nil
}

func (s *stream) Close() error {
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
	return nil
}
