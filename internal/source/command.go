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

// command runs a subprocess once per interval and reads its output
// until EOF or exit.
type command struct {
	tree  *record.Tree
	rec   *record.Record
	spawn Spawner
	p     *parser
	sched schedule

	pid      int
	fd       int
	lb       LineBuffer
	launched time.Time
	scratch  []byte
}

func newCommand(rec *record.Record, env Env) *command {
	return &command{
		tree:    env.Tree,
		rec:     rec,
		spawn:   env.Spawner,
		p:       newParser(env.Tree, rec, false),
		sched:   schedule{interval: rec.Config().Interval},
		fd:      -1,
		scratch: make([]byte, model.MainBufSize),
	}
}

func (c *command) Name() string          { return c.rec.Name() }
func (c *command) Start(time.Time) error { return nil }

func (c *command) running() bool { return c.pid != 0 || c.fd >= 0 }

func (c *command) Schedule(now time.Time) (time.Duration, bool) {
	if c.running() {
		return 0, false
	}
	return c.sched.wait(now), true
}

func (c *command) Tick(now time.Time) error {
	if c.running() {
		return nil
	}
	child, err := c.spawn.Spawn(c.rec.Config().Target, c)
	if err != nil {
		return fmt.Errorf("source: %s: %w", c.rec.Path(), err)
	}
	c.pid, c.fd = child.PID, child.Fd
	c.launched = now
	c.p.Reset()
	c.lb.Reset()
	return nil
}

func (c *command) AppendFDs(fds []int) []int {
	if c.fd >= 0 {
		fds = append(fds, c.fd)
	}
	return fds
}

func (c *command) Readable(fd int, now time.Time) error {
	if fd != c.fd {
		return nil
	}
	return c.read(now)
}

func (c *command) read(now time.Time) error {
	eof, stop, err := readPipe(c.fd, c.scratch, &c.lb, func(line string) bool {
		return c.p.Line(line, now)
	})
	if err != nil {
		return fmt.Errorf("source: %s: read output: %w", c.rec.Path(), err)
	}
	if eof || stop {
		c.finish(now, stop)
	}
	return nil
}

func (c *command) Exited(ex supervisor.Exit, now time.Time) error {
	c.pid = 0
	if ex.Signaled {
		log.Printf("source: %s: command killed by signal", c.rec.Path())
	}
	if c.fd < 0 {
		return nil
	}
	if err := c.read(now); err != nil {
		return err
	}
	if c.fd >= 0 {
		// A grandchild still holds the pipe; the cycle ends anyway.
		c.finish(now, false)
	}
	return nil
}

// finish closes the pipe and reports the cycle's aggregate.
func (c *command) finish(now time.Time, stopped bool) {
	if !stopped {
		stopped = c.lb.Flush(func(line string) bool { return c.p.Line(line, now) })
	}
	unix.Close(c.fd)
	c.fd = -1
	c.sched.mark(now)

	cfg := c.rec.Config()
	if !stopped && c.p.Short() {
		log.Printf("source: %s: not enough output lines", c.rec.Path())
		if cfg.Line > 0 {
			return
		}
	}
	if cfg.Mode == model.ModeElapsedTime {
		c.tree.Observe(c.rec, now.Sub(c.launched).Seconds(), now)
	}
	finishCycle(c.tree, c.rec, now)
}

func (c *command) Close() error {
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
	return nil
}
