// Package source implements the readers that turn files and subprocess
// output into lines for a record.
//
// Every method is called from the reactor goroutine.
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
	"github.com/tinytelemetry/anystat/internal/supervisor"
	"github.com/tinytelemetry/anystat/internal/watch"
	"golang.org/x/sys/unix"
)

// Source is one record's reader.
type Source interface {
	Name() string
	// Start opens files or spawns the long-lived process.
	Start(now time.Time) error
	// Schedule reports how long until the next tick. periodic is false
	// when the source currently has no timer; wait <= 0 means due.
	Schedule(now time.Time) (wait time.Duration, periodic bool)
	Tick(now time.Time) error
	// AppendFDs adds descriptors the reactor should poll for reading.
	AppendFDs(fds []int) []int
	Readable(fd int, now time.Time) error
	Close() error
}

// Spawner starts subprocesses.
type Spawner interface {
	Spawn(command string, owner supervisor.Owner) (supervisor.Child, error)
}

// WatchHandler receives file-change events.
type WatchHandler interface {
	HandleWatch(ev watch.Event, now time.Time) error
}

// Watcher registers file-change interest.
type Watcher interface {
	Watch(path string, mask uint32, h WatchHandler) (int, error)
	Unwatch(wd int, h WatchHandler) error
}

// Env is what readers need from the surrounding engine.
type Env struct {
	Tree            *record.Tree
	Spawner         Spawner
	Watcher         Watcher
	ReadExisting    bool          // tails start at the beginning instead of the end
	RelaunchBackoff time.Duration // minimum gap between stream relaunches
}

// New builds the reader for a top-level record.
func New(rec *record.Record, env Env) (Source, error) {
	cfg := rec.Config()
	switch cfg.Kind {
	case model.SourceSnapshot:
		return newSnapshot(rec, env), nil
	case model.SourceTail:
		if env.Watcher == nil {
			return nil, errors.New("source: tail needs a watcher")
		}
		return newTail(rec, env), nil
	case model.SourceCommandOnce:
		return newCommand(rec, env), nil
	case model.SourceCommandStream:
		return newStream(rec, env), nil
	case model.SourceListener:
		return newListener(rec), nil
	default:
		return nil, fmt.Errorf("source: %s: unsupported kind %v", cfg.Name, cfg.Kind)
	}
}

// schedule tracks when a periodic source last ran.
type schedule struct {
	interval time.Duration
	last     time.Time
}

func (s *schedule) wait(now time.Time) time.Duration {
	if s.last.IsZero() {
		return 0
	}
	return s.last.Add(s.interval).Sub(now)
}

func (s *schedule) mark(now time.Time) { s.last = now }

// readPipe reads fd until it would block, feeding lb. eof is true when
// the write end is closed. stop is true when fn asked to stop.
func readPipe(fd int, scratch []byte, lb *LineBuffer, fn func(string) bool) (eof, stop bool, err error) {
	for {
		n, err := unix.Read(fd, scratch)
		switch {
		case errors.Is(err, unix.EAGAIN):
			return false, false, nil
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return false, false, err
		case n == 0:
			return true, false, nil
		}
		if lb.Feed(scratch[:n], fn) {
			return false, true, nil
		}
	}
}
