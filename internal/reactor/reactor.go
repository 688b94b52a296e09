// Package reactor runs the single-goroutine event loop that drives every
// source: timers, subprocess pipes, file-change events and child reaping.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/source"
	"github.com/tinytelemetry/anystat/internal/supervisor"
	"github.com/tinytelemetry/anystat/internal/watch"
	"golang.org/x/sys/unix"
)

const (
	defaultRetryBackoff = 10 * time.Millisecond
	defaultTermGrace    = 2 * time.Second
)

// Config tunes the loop.
type Config struct {
	MaxSleep     time.Duration // longest wait when nothing is due
	RetryBackoff time.Duration // pause after an interrupted wait
	TermGrace    time.Duration // how long children get to exit on shutdown
	Now          func() time.Time
}

// poll slot owners that are not sources
const (
	slotControl = -1
	slotWatch   = -2
)

// Reactor owns the sources and every descriptor they read.
type Reactor struct {
	cfg      Config
	sup      *supervisor.Supervisor
	ino      *watch.Inotify
	handlers map[int][]source.WatchHandler
	sources  []source.Source
	ctl      [2]int

	fds   []unix.PollFd
	slots []int
	buf   [64]byte

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// New allocates the inotify instance and control pipe.
func New(conf ...Config) (*Reactor, error) {
	var cfg Config
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = model.MaxSleep
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.TermGrace <= 0 {
		cfg.TermGrace = defaultTermGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ino, err := watch.New()
	if err != nil {
		return nil, fmt.Errorf("reactor: %w", err)
	}
	r := &Reactor{
		cfg:      cfg,
		sup:      supervisor.New(),
		ino:      ino,
		handlers: make(map[int][]source.WatchHandler),
	}
	if err := unix.Pipe2(r.ctl[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		ino.Close()
		return nil, fmt.Errorf("reactor: control pipe: %w", err)
	}
	return r, nil
}

// Supervisor is the process supervisor sources spawn through.
func (r *Reactor) Supervisor() *supervisor.Supervisor { return r.sup }

// Add registers a source. Sources are serviced in the order added.
func (r *Reactor) Add(src source.Source) { r.sources = append(r.sources, src) }

// Watch implements source.Watcher.
func (r *Reactor) Watch(path string, mask uint32, h source.WatchHandler) (int, error) {
	wd, err := r.ino.Add(path, mask)
	if err != nil {
		return -1, err
	}
	for _, have := range r.handlers[wd] {
		if have == h {
			return wd, nil
		}
	}
	r.handlers[wd] = append(r.handlers[wd], h)
	return wd, nil
}

// Unwatch implements source.Watcher. The kernel watch is dropped with
// its last handler.
func (r *Reactor) Unwatch(wd int, h source.WatchHandler) error {
	hs := r.handlers[wd]
	for i, have := range hs {
		if have == h {
			hs = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) > 0 {
		r.handlers[wd] = hs
		return nil
	}
	delete(r.handlers, wd)
	return r.ino.Remove(wd)
}

// Wake interrupts the wait. It is safe to call from any goroutine.
func (r *Reactor) Wake() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_, _ = unix.Write(r.ctl[1], []byte{0})
}

// Run starts the sources and services them until ctx is cancelled or a
// source fails. Cancellation returns nil.
func (r *Reactor) Run(ctx context.Context) error {
	defer r.Close()

	stop := context.AfterFunc(ctx, r.Wake)
	defer stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGCHLD)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigs:
				r.Wake()
			case <-done:
				return
			}
		}
	}()

	now := r.cfg.Now()
	for _, s := range r.sources {
		if err := s.Start(now); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		now = r.cfg.Now()
		if err := r.reap(now); err != nil {
			return err
		}
		wait, err := r.runDue(now)
		if err != nil {
			return err
		}

		r.buildPollSet()
		n, err := unix.Poll(r.fds, millis(wait))
		if errors.Is(err, unix.EINTR) {
			time.Sleep(r.cfg.RetryBackoff)
			continue
		}
		if err != nil {
			return fmt.Errorf("reactor: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := r.dispatch(r.cfg.Now()); err != nil {
			return err
		}
	}
}

func (r *Reactor) reap(now time.Time) error {
	for _, ex := range r.sup.Reap() {
		if ex.Owner == nil {
			continue
		}
		if err := ex.Owner.Exited(ex, now); err != nil {
			return err
		}
	}
	return nil
}

// runDue ticks every periodic source that is due and returns how long
// the loop may sleep.
func (r *Reactor) runDue(now time.Time) (time.Duration, error) {
	wait := r.cfg.MaxSleep
	for _, s := range r.sources {
		w, periodic := s.Schedule(now)
		if !periodic {
			continue
		}
		if w <= 0 {
			if err := s.Tick(now); err != nil {
				return 0, err
			}
			if w, periodic = s.Schedule(now); !periodic {
				continue
			}
			if w <= 0 {
				w = time.Millisecond
			}
		}
		if w < wait {
			wait = w
		}
	}
	return wait, nil
}

func (r *Reactor) buildPollSet() {
	r.fds = append(r.fds[:0],
		unix.PollFd{Fd: int32(r.ctl[0]), Events: unix.POLLIN},
		unix.PollFd{Fd: int32(r.ino.FD()), Events: unix.POLLIN},
	)
	r.slots = append(r.slots[:0], slotControl, slotWatch)
	var scratch []int
	for i, s := range r.sources {
		scratch = s.AppendFDs(scratch[:0])
		for _, fd := range scratch {
			r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			r.slots = append(r.slots, i)
		}
	}
}

func (r *Reactor) dispatch(now time.Time) error {
	for i, pfd := range r.fds {
		if pfd.Revents == 0 {
			continue
		}
		if pfd.Revents&unix.POLLNVAL != 0 {
			log.Printf("reactor: descriptor %d is not open", pfd.Fd)
			continue
		}
		switch slot := r.slots[i]; slot {
		case slotControl:
			r.drainControl()
		case slotWatch:
			if err := r.routeWatch(now); err != nil {
				return err
			}
		default:
			if err := r.sources[slot].Readable(int(pfd.Fd), now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reactor) drainControl() {
	for {
		n, err := unix.Read(r.ctl[0], r.buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (r *Reactor) routeWatch(now time.Time) error {
	evs, err := r.ino.Read()
	if err != nil {
		return fmt.Errorf("reactor: %w", err)
	}
	for _, ev := range evs {
		hs := append([]source.WatchHandler(nil), r.handlers[ev.WD]...)
		for _, h := range hs {
			if err := h.HandleWatch(ev, now); err != nil {
				return err
			}
		}
		if ev.Mask&watch.Ignored != 0 {
			delete(r.handlers, ev.WD)
		}
	}
	return nil
}

// Close stops children and releases every descriptor. Run calls it on
// return.
func (r *Reactor) Close() error {
	r.once.Do(func() {
		r.sup.Terminate(r.cfg.TermGrace)
		for _, s := range r.sources {
			if err := s.Close(); err != nil {
				log.Printf("reactor: close %s: %v", s.Name(), err)
			}
		}
		r.mu.Lock()
		r.closed = true
		unix.Close(r.ctl[0])
		unix.Close(r.ctl[1])
		r.mu.Unlock()
		r.ino.Close()
	})
	return nil
}

func millis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
