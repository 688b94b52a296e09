package source

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/record"
	"github.com/tinytelemetry/anystat/internal/watch"
)

// tailFile is one open handle on the tailed path.
type tailFile struct {
	f      *os.File
	wd     int
	offset int64
	lb     LineBuffer
}

// tail follows a growing file across truncation and rotation.
//
// After a rename or delete of the watched file the old handle keeps
// being read next to a handle on the new file (dual-file mode) until a
// drain yields no new lines from the old one.
type tail struct {
	tree     *record.Tree
	rec      *record.Record
	w        Watcher
	p        *parser
	sched    schedule
	periodic bool
	readOld  bool

	path string
	dir  string
	base string

	cur     *tailFile
	next    *tailFile
	dirWD   int
	rotated bool
	cycles  int
	warned  bool
	scratch []byte
}

func newTail(rec *record.Record, env Env) *tail {
	cfg := rec.Config()
	return &tail{
		tree:     env.Tree,
		rec:      rec,
		w:        env.Watcher,
		p:        newParser(env.Tree, rec, true),
		sched:    schedule{interval: cfg.Interval},
		periodic: cfg.Mode.Counting() || cfg.Consolidation != model.ConsolNone,
		readOld:  env.ReadExisting,
		path:     cfg.Target,
		dir:      filepath.Dir(cfg.Target),
		base:     filepath.Base(cfg.Target),
		dirWD:    -1,
		scratch:  make([]byte, model.MainBufSize),
	}
}

func (t *tail) Name() string                  { return t.rec.Name() }
func (t *tail) AppendFDs(fds []int) []int     { return fds }
func (t *tail) Readable(int, time.Time) error { return nil }

// fileMask selects the notifications for a tailed handle. Counting
// tails read on their tick, so they skip write events.
func (t *tail) fileMask() uint32 {
	m := watch.MoveSelf | watch.DeleteSelf
	if !t.rec.Config().Mode.Counting() {
		m |= watch.Modify
	}
	return m
}

func (t *tail) Start(time.Time) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("source: %s: open %s: %w", t.rec.Path(), t.path, err)
	}
	tf := &tailFile{f: f, wd: -1}
	if !t.readOld {
		off, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return fmt.Errorf("source: %s: seek %s: %w", t.rec.Path(), t.path, err)
		}
		tf.offset = off
	}
	tf.wd, err = t.w.Watch(t.path, t.fileMask(), t)
	if err != nil {
		f.Close()
		return fmt.Errorf("source: %s: %w", t.rec.Path(), err)
	}
	t.cur = tf
	if wd, err := t.w.Watch(t.dir, watch.Create|watch.MovedTo, t); err != nil {
		log.Printf("source: %s: watch dir %s: %v", t.rec.Path(), t.dir, err)
	} else {
		t.dirWD = wd
	}
	return nil
}

func (t *tail) Schedule(now time.Time) (time.Duration, bool) {
	if !t.periodic {
		return 0, false
	}
	return t.sched.wait(now), true
}

func (t *tail) Tick(now time.Time) error {
	t.sched.mark(now)
	if !t.rotated {
		t.checkTruncate()
	}
	if err := t.drain(now); err != nil {
		return err
	}
	finishCycle(t.tree, t.rec, now)
	return nil
}

func (t *tail) HandleWatch(ev watch.Event, now time.Time) error {
	if ev.Mask&watch.Ignored != 0 {
		return nil
	}
	switch {
	case ev.WD == t.dirWD && ev.Name == t.base && ev.Mask&(watch.Create|watch.MovedTo) != 0:
		// A replacement can appear before the old inode reports its
		// deletion, which only happens once every handle is closed.
		if t.next == nil {
			was := t.rotated
			t.rotated = true
			t.openNext()
			if t.next == nil {
				t.rotated = was && t.rotated
			}
		}
	case t.cur != nil && ev.WD == t.cur.wd:
		if ev.Mask&(watch.MoveSelf|watch.DeleteSelf) != 0 && !t.rotated {
			log.Printf("source: %s: %s rotated, following new file", t.rec.Path(), t.path)
			t.rotated = true
			t.openNext()
		}
		if ev.Mask&watch.Modify != 0 && !t.periodic {
			if !t.rotated {
				t.checkTruncate()
			}
			return t.drain(now)
		}
	case t.next != nil && ev.WD == t.next.wd:
		if ev.Mask&watch.Modify != 0 && !t.periodic {
			return t.drain(now)
		}
	}
	return nil
}

// checkTruncate rewinds the handle when the file shrank under it.
func (t *tail) checkTruncate() {
	st, err := t.cur.f.Stat()
	if err != nil {
		log.Printf("source: %s: stat %s: %v", t.rec.Path(), t.path, err)
		return
	}
	if st.Size() >= t.cur.offset {
		return
	}
	if _, err := t.cur.f.Seek(0, io.SeekStart); err != nil {
		log.Printf("source: %s: rewind %s: %v", t.rec.Path(), t.path, err)
		return
	}
	log.Printf("source: %s: %s truncated, rewinding", t.rec.Path(), t.path)
	t.cur.offset = 0
	t.cur.lb.Reset()
}

// drain is one read cycle over the open handles.
func (t *tail) drain(now time.Time) error {
	n, err := t.read(t.cur, now)
	if err != nil || !t.rotated {
		return err
	}
	if t.next == nil {
		t.openNext()
		if t.next == nil {
			return nil
		}
	} else if n == 0 {
		t.retire(now)
		_, err := t.read(t.cur, now)
		return err
	} else {
		t.cycles++
		if t.cycles > 2 && !t.warned {
			log.Printf("source: %s: old file still written after %d cycles", t.rec.Path(), t.cycles)
			t.warned = true
		}
	}
	_, err = t.read(t.next, now)
	return err
}

// read consumes tf to EOF and returns the number of complete lines.
func (t *tail) read(tf *tailFile, now time.Time) (int, error) {
	lines := 0
	for {
		k, err := tf.f.Read(t.scratch)
		if k > 0 {
			tf.offset += int64(k)
			tf.lb.Feed(t.scratch[:k], func(line string) bool {
				lines++
				t.p.Line(line, now)
				return false
			})
		}
		if errors.Is(err, io.EOF) || (err == nil && k == 0) {
			return lines, nil
		}
		if err != nil {
			return lines, fmt.Errorf("source: %s: read %s: %w", t.rec.Path(), t.path, err)
		}
	}
}

// openNext opens the file now at the tailed path, if any.
func (t *tail) openNext() {
	f, err := os.Open(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("source: %s: reopen %s: %v", t.rec.Path(), t.path, err)
		}
		return
	}
	if same(f, t.cur.f) {
		// Moved back into place or a spurious event.
		f.Close()
		t.rotated = false
		return
	}
	wd, err := t.w.Watch(t.path, t.fileMask(), t)
	if err != nil {
		log.Printf("source: %s: %v", t.rec.Path(), err)
		f.Close()
		return
	}
	t.next = &tailFile{f: f, wd: wd}
}

// retire closes the old handle and continues on the new one only. An
// unterminated last line of the old file is parsed first.
func (t *tail) retire(now time.Time) {
	t.cur.lb.Flush(func(line string) bool {
		t.p.Line(line, now)
		return false
	})
	if t.cur.wd != t.next.wd {
		if err := t.w.Unwatch(t.cur.wd, t); err != nil {
			log.Printf("source: %s: %v", t.rec.Path(), err)
		}
	}
	t.cur.f.Close()
	t.cur, t.next = t.next, nil
	t.rotated, t.cycles, t.warned = false, 0, false
	if st, err := t.cur.f.Stat(); err == nil && st.Size() < t.cur.offset {
		t.checkTruncate()
	}
}

func (t *tail) Close() error {
	for _, tf := range []*tailFile{t.cur, t.next} {
		if tf == nil {
			continue
		}
		_ = t.w.Unwatch(tf.wd, t)
		tf.f.Close()
	}
	if t.dirWD >= 0 {
		_ = t.w.Unwatch(t.dirWD, t)
	}
	t.cur, t.next = nil, nil
	return nil
}

func same(a, b *os.File) bool {
	sa, err := a.Stat()
	if err != nil {
		return false
	}
	sb, err := b.Stat()
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}
