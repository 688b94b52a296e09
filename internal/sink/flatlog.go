package sink

import (
	"cmp"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/anystat/internal/model"
)

// FlatLog appends "unix-ts,value" lines to one file per record under a
// directory, rotating by size. It does blocking I/O and belongs behind
// an Async.
type FlatLog struct {
	dir     string
	maxSize int64 // zero disables rotation
	files   map[string]*os.File
}

// NewFlatLog creates dir if needed.
func NewFlatLog(dir string, maxSize int64) (*FlatLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: flatlog: %w", err)
	}
	return &FlatLog{dir: dir, maxSize: maxSize, files: make(map[string]*os.File)}, nil
}

func (l *FlatLog) Name() string { return "flatlog" }

func (l *FlatLog) Handle(ev model.Event) {
	if ev.Kind != model.EventSample {
		return
	}
	if err := l.write(ev.Sample); err != nil {
		log.Printf("sink: flatlog: %s: %v", ev.Sample.Path, err)
	}
}

func (l *FlatLog) write(s model.Sample) error {
	f := l.files[s.Path]
	if f != nil && l.maxSize > 0 {
		st, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat: %w", err)
		}
		if st.Size() >= l.maxSize {
			f.Close()
			delete(l.files, s.Path)
			f = nil
		}
	}
	if f == nil {
		var err error
		if f, err = l.open(s.Path, s.Timestamp); err != nil {
			return err
		}
		l.files[s.Path] = f
	}
	line := strconv.FormatInt(s.Timestamp.Unix(), 10) + "," + strconv.FormatFloat(s.Value, 'f', 6, 64) + "\n"
	_, err := f.WriteString(line)
	return err
}

// open reuses the newest file for path while it is under the size limit,
// otherwise it starts a file stamped with now.
func (l *FlatLog) open(path string, now time.Time) (*os.File, error) {
	prefix := FileStem(path) + "."
	existing, err := l.existing(prefix)
	if err != nil {
		return nil, err
	}
	name := ""
	if n := len(existing); n > 0 {
		newest := existing[n-1]
		st, err := os.Stat(filepath.Join(l.dir, newest.name))
		if err != nil {
			return nil, fmt.Errorf("stat: %w", err)
		}
		if l.maxSize == 0 || st.Size() < l.maxSize {
			name = newest.name
		}
	}
	if name == "" {
		ts := now.Unix()
		if n := len(existing); n > 0 && existing[n-1].ts >= ts {
			ts = existing[n-1].ts + 1
		}
		name = prefix + strconv.FormatInt(ts, 10) + ".log"
		log.Printf("sink: flatlog: creating %s", name)
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return f, nil
}

type stampedFile struct {
	name string
	ts   int64
}

// existing lists the files named prefix<ts>.log, oldest first.
func (l *FlatLog) existing(prefix string) ([]stampedFile, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []stampedFile
	for _, e := range entries {
		name := e.Name()
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok || e.IsDir() {
			continue
		}
		stamp, ok := strings.CutSuffix(rest, ".log")
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, stampedFile{name: name, ts: ts})
	}
	slices.SortFunc(out, func(a, b stampedFile) int { return cmp.Compare(a.ts, b.ts) })
	return out, nil
}

func (l *FlatLog) Close() error {
	var first error
	for path, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.files, path)
	}
	return first
}

// FileStem is a record path with separators replaced by dots.
func FileStem(path string) string { return strings.ReplaceAll(path, "/", ".") }
