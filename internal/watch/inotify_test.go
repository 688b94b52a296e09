package watch

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestParse(t *testing.T) {
	t.Parallel()
	// one nameless event followed by one with a padded name
	buf := make([]byte, 16+16+16)
	binary.NativeEndian.PutUint32(buf[0:], 3)
	binary.NativeEndian.PutUint32(buf[4:], Modify)
	binary.NativeEndian.PutUint32(buf[16:], 7)
	binary.NativeEndian.PutUint32(buf[20:], Create)
	binary.NativeEndian.PutUint32(buf[28:], 16)
	copy(buf[32:], "app.log")

	evs := Parse(buf)
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].WD != 3 || evs[0].Mask != Modify || evs[0].Name != "" {
		t.Errorf("event 0 = %+v", evs[0])
	}
	if evs[1].WD != 7 || evs[1].Mask != Create || evs[1].Name != "app.log" {
		t.Errorf("event 1 = %+v", evs[1])
	}
}

func TestInotifyModify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	wd, err := w.Add(path, Modify)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if evs, err := w.Read(); err != nil || len(evs) != 0 {
		t.Fatalf("Read before write = %v, %v; want none", evs, err)
	}
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fds := []unix.PollFd{{Fd: int32(w.FD()), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, int((2 * time.Second).Milliseconds())); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	evs, err := w.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(evs) == 0 || evs[0].WD != wd || evs[0].Mask&Modify == 0 {
		t.Errorf("events = %+v, want modify on wd %d", evs, wd)
	}
	if err := w.Remove(wd); err != nil {
		t.Errorf("Remove: %v", err)
	}
}
