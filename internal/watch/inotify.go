// Package watch wraps a non-blocking inotify descriptor.
package watch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Event masks used by the tail reader.
const (
	Modify     uint32 = unix.IN_MODIFY
	MoveSelf   uint32 = unix.IN_MOVE_SELF
	DeleteSelf uint32 = unix.IN_DELETE_SELF
	Create     uint32 = unix.IN_CREATE
	MovedTo    uint32 = unix.IN_MOVED_TO
	Ignored    uint32 = unix.IN_IGNORED
)

// Event is one decoded inotify event. Name is set only for events on a
// watched directory.
type Event struct {
	WD   int
	Mask uint32
	Name string
}

// Inotify is an inotify instance whose descriptor can be polled.
type Inotify struct {
	fd  int
	buf []byte
}

// New creates a non-blocking, close-on-exec inotify instance.
func New() (*Inotify, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("watch: inotify init: %w", err)
	}
	return &Inotify{fd: fd, buf: make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))}, nil
}

// FD is the descriptor to poll for readability.
func (w *Inotify) FD() int { return w.fd }

// Add watches path for mask. Masks on the same inode accumulate.
func (w *Inotify) Add(path string, mask uint32) (int, error) {
	wd, err := unix.InotifyAddWatch(w.fd, path, mask|unix.IN_MASK_ADD)
	if err != nil {
		return -1, fmt.Errorf("watch: add %s: %w", path, err)
	}
	return wd, nil
}

// Remove drops a watch. Removing a watch whose inode is gone is not an
// error.
func (w *Inotify) Remove(wd int) error {
	if _, err := unix.InotifyRmWatch(w.fd, uint32(wd)); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("watch: remove %d: %w", wd, err)
	}
	return nil
}

// Read returns the pending events, or nil when none are queued.
func (w *Inotify) Read() ([]Event, error) {
	var out []Event
	for {
		n, err := unix.Read(w.fd, w.buf)
		if errors.Is(err, unix.EAGAIN) {
			return out, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("watch: read: %w", err)
		}
		if n <= 0 {
			return out, nil
		}
		out = append(out, Parse(w.buf[:n])...)
	}
}

// Close releases the descriptor and all its watches.
func (w *Inotify) Close() error {
	return unix.Close(w.fd)
}

// Parse decodes a buffer of raw inotify events:
//
//	wd int32 @0, mask uint32 @4, cookie uint32 @8, len uint32 @12, name @16
func Parse(buf []byte) []Event {
	var out []Event
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		nameLen := int(binary.NativeEndian.Uint32(buf[offset+12 : offset+16]))
		size := unix.SizeofInotifyEvent + nameLen
		if offset+size > len(buf) {
			break
		}
		ev := Event{
			WD:   int(int32(binary.NativeEndian.Uint32(buf[offset : offset+4]))),
			Mask: binary.NativeEndian.Uint32(buf[offset+4 : offset+8]),
		}
		if nameLen > 0 {
			ev.Name = cstring(buf[offset+unix.SizeofInotifyEvent : offset+size])
		}
		out = append(out, ev)
		offset += size
	}
	return out
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
