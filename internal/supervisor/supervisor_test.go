package supervisor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type owner struct{ exits []Exit }

func (o *owner) Exited(ex Exit, _ time.Time) error {
	o.exits = append(o.exits, ex)
	return nil
}

// readAll drains fd until EOF, polling through EAGAIN.
func readAll(t *testing.T, fd int) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EAGAIN) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n == 0 {
			return sb.String()
		}
		sb.Write(buf[:n])
	}
	t.Fatal("timed out waiting for EOF")
	return ""
}

func reapUntil(t *testing.T, s *Supervisor, n int) []Exit {
	t.Helper()
	var out []Exit
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n && time.Now().Before(deadline) {
		out = append(out, s.Reap()...)
		time.Sleep(5 * time.Millisecond)
	}
	if len(out) < n {
		t.Fatalf("reaped %d children, want %d", len(out), n)
	}
	return out
}

func TestSpawnCapturesStdout(t *testing.T) {
	s := New()
	o := &owner{}
	c, err := s.Spawn("printf 'one\\ntwo\\n'", o)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer unix.Close(c.Fd)

	if got := readAll(t, c.Fd); got != "one\ntwo\n" {
		t.Errorf("stdout = %q, want %q", got, "one\ntwo\n")
	}
	exits := reapUntil(t, s, 1)
	if exits[0].PID != c.PID || exits[0].Code != 0 || exits[0].Owner != o {
		t.Errorf("exit = %+v, want pid %d code 0", exits[0], c.PID)
	}
	if s.Running() != 0 {
		t.Errorf("Running = %d, want 0", s.Running())
	}
}

func TestSpawnNonBlocking(t *testing.T) {
	s := New()
	c, err := s.Spawn("sleep 5", &owner{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer unix.Close(c.Fd)

	buf := make([]byte, 16)
	if _, err := unix.Read(c.Fd, buf); !errors.Is(err, unix.EAGAIN) {
		t.Errorf("read on idle pipe err = %v, want EAGAIN", err)
	}
	if exits := s.Reap(); len(exits) != 0 {
		t.Errorf("Reap returned %d exits for a running child", len(exits))
	}
	s.Terminate(2 * time.Second)
	if s.Running() != 0 {
		t.Errorf("Running after Terminate = %d, want 0", s.Running())
	}
}

func TestReapExitCode(t *testing.T) {
	s := New()
	c, err := s.Spawn("exit 3", &owner{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer unix.Close(c.Fd)
	exits := reapUntil(t, s, 1)
	if exits[0].Code != 3 || exits[0].Signaled {
		t.Errorf("exit = %+v, want code 3", exits[0])
	}
}
