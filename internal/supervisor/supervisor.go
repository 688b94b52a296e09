// Package supervisor spawns shell commands with a non-blocking stdout
// pipe and reaps them without blocking.
package supervisor

import (
	"errors"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Owner is notified when a child it spawned has been reaped.
type Owner interface {
	Exited(ex Exit, now time.Time) error
}

// Exit describes a reaped child.
type Exit struct {
	PID      int
	Owner    Owner
	Code     int // -1 when killed by a signal
	Signaled bool
}

// Child is a running subprocess. Fd is the non-blocking read end of its
// stdout pipe; the caller closes it.
type Child struct {
	PID int
	Fd  int
}

// Supervisor tracks spawned children by pid.
type Supervisor struct {
	shell    string
	children map[int]Owner
}

// New returns a supervisor that runs commands through /bin/sh.
func New() *Supervisor {
	return &Supervisor{shell: "/bin/sh", children: make(map[int]Owner)}
}

// Spawn runs command with stdout captured and stdin on /dev/null.
func (s *Supervisor) Spawn(command string, owner Owner) (Child, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return Child{}, fmt.Errorf("supervisor: pipe: %w", err)
	}
	w := os.NewFile(uintptr(p[1]), "stdout")
	defer w.Close()

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		unix.Close(p[0])
		return Child{}, fmt.Errorf("supervisor: open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	proc, err := os.StartProcess(s.shell, []string{"sh", "-c", command}, &os.ProcAttr{
		Files: []*os.File{devnull, w, os.Stderr},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	if err != nil {
		unix.Close(p[0])
		return Child{}, fmt.Errorf("supervisor: start %q: %w", command, err)
	}
	pid := proc.Pid
	// Reaping goes through Wait4 below, not os.Process.
	_ = proc.Release()

	if err := unix.SetNonblock(p[0], true); err != nil {
		unix.Close(p[0])
		return Child{}, fmt.Errorf("supervisor: set nonblock: %w", err)
	}
	s.children[pid] = owner
	return Child{PID: pid, Fd: p[0]}, nil
}

// Reap collects every child that has exited, without blocking.
func (s *Supervisor) Reap() []Exit {
	var out []Exit
	for pid, owner := range s.children {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// ECHILD: someone else reaped it.
			delete(s.children, pid)
			out = append(out, Exit{PID: pid, Owner: owner, Code: -1})
			continue
		}
		if wpid != pid {
			continue
		}
		delete(s.children, pid)
		ex := Exit{PID: pid, Owner: owner, Code: ws.ExitStatus()}
		if ws.Signaled() {
			ex.Code, ex.Signaled = -1, true
		}
		out = append(out, ex)
	}
	return out
}

// Running is the number of children not yet reaped.
func (s *Supervisor) Running() int { return len(s.children) }

// Terminate sends SIGTERM to every child's process group and reaps what
// exits within grace.
func (s *Supervisor) Terminate(grace time.Duration) {
	for pid := range s.children {
		if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			log.Printf("supervisor: kill %d: %v", pid, err)
		}
	}
	deadline := time.Now().Add(grace)
	for len(s.children) > 0 && time.Now().Before(deadline) {
		s.Reap()
		if len(s.children) > 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	for pid := range s.children {
		_ = unix.Kill(-pid, unix.SIGKILL)
	}
	s.Reap()
}
