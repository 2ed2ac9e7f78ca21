//go:build linux || darwin || freebsd

package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// reapInterval is the step between non-blocking wait4 polls during the
// SIGTERM grace window.
const reapInterval = 20 * time.Millisecond

type unixProcess struct {
	cmd *exec.Cmd
	pid int

	// mu guards fd: Read/Write/Resize/Size hold it shared for the duration
	// of the syscall, Close takes it exclusively, so the descriptor number is
	// never reused under an in-flight operation.
	mu sync.RWMutex
	fd int

	reapMu sync.Mutex
	reaped bool
	code   int
}

// Spawn starts opts.Shell on a new pseudo-terminal. The shell becomes a
// session leader with the PTY as its controlling terminal, which puts it
// and everything it starts in a process group whose id equals its pid.
func Spawn(opts Options) (Process, error) {
	opts = withDefaults(opts)

	cmd := exec.Command(opts.Shell, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = environ(opts, opts.Env)

	ptmx, err := pty.StartWithAttrs(cmd,
		&pty.Winsize{Cols: opts.Cols, Rows: opts.Rows},
		&syscall.SysProcAttr{Setsid: true, Setctty: true},
	)
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", opts.Shell, err)
	}

	p := &unixProcess{cmd: cmd, pid: cmd.Process.Pid, fd: -1, code: -1}

	fd, err := unix.FcntlInt(ptmx.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	ptmx.Close()
	if err == nil {
		if err = unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
		}
	}
	if err != nil {
		p.KillAndReap(0)
		return nil, fmt.Errorf("take pty master: %w", err)
	}
	p.fd = fd

	return p, nil
}

func (p *unixProcess) Pid() int {
	return p.pid
}

// Read waits up to timeout for output. It returns ErrTimeout when nothing
// arrived and io.EOF once the slave side has hung up.
func (p *unixProcess) Read(buf []byte, timeout time.Duration) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fd < 0 {
		return 0, os.ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		ready, err := poll(p.fd, unix.POLLIN, deadline)
		if err != nil {
			return 0, err
		}
		if !ready {
			return 0, ErrTimeout
		}

		n, err := unix.Read(p.fd, buf)
		switch {
		case n > 0:
			return n, nil
		case err == nil:
			return 0, io.EOF
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EIO):
			// Linux reports a hung-up slave as EIO rather than a zero read.
			return 0, io.EOF
		default:
			return 0, fmt.Errorf("read pty: %w", err)
		}
	}
}

// Write writes all of data, waiting up to timeout in total for the PTY
// input queue to drain when it is full.
func (p *unixProcess) Write(data []byte, timeout time.Duration) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fd < 0 {
		return 0, os.ErrClosed
	}

	deadline := time.Now().Add(timeout)
	written := 0
	for written < len(data) {
		n, err := unix.Write(p.fd, data[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil, errors.Is(err, unix.EINTR):
			continue
		case !errors.Is(err, unix.EAGAIN):
			return written, fmt.Errorf("write pty: %w", err)
		}

		ready, err := poll(p.fd, unix.POLLOUT, deadline)
		if err != nil {
			return written, err
		}
		if !ready {
			return written, ErrTimeout
		}
	}
	return written, nil
}

func (p *unixProcess) Resize(cols, rows uint16) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fd < 0 {
		return os.ErrClosed
	}
	return unix.IoctlSetWinsize(p.fd, unix.TIOCSWINSZ, &unix.Winsize{Col: cols, Row: rows})
}

func (p *unixProcess) Size() (uint16, uint16, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fd < 0 {
		return 0, 0, os.ErrClosed
	}
	ws, err := unix.IoctlGetWinsize(p.fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return ws.Col, ws.Row, nil
}

// Close releases the master descriptor. Safe to call more than once.
func (p *unixProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

// KillAndReap signals the whole process group, so jobs the shell started go
// with it. It does not return until the shell has been reaped.
func (p *unixProcess) KillAndReap(grace time.Duration) (int, error) {
	p.reapMu.Lock()
	defer p.reapMu.Unlock()

	if p.reaped {
		return p.code, nil
	}

	pgid := p.pid
	_ = unix.Kill(-pgid, unix.SIGTERM)

	deadline := time.Now().Add(grace)
	for !p.tryReap() {
		if !time.Now().Before(deadline) {
			_ = unix.Kill(-pgid, unix.SIGKILL)
			if err := p.reap(); err != nil {
				return p.code, err
			}
			break
		}
		time.Sleep(reapInterval)
	}

	// The leader is gone, but members that ignored SIGTERM keep the group
	// id allocated, so it cannot have been recycled yet.
	if unix.Kill(-pgid, 0) == nil {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	return p.code, nil
}

// tryReap collects the shell without blocking. Reports whether it is reaped.
func (p *unixProcess) tryReap() bool {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
	switch {
	case errors.Is(err, unix.ECHILD):
		p.finish(-1)
	case err != nil, pid != p.pid:
		return false
	default:
		p.finish(exitCode(ws))
	}
	return true
}

// reap blocks until the shell is collected, retrying interrupted waits.
func (p *unixProcess) reap() error {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(p.pid, &ws, 0, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			p.finish(-1)
			return nil
		case err != nil:
			return fmt.Errorf("wait4 %d: %w", p.pid, err)
		case pid == p.pid:
			p.finish(exitCode(ws))
			return nil
		}
	}
}

func (p *unixProcess) finish(code int) {
	p.reaped = true
	p.code = code
	// Frees the pidfd the runtime may hold; the status was collected above.
	_ = p.cmd.Process.Release()
}

func exitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}

// poll waits for events on fd until deadline. It reports false on timeout.
// Hangup and error conditions count as ready so the following read or
// write observes them.
func poll(fd int, events int16, deadline time.Time) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		n, err := unix.Poll(fds, int((wait+time.Millisecond-1)/time.Millisecond))
		switch {
		case errors.Is(err, unix.EINTR):
			if wait == 0 {
				return false, nil
			}
			continue
		case err != nil:
			return false, fmt.Errorf("poll pty: %w", err)
		}
		return n > 0, nil
	}
}
