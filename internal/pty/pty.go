package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Default geometry used when a caller passes zero.
const (
	DefaultCols uint16 = 80
	DefaultRows uint16 = 24
)

var (
	// ErrTimeout reports that a bounded read or write saw no progress
	// before its deadline. It is not an end-of-stream condition.
	ErrTimeout = errors.New("pty: timed out")

	// ErrShellNotFound reports that the configured shell binary does not exist.
	ErrShellNotFound = errors.New("shell binary not found")

	// ErrUnsupported is returned by Spawn on non-POSIX platforms.
	ErrUnsupported = errors.New("pty: platform not supported")
)

// Process is a shell running on the slave side of a pseudo-terminal.
// Read, Write, Resize and Size are safe to call concurrently with Close;
// after Close they return os.ErrClosed.
type Process interface {
	Pid() int
	Read(buf []byte, timeout time.Duration) (int, error)
	Write(data []byte, timeout time.Duration) (int, error)
	Resize(cols, rows uint16) error
	Size() (cols, rows uint16, err error)
	Close() error
	// KillAndReap terminates the process group and returns the shell's exit
	// code once it has been reaped: the exit status, 128+signal when killed
	// by a signal, or -1 when the status could not be collected.
	KillAndReap(grace time.Duration) (int, error)
}

// Options describes the shell to start.
type Options struct {
	Shell string
	Args  []string
	Dir   string
	Env   []string
	Cols  uint16
	Rows  uint16
}

// SpawnFunc starts a Process. Spawn is the production implementation.
type SpawnFunc func(Options) (Process, error)

// DefaultShell returns the preferred shell for terminal sessions.
// Honors SHELL when set, otherwise falls back to /bin/bash or /bin/sh.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// LookShell resolves shell to an executable path.
func LookShell(shell string) (string, error) {
	if shell == "" {
		shell = DefaultShell()
	}
	path, err := exec.LookPath(shell)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrShellNotFound, shell)
	}
	return path, nil
}

// environ builds the child environment: the server's own environment minus
// terminal geometry variables, then the terminal settings, then extra.
func environ(opts Options, extra []string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(extra)+5)
	for _, kv := range base {
		switch key, _, _ := strings.Cut(kv, "="); key {
		case "TERM", "COLORTERM", "COLUMNS", "LINES":
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"CLICOLOR=1",
		"COLUMNS="+strconv.Itoa(int(opts.Cols)),
		"LINES="+strconv.Itoa(int(opts.Rows)),
	)
	return append(env, extra...)
}

func withDefaults(opts Options) Options {
	if opts.Shell == "" {
		opts.Shell = DefaultShell()
	}
	if opts.Cols == 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = DefaultRows
	}
	return opts
}
