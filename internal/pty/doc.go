// Package pty is the native process layer behind browser terminal sessions.
//
// It is the only package that talks to the operating system about processes
// and terminals, and it keeps that surface narrow:
//
//   - Spawn: start a login shell on a fresh pseudo-terminal, in a new
//     session so the shell leads its own process group (pgid == pid)
//   - Read / Write: bounded by a timeout via poll(2), never blocking forever
//   - Resize / Size: TIOCSWINSZ / TIOCGWINSZ on the master side; the kernel
//     delivers SIGWINCH to the foreground job
//   - Close: release the master descriptor (the child sees hangup)
//   - KillAndReap: SIGTERM the whole group, wait out a grace window, then
//     SIGKILL the group and block until the shell is reaped
//
// The master descriptor is owned raw (duplicated with close-on-exec and set
// non-blocking) so that Go's poller never flips it back to blocking mode.
// Callers above this package depend only on the Process interface, which is
// what lets the session logic be tested with a fake.
//
// Only POSIX hosts are supported. On other platforms Spawn returns
// ErrUnsupported.
package pty
