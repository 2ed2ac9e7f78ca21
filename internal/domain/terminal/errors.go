package terminal

import (
	"errors"

	"github.com/GriffinCanCode/webshell/internal/pty"
)

var (
	// ErrCapacity reports that the global session cap is reached.
	ErrCapacity = errors.New("terminal session limit reached")

	// ErrShellNotFound reports that the configured shell binary is missing.
	ErrShellNotFound = pty.ErrShellNotFound

	// ErrNoOwner reports an empty owner identity.
	ErrNoOwner = errors.New("owner identity required")

	// ErrNoData reports that a bounded read saw no output. Not end-of-stream.
	ErrNoData = errors.New("no data available")

	// ErrNotAlive reports an operation on a session whose shell is gone.
	ErrNotAlive = errors.New("terminal session is not alive")

	// ErrAlreadySpawned reports a second Spawn on the same session.
	ErrAlreadySpawned = errors.New("terminal session already spawned")

	// ErrInvalidSize reports a geometry below one column or row.
	ErrInvalidSize = errors.New("terminal size must be at least 1x1")

	// ErrWriteTimeout reports that the shell stopped draining its input.
	// The session stays alive.
	ErrWriteTimeout = errors.New("terminal input queue full")

	// ErrReceiveTimeout is returned by Conn.Receive when nothing arrived in
	// time. It is not a disconnect.
	ErrReceiveTimeout = errors.New("receive timed out")

	// ErrPeerClosed is returned by Conn.Receive once the peer has gone.
	ErrPeerClosed = errors.New("peer closed connection")
)

// ErrShuttingDown reports that the registry no longer accepts sessions.
var ErrShuttingDown = errors.New("terminal server shutting down")
