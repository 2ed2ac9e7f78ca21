package terminal

import (
	"bytes"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/webshell/internal/pty"
	"github.com/stretchr/testify/require"
)

// fakeProcess is a scripted pty.Process.
type fakeProcess struct {
	pid    int
	output chan []byte
	eof    chan struct{}
	eofOne sync.Once

	mu       sync.Mutex
	written  bytes.Buffer
	cols     uint16
	rows     uint16
	closed   bool
	writeErr error
	exitCode int

	closeCalls atomic.Int32
	killCalls  atomic.Int32
	// killDelay stretches KillAndReap, like a shell sitting out the grace
	// window.
	killDelay atomic.Int64
	reaped    atomic.Bool
}

var nextFakePid atomic.Int32

func newFakeProcess(opts pty.Options) *fakeProcess {
	return &fakeProcess{
		pid:      int(40000 + nextFakePid.Add(1)),
		output:   make(chan []byte, 256),
		eof:      make(chan struct{}),
		cols:     opts.Cols,
		rows:     opts.Rows,
		exitCode: 0,
	}
}

func (f *fakeProcess) Pid() int { return f.pid }

func (f *fakeProcess) emit(s string) { f.output <- []byte(s) }

// exit makes Read report EOF once queued output has been drained.
func (f *fakeProcess) exit(code int) {
	f.mu.Lock()
	f.exitCode = code
	f.mu.Unlock()
	f.eofOne.Do(func() { close(f.eof) })
}

func (f *fakeProcess) Read(buf []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, os.ErrClosed
	}

	select {
	case d := <-f.output:
		return copy(buf, d), nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-f.output:
		return copy(buf, d), nil
	case <-f.eof:
		return 0, io.EOF
	case <-timer.C:
		return 0, pty.ErrTimeout
	}
}

func (f *fakeProcess) Write(data []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(data)
}

func (f *fakeProcess) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeProcess) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return os.ErrClosed
	}
	f.cols, f.rows = cols, rows
	return nil
}

func (f *fakeProcess) Size() (uint16, uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, 0, os.ErrClosed
	}
	return f.cols, f.rows, nil
}

func (f *fakeProcess) Close() error {
	f.closeCalls.Add(1)
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeProcess) KillAndReap(time.Duration) (int, error) {
	f.killCalls.Add(1)
	f.eofOne.Do(func() { close(f.eof) })
	time.Sleep(time.Duration(f.killDelay.Load()))
	f.reaped.Store(true)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode, nil
}

// fakeSpawner records every process it starts.
type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	opts  []pty.Options
	// gate, when set, blocks each spawn until it is closed.
	gate chan struct{}
	// gated counts spawns that reached the gate.
	gated atomic.Int32
	err   error
}

func (s *fakeSpawner) Spawn(opts pty.Options) (pty.Process, error) {
	if s.gate != nil {
		s.gated.Add(1)
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(opts)
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.opts = append(s.opts, opts)
	s.mu.Unlock()
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

func fakeSessionConfig(sp *fakeSpawner) SessionConfig {
	return SessionConfig{
		Shell:     "sh",
		Spawn:     sp.Spawn,
		KillGrace: 10 * time.Millisecond,
	}
}

// newFakeSession returns a spawned session backed by a fake process.
func newFakeSession(t *testing.T, owner string) (*Session, *fakeProcess) {
	t.Helper()
	sp := &fakeSpawner{}
	s := NewSession(owner, fakeSessionConfig(sp), nil)
	require.NoError(t, s.Spawn(80, 24))
	t.Cleanup(func() { s.Cleanup() })
	return s, sp.last()
}

// fakeConn is a scripted Conn that flags concurrent Send calls.
type fakeConn struct {
	in       chan []byte
	peerGone chan struct{}
	goneOnce sync.Once

	inSend     atomic.Int32
	concurrent atomic.Bool

	mu          sync.Mutex
	sent        [][]byte
	closed      chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 64),
		peerGone: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-c.in:
		return p, nil
	case <-c.peerGone:
		return nil, ErrPeerClosed
	case <-c.closed:
		return nil, ErrPeerClosed
	case <-timer.C:
		return nil, ErrReceiveTimeout
	}
}

func (c *fakeConn) Send(payload []byte) error {
	if c.inSend.Add(1) > 1 {
		c.concurrent.Store(true)
	}
	defer c.inSend.Add(-1)
	// Widen the window in which an unserialized writer would overlap.
	time.Sleep(50 * time.Microsecond)

	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), payload...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	payload, err := codec.Marshal(v)
	require.NoError(t, err)
	c.in <- payload
}

func (c *fakeConn) hangUp() {
	c.goneOnce.Do(func() { close(c.peerGone) })
}

func (c *fakeConn) frames(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		require.NoError(t, codec.Unmarshal(raw, &m), "frame is not valid JSON: %q", raw)
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func framesOfType(frames []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, f := range frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}
