package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/webshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webshell/internal/pty"
	"github.com/GriffinCanCode/webshell/internal/shared/id"
	"go.uber.org/zap"
)

const (
	readBufferSize      = 32 * 1024
	defaultKillGrace    = time.Second
	defaultWriteTimeout = 5 * time.Second
)

var readBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, readBufferSize)
		return &b
	},
}

type state int

const (
	stateUnspawned state = iota
	stateSpawning
	stateAlive
	stateExited
	stateCleaned
)

func (s state) String() string {
	switch s {
	case stateUnspawned:
		return "unspawned"
	case stateSpawning:
		return "spawning"
	case stateAlive:
		return "alive"
	case stateExited:
		return "exited"
	case stateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// SessionConfig describes how sessions start their shell.
type SessionConfig struct {
	Shell        string
	Args         []string
	WorkingDir   string
	Env          []string
	KillGrace    time.Duration
	WriteTimeout time.Duration
	// Spawn starts the process; defaults to pty.Spawn.
	Spawn   pty.SpawnFunc
	Metrics *monitoring.Metrics
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Shell == "" {
		c.Shell = pty.DefaultShell()
	}
	if c.Args == nil {
		c.Args = []string{"-l"}
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Spawn == nil {
		c.Spawn = pty.Spawn
	}
	return c
}

// SessionInfo is the public representation of a session
type SessionInfo struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Pid          int       `json:"pid"`
	Cols         uint16    `json:"cols"`
	Rows         uint16    `json:"rows"`
	State        string    `json:"state"`
	Alive        bool      `json:"alive"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Session owns one shell running on a PTY.
//
// Read and Write are meant for a single attached bridge; Cleanup, Touch,
// IsIdle and the accessors are safe from any goroutine.
type Session struct {
	id     id.SessionID
	owner  string
	cfg    SessionConfig
	logger *zap.Logger

	createdAt time.Time
	// activity is the offset from createdAt of the last read or write, so it
	// rides on createdAt's monotonic clock reading.
	activity atomic.Int64
	lease    atomic.Uint64
	// reader is a one-slot token held by the bridge currently pumping
	// output, so two attachments never drain the PTY at the same time.
	reader chan struct{}

	mu         sync.Mutex
	state      state
	proc       pty.Process
	pid        int
	cols, rows uint16
	exitCode   int
	unread     []byte
	reclaim    runtime.Cleanup
	hasReclaim bool

	started   bool
	spawnOnce sync.Once
	spawned   chan struct{}
	spawnErr  error
	done      chan struct{}
}

// NewSession creates an unspawned session for owner.
func NewSession(owner string, cfg SessionConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	sid := id.NewSessionID()
	s := &Session{
		id:        sid,
		owner:     owner,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(zap.String("session_id", sid.String()), zap.String("owner", owner)),
		createdAt: time.Now(),
		exitCode:  -1,
		spawned:   make(chan struct{}),
		done:      make(chan struct{}),
		reader:    make(chan struct{}, 1),
	}
	s.reader <- struct{}{}
	return s
}

// Spawn starts the shell on a new PTY of the given geometry. Zero values
// fall back to 80x24. It fails with ErrShellNotFound before forking when the
// shell binary cannot be resolved.
func (s *Session) Spawn(cols, rows uint16) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadySpawned
	}
	if s.state != stateUnspawned && s.state != stateSpawning {
		s.mu.Unlock()
		// Cleaned before the fork began; release anyone joining it.
		s.spawnOnce.Do(func() {
			s.spawnErr = ErrNotAlive
			close(s.spawned)
		})
		return ErrAlreadySpawned
	}
	s.started = true
	s.state = stateSpawning
	s.mu.Unlock()

	err := s.spawn(cols, rows)
	s.spawnOnce.Do(func() {
		s.spawnErr = err
		close(s.spawned)
	})
	return err
}

func (s *Session) spawn(cols, rows uint16) error {
	shell, err := pty.LookShell(s.cfg.Shell)
	if err != nil {
		s.markFailed()
		return err
	}
	if cols == 0 {
		cols = pty.DefaultCols
	}
	if rows == 0 {
		rows = pty.DefaultRows
	}

	proc, err := s.cfg.Spawn(pty.Options{
		Shell: shell,
		Args:  s.cfg.Args,
		Dir:   s.cfg.WorkingDir,
		Env:   s.cfg.Env,
		Cols:  cols,
		Rows:  rows,
	})
	if err != nil {
		s.markFailed()
		return fmt.Errorf("spawn %s: %w", shell, err)
	}

	s.mu.Lock()
	if s.state == stateCleaned {
		// Cleanup ran while the fork was in flight and left the reap to us.
		s.mu.Unlock()
		proc.Close()
		code, err := proc.KillAndReap(s.cfg.KillGrace)
		if err != nil {
			s.logger.Error("Reaping late shell failed", zap.Int("pid", proc.Pid()), zap.Error(err))
		}
		s.mu.Lock()
		s.exitCode = code
		s.mu.Unlock()
		close(s.done)
		return ErrNotAlive
	}
	s.proc = proc
	s.pid = proc.Pid()
	s.cols, s.rows = cols, rows
	s.state = stateAlive
	s.reclaim = runtime.AddCleanup(s, reclaimProcess, reclaimer{
		proc:    proc,
		grace:   s.cfg.KillGrace,
		logger:  s.logger,
		metrics: s.cfg.Metrics,
	})
	s.hasReclaim = true
	s.mu.Unlock()

	s.Touch()
	s.logger.Info("Shell spawned",
		zap.String("shell", shell),
		zap.Int("pid", s.pid),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows))
	return nil
}

// markFailed moves a session whose spawn failed straight to cleaned. A
// Cleanup that ran during the spawn left closing done to us.
func (s *Session) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateCleaned
	close(s.done)
}

type reclaimer struct {
	proc    pty.Process
	grace   time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// reclaimProcess runs when a Session is garbage collected without Cleanup.
func reclaimProcess(r reclaimer) {
	r.logger.Warn("Reclaiming shell of unreferenced session", zap.Int("pid", r.proc.Pid()))
	r.proc.Close()
	r.proc.KillAndReap(r.grace)
	r.metrics.RecordCleanup(monitoring.ReasonFinalizer)
}

// Resize updates the stored geometry and the PTY window size. The kernel
// delivers SIGWINCH to the foreground job.
func (s *Session) Resize(cols, rows uint16) error {
	if cols < 1 || rows < 1 {
		return ErrInvalidSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAlive {
		return ErrNotAlive
	}
	if err := s.proc.Resize(cols, rows); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Read waits up to timeout for shell output. It returns ErrNoData when none
// arrived, and io.EOF once the shell has exited; after EOF the session is no
// longer alive.
func (s *Session) Read(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	proc, st := s.proc, s.state
	if len(s.unread) > 0 && (st == stateAlive || st == stateExited) {
		out := s.unread
		s.unread = nil
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	switch st {
	case stateAlive:
	case stateExited:
		return nil, io.EOF
	default:
		return nil, ErrNotAlive
	}

	bp := readBuffers.Get().(*[]byte)
	defer readBuffers.Put(bp)

	n, err := proc.Read(*bp, timeout)
	if n > 0 {
		s.Touch()
		out := make([]byte, n)
		copy(out, (*bp)[:n])
		return out, nil
	}

	switch {
	case errors.Is(err, pty.ErrTimeout):
		return nil, ErrNoData
	case errors.Is(err, io.EOF):
		s.markExited()
		return nil, io.EOF
	case errors.Is(err, os.ErrClosed):
		return nil, ErrNotAlive
	case err != nil:
		s.markExited()
		s.logger.Debug("PTY read failed", zap.Error(err))
		return nil, io.EOF
	}
	return nil, ErrNoData
}

// Write forwards input to the shell. An OS-level failure marks the session
// not alive; the caller learns of it through the next Read. ErrWriteTimeout
// leaves the session alive.
func (s *Session) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	proc, st := s.proc, s.state
	s.mu.Unlock()

	if st != stateAlive {
		return ErrNotAlive
	}

	_, err := proc.Write(data, s.cfg.WriteTimeout)
	switch {
	case err == nil:
		s.Touch()
		return nil
	case errors.Is(err, pty.ErrTimeout):
		return ErrWriteTimeout
	case errors.Is(err, os.ErrClosed):
		return ErrNotAlive
	default:
		s.markExited()
		return fmt.Errorf("write to shell: %w", err)
	}
}

// Unread pushes data back so the next Read returns it first. A reader that
// lost its attachment uses it to hand output it already took to its
// successor.
func (s *Session) Unread(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	s.unread = append(append([]byte(nil), data...), s.unread...)
	s.mu.Unlock()
}

// AcquireReader waits for the reader token. It gives up and reports false
// when stop closes first.
func (s *Session) AcquireReader(stop <-chan struct{}) bool {
	select {
	case <-s.reader:
		return true
	case <-stop:
		return false
	}
}

// ReleaseReader returns the token taken by AcquireReader.
func (s *Session) ReleaseReader() {
	s.reader <- struct{}{}
}

func (s *Session) markExited() {
	s.mu.Lock()
	if s.state == stateAlive {
		s.state = stateExited
	}
	s.mu.Unlock()
}

// Touch records activity now.
func (s *Session) Touch() {
	now := int64(time.Since(s.createdAt))
	for {
		prev := s.activity.Load()
		if now <= prev || s.activity.CompareAndSwap(prev, now) {
			return
		}
	}
}

// IsIdle reports whether no activity happened within threshold. A threshold
// of zero or less disables idle detection.
func (s *Session) IsIdle(threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	return time.Since(s.createdAt)-time.Duration(s.activity.Load()) >= threshold
}

// LastActivity returns the time of the last read, write or ping.
func (s *Session) LastActivity() time.Time {
	return s.createdAt.Add(time.Duration(s.activity.Load()))
}

// Cleanup tears the session down: close the PTY master, SIGTERM the process
// group, wait out the grace window, then SIGKILL and reap. Safe to call
// concurrently from any number of goroutines; only the first call does the
// work and reports true. Callers that must know the shell is gone wait on
// Done: when a fork is still in flight the spawning goroutine reaps it, and
// a losing concurrent call returns before the winner has finished.
func (s *Session) Cleanup() bool {
	s.mu.Lock()
	if s.state == stateCleaned {
		s.mu.Unlock()
		return false
	}
	inFlight := s.started && s.state == stateSpawning
	proc, pid := s.proc, s.pid
	s.proc, s.pid = nil, 0
	s.state = stateCleaned
	if s.hasReclaim {
		s.reclaim.Stop()
		s.hasReclaim = false
	}
	s.mu.Unlock()

	if proc == nil {
		if !inFlight {
			close(s.done)
		}
		return true
	}

	if err := proc.Close(); err != nil {
		s.logger.Debug("Closing PTY master failed", zap.Error(err))
	}
	code, err := proc.KillAndReap(s.cfg.KillGrace)
	if err != nil {
		s.logger.Error("Reaping shell failed", zap.Int("pid", pid), zap.Error(err))
	}

	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()
	close(s.done)

	s.logger.Info("Session cleaned up", zap.Int("pid", pid), zap.Int("exit_code", code))
	return true
}

// Done is closed once the session is torn down and any shell it started
// has been reaped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitCode returns the shell's exit code after Cleanup, or -1.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Attach hands out a new attachment lease, superseding all earlier ones.
func (s *Session) Attach() uint64 {
	return s.lease.Add(1)
}

// Attached reports whether lease is still the newest attachment.
func (s *Session) Attached(lease uint64) bool {
	return s.lease.Load() == lease
}

func (s *Session) ID() id.SessionID {
	return s.id
}

func (s *Session) Owner() string {
	return s.owner
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Pid returns the shell pid, or 0 when not running.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Size returns the stored geometry.
func (s *Session) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// TerminalSize queries the PTY itself for its window size.
func (s *Session) TerminalSize() (cols, rows uint16, err error) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return 0, 0, ErrNotAlive
	}
	return proc.Size()
}

// Alive reports whether the shell is running and attached to the PTY.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateAlive
}

// Info returns a snapshot for the REST API.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:           s.id.String(),
		Owner:        s.owner,
		Pid:          s.pid,
		Cols:         s.cols,
		Rows:         s.rows,
		State:        s.state.String(),
		Alive:        s.state == stateAlive,
		CreatedAt:    s.createdAt,
		LastActivity: s.LastActivity(),
	}
}

// reserve marks the session as spawning so the registry can count it
// before the fork happens.
func (s *Session) reserve() {
	s.mu.Lock()
	if s.state == stateUnspawned {
		s.state = stateSpawning
	}
	s.mu.Unlock()
}

// spawning reports whether a fork is in flight.
func (s *Session) spawning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateSpawning
}

// waitSpawned blocks until the in-flight Spawn finishes and returns its error.
func (s *Session) waitSpawned() error {
	<-s.spawned
	return s.spawnErr
}
