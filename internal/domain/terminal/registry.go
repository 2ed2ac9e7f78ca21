package terminal

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/webshell/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

// DefaultMaxSessions is the global cap when none is configured.
const DefaultMaxSessions = 5

// RegistryConfig configures the session registry.
type RegistryConfig struct {
	MaxSessions int
	Session     SessionConfig
}

// Registry maps each owner to at most one live Session and enforces the
// global session cap.
//
// The registry lock is never held across process I/O: forks, kills and
// reaps all run after it is released. Lock order is registry then session.
type Registry struct {
	cfg     RegistryConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Registry {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Session.Metrics = metrics
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns owner's live session, or spawns one. reattached is true
// when the session already existed. It fails with ErrCapacity, without
// spawning, when the cap is reached.
func (r *Registry) GetOrCreate(owner string, cols, rows uint16) (*Session, bool, error) {
	if owner == "" {
		return nil, false, ErrNoOwner
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, false, ErrShuttingDown
		}

		if s, ok := r.sessions[owner]; ok {
			switch {
			case s.Alive():
				r.mu.Unlock()
				r.metrics.IncSessionsReattached()
				return s, true, nil

			case s.spawning():
				// Another connection for this owner is forking; join it.
				r.mu.Unlock()
				if err := s.waitSpawned(); err != nil {
					return nil, false, err
				}
				continue

			default:
				delete(r.sessions, owner)
				r.mu.Unlock()
				if s.Cleanup() {
					r.metrics.RecordCleanup(monitoring.ReasonEvicted)
				}
				r.logger.Debug("Evicted dead session", zap.String("owner", owner), zap.String("session_id", s.ID().String()))
				continue
			}
		}

		if active := r.activeLocked(); active >= r.cfg.MaxSessions {
			r.mu.Unlock()
			r.metrics.IncCapacityRejections()
			r.logger.Warn("Session capacity reached",
				zap.String("owner", owner),
				zap.Int("active", active),
				zap.Int("max", r.cfg.MaxSessions))
			return nil, false, ErrCapacity
		}

		// Reserve the slot before releasing the lock so concurrent callers
		// count it against the cap.
		s := NewSession(owner, r.cfg.Session, r.logger)
		s.reserve()
		r.sessions[owner] = s
		active := r.activeLocked()
		r.mu.Unlock()
		r.metrics.SetSessionsActive(active)

		timer := monitoring.NewTimer(r.metrics, "terminal", "spawn")
		if err := s.Spawn(cols, rows); err != nil {
			timer.Stop("error")
			r.metrics.IncSpawnFailures()
			r.Remove(owner, s)
			r.logger.Error("Failed to spawn shell", zap.String("owner", owner), zap.Error(err))
			return nil, false, err
		}
		timer.Stop("success")
		r.metrics.IncSessionsSpawned()
		return s, false, nil
	}
}

// activeLocked counts live sessions plus reservations. r.mu must be held.
func (r *Registry) activeLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.Alive() || s.spawning() {
			n++
		}
	}
	return n
}

// Remove drops owner's mapping if it still points at s. Reports whether it
// did.
func (r *Registry) Remove(owner string, s *Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[owner]
	if ok && cur == s {
		delete(r.sessions, owner)
	}
	active := r.activeLocked()
	r.mu.Unlock()

	r.metrics.SetSessionsActive(active)
	return ok && cur == s
}

// Get returns owner's session, live or not.
func (r *Registry) Get(owner string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[owner]
	return s, ok
}

// ActiveCount returns the number of live or spawning sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Capacity returns the session cap.
func (r *Registry) Capacity() int {
	return r.cfg.MaxSessions
}

// List returns a snapshot of every registered session, oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Terminate cleans up and removes owner's session. An attached bridge sees
// the shell go away and reports the exit to its client. Reports whether
// owner had a session.
func (r *Registry) Terminate(owner string) bool {
	r.mu.Lock()
	s, ok := r.sessions[owner]
	if ok {
		delete(r.sessions, owner)
	}
	active := r.activeLocked()
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.metrics.SetSessionsActive(active)
	if s.Cleanup() {
		r.metrics.RecordCleanup(monitoring.ReasonTerminated)
	}
	r.logger.Info("Session terminated", zap.String("owner", owner), zap.String("session_id", s.ID().String()))
	return true
}

// Shutdown stops accepting sessions and cleans up every registered one
// concurrently. It returns once all shells have been reaped.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for owner, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, owner)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if s.Cleanup() {
				r.metrics.RecordCleanup(monitoring.ReasonShutdown)
			}
			// Another teardown may still be inside its grace window, or a
			// fork may still be in flight.
			<-s.Done()
		}(s)
	}
	wg.Wait()

	r.metrics.SetSessionsActive(0)
	r.logger.Info("Terminal sessions shut down", zap.Int("count", len(sessions)))
}
