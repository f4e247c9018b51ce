// Package registry holds the process-wide mapping from session token
// to debugger adapter and enforces session liveness: clients ping,
// a janitor sweeps, abandoned sessions get torn down.
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"cppjudge/internal/logging"
)

// Session is the registry's view of a debugger adapter.
type Session interface {
	Initialized() bool
	LastPing() time.Time
	Ping()
	StreamAlive() bool
	Stop() error
}

// Registry maps session IDs to adapters. Every read and mutation holds
// the single registry mutex, so handlers and the janitor never observe
// a session mid-teardown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session

	pingDeadline  time.Duration
	cleanInterval time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Registry. pingDeadline is how stale a session's last
// ping may be before the janitor reaps it; cleanInterval is the sweep
// period.
func New(pingDeadline, cleanInterval time.Duration) *Registry {
	return &Registry{
		sessions:      make(map[string]Session),
		pingDeadline:  pingDeadline,
		cleanInterval: cleanInterval,
		done:          make(chan struct{}),
	}
}

// Register binds a session ID to its adapter. A session ID maps to at
// most one adapter; re-registering replaces the entry.
func (r *Registry) Register(id string, s Session) {
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
}

// Get resolves a session ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the entry for id. The caller is responsible for
// stopping the adapter.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartJanitor launches the periodic sweep goroutine. Stop it with
// Close.
func (r *Registry) StartJanitor() {
	go func() {
		ticker := time.NewTicker(r.cleanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Sweep applies the liveness policy once. A session still initializing
// is considered live and has its ping refreshed (a build in progress
// is not abandonment). Otherwise a session is reaped when its last
// ping is older than the deadline or its debugger stream is gone.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, s := range r.sessions {
		if !s.Initialized() {
			s.Ping()
			continue
		}
		expired := now.Sub(s.LastPing()) >= r.pingDeadline
		if expired || !s.StreamAlive() {
			logging.L().Info("janitor reaping session",
				zap.String("session", id),
				zap.Bool("ping_expired", expired))
			_ = s.Stop()
			delete(r.sessions, id)
		}
	}
}

// Close stops the janitor and tears down every remaining session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		_ = s.Stop()
		delete(r.sessions, id)
	}
}
