package core

import (
	"context"
	"sync"
	"time"

	"pkt.systems/sandview/internal/fsync"
	"pkt.systems/sandview/schema"
)

// Session tracks per-workspace execution state. A session is created on
// first contact with a workspace and lives until Dispose. Concurrent
// executions are tracked per execution id so any of them can be canceled
// without tearing down the others.
type Session struct {
	WorkspaceID schema.WorkspaceID

	mu sync.Mutex

	tree    *schema.VirtualFileTree
	manager schema.PackageManager
	syncer  *fsync.Syncer
	mounted bool

	cancels  map[uint64]context.CancelFunc
	nextExec uint64
	lastUsed time.Time
}

func newSession(ws schema.WorkspaceID) *Session {
	return &Session{
		WorkspaceID: ws,
		manager:     schema.ManagerNpm,
		syncer:      fsync.NewSyncer(),
		cancels:     make(map[uint64]context.CancelFunc),
		lastUsed:    time.Now(),
	}
}

// touch bumps the idle clock. Callers hold s.mu.
func (s *Session) touch() {
	s.lastUsed = time.Now()
}

// addCancel registers the cancel function for a starting execution and
// returns its id. Callers hold s.mu.
func (s *Session) addCancel(cancel context.CancelFunc) uint64 {
	s.nextExec++
	s.cancels[s.nextExec] = cancel
	return s.nextExec
}

// dropCancel removes and returns one execution's cancel function, if it
// is still registered.
func (s *Session) dropCancel(id uint64) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel := s.cancels[id]
	delete(s.cancels, id)
	return cancel
}

// takeCancels removes and returns every in-flight cancel function.
func (s *Session) takeCancels() []context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cancels) == 0 {
		return nil
	}
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.cancels = make(map[uint64]context.CancelFunc)
	return cancels
}

// Registry maps workspaces to sessions. It is an explicit dependency of
// the service rather than process-global state, so tests can run many
// services side by side.
type Registry struct {
	mu       sync.Mutex
	sessions map[schema.WorkspaceID]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[schema.WorkspaceID]*Session)}
}

// Ensure returns the session for the workspace, creating it on first use.
func (r *Registry) Ensure(ws schema.WorkspaceID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[ws]
	if !ok {
		s = newSession(ws)
		r.sessions[ws] = s
	}
	return s
}

// Get returns the session for the workspace without creating one.
func (r *Registry) Get(ws schema.WorkspaceID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[ws]
	return s, ok
}

// Remove drops the session for the workspace, returning it if present.
func (r *Registry) Remove(ws schema.WorkspaceID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[ws]
	if ok {
		delete(r.sessions, ws)
	}
	return s, ok
}

// IdleSince returns the workspaces whose last activity predates cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []schema.WorkspaceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []schema.WorkspaceID
	for ws, s := range r.sessions {
		s.mu.Lock()
		last := s.lastUsed
		busy := len(s.cancels) > 0
		s.mu.Unlock()
		if !busy && last.Before(cutoff) {
			idle = append(idle, ws)
		}
	}
	return idle
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
