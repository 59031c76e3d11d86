package editor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry keeps the open sessions of the process.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, sessions: make(map[string]*Session)}
}

// SetNotifier replaces the notifier used by sessions created afterwards.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.Notifier = n
}

func (r *Registry) Create() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := NewSession(ulid.Make().String(), r.deps)
	r.sessions[s.ID] = s
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Lookup is Get with an error wrapping ErrSessionNotFound.
func (r *Registry) Lookup(id string) (*Session, error) {
	if s, ok := r.Get(id); ok {
		return s, nil
	}
	return nil, fmt.Errorf("session with id %s: %w", id, ErrSessionNotFound)
}

// Delete closes and forgets a session.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// IDs returns the ids of the open sessions in no particular order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
