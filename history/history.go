// Package history keeps the bounded undo/redo stack of canvas snapshots.
package history

import (
	"sync"

	"canvas-studio/core"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of snapshots kept before the oldest is evicted.
const DefaultCapacity = 50

// Store is a linear history with a cursor. The cursor always indexes an
// existing snapshot.
type Store struct {
	mu       sync.RWMutex
	states   []core.HistoryState
	cursor   int
	capacity int
}

func NewStore() *Store {
	return NewStoreWithCapacity(DefaultCapacity)
}

func NewStoreWithCapacity(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	s := &Store{capacity: capacity}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.states = []core.HistoryState{{Layers: []core.Layer{}, Selection: []string{}}}
	s.cursor = 0
}

// Reset drops every snapshot and starts over from an empty canvas.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Seed replaces the history with a single snapshot, used after loading a document.
func (s *Store) Seed(layers []core.Layer, selection []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = []core.HistoryState{snapshot(layers, selection)}
	s.cursor = 0
}

// Record drops any redo entries past the cursor and appends a copy of the
// given state. Once the capacity is exceeded the oldest snapshot is evicted
// and the cursor stays on the newest one.
func (s *Store) Record(layers []core.Layer, selection []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := append(s.states[:s.cursor+1:s.cursor+1], snapshot(layers, selection))
	if len(states) > s.capacity {
		states = states[len(states)-s.capacity:]
	}
	s.states = states
	s.cursor = len(states) - 1

	logrus.WithFields(logrus.Fields{
		"cursor": s.cursor,
		"length": len(s.states),
	}).Debug("History snapshot recorded")
}

// Undo moves the cursor back one step and returns the snapshot there. It
// reports false when already at the oldest snapshot.
func (s *Store) Undo() (core.HistoryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == 0 {
		return core.HistoryState{}, false
	}
	s.cursor--
	return copyState(s.states[s.cursor]), true
}

// Redo moves the cursor forward one step and returns the snapshot there.
func (s *Store) Redo() (core.HistoryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.states)-1 {
		return core.HistoryState{}, false
	}
	s.cursor++
	return copyState(s.states[s.cursor]), true
}

func (s *Store) Current() core.HistoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.states[s.cursor])
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *Store) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

func (s *Store) CanUndo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor > 0
}

func (s *Store) CanRedo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor < len(s.states)-1
}

func snapshot(layers []core.Layer, selection []string) core.HistoryState {
	sel := make([]string, len(selection))
	copy(sel, selection)
	return core.HistoryState{Layers: core.CloneLayers(layers), Selection: sel}
}

func copyState(st core.HistoryState) core.HistoryState {
	return snapshot(st.Layers, st.Selection)
}
