// Package layers holds the ordered layer stack of one canvas and its selection.
// Index order is z-order: later layers draw on top.
package layers

import (
	"canvas-studio/core"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("layer not found")

// Repository owns the layer slice. Every mutation builds a new slice and
// swaps it in, so slices returned by All are never changed afterwards.
type Repository struct {
	mu     sync.RWMutex
	layers []core.Layer
}

func NewRepository() *Repository {
	return &Repository{layers: []core.Layer{}}
}

func NewID() string {
	return ulid.Make().String()
}

// All returns a copy of the stack.
func (r *Repository) All() []core.Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return core.CloneLayers(r.layers)
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers)
}

func (r *Repository) Find(id string) (core.Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := indexOf(r.layers, id); i >= 0 {
		return core.CloneLayer(r.layers[i]), true
	}
	return core.Layer{}, false
}

// ListVisible returns visible layers whose payload is ready to draw.
func (r *Repository) ListVisible() []core.Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Layer, 0, len(r.layers))
	for _, l := range r.layers {
		if l.Visible && l.Ready() {
			out = append(out, core.CloneLayer(l))
		}
	}
	return out
}

// Append adds layers on top of the stack. A layer without an id gets one.
func (r *Repository) Append(added ...core.Layer) []string {
	ids := make([]string, 0, len(added))

	r.mu.Lock()
	next := make([]core.Layer, len(r.layers), len(r.layers)+len(added))
	copy(next, r.layers)
	for _, l := range added {
		if l.ID == "" {
			l.ID = NewID()
		}
		next = append(next, core.CloneLayer(l))
		ids = append(ids, l.ID)
	}
	r.layers = next
	r.mu.Unlock()

	logrus.WithField("layer_ids", ids).Debug("Layers appended")
	return ids
}

// Remove deletes the given ids. Unknown ids are ignored.
func (r *Repository) Remove(ids ...string) int {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]core.Layer, 0, len(r.layers))
	for _, l := range r.layers {
		if !drop[l.ID] {
			next = append(next, l)
		}
	}
	removed := len(r.layers) - len(next)
	r.layers = next
	return removed
}

// Update applies patch to a copy of the layer and swaps it in. The id cannot
// be changed by the patch.
func (r *Repository) Update(id string, patch func(*core.Layer)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.layers, id)
	if i < 0 {
		return fmt.Errorf("layer with id %s not found: %w", id, ErrNotFound)
	}
	next := make([]core.Layer, len(r.layers))
	copy(next, r.layers)
	l := core.CloneLayer(next[i])
	patch(&l)
	l.ID = id
	next[i] = l
	r.layers = next
	return nil
}

// UpdateMany patches every listed layer in a single swap. Unknown ids are skipped.
func (r *Repository) UpdateMany(ids []string, patch func(*core.Layer)) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]core.Layer, len(r.layers))
	for i, l := range r.layers {
		l := l
		if want[l.ID] {
			l = core.CloneLayer(l)
			id := l.ID
			patch(&l)
			l.ID = id
		}
		next[i] = l
	}
	r.layers = next
}

// Replace swaps in a whole stack, used by undo/redo and document loads.
func (r *Repository) Replace(layers []core.Layer) {
	next := core.CloneLayers(layers)
	r.mu.Lock()
	r.layers = next
	r.mu.Unlock()
}

// Duplicate copies a layer under a fresh id and appends it on top.
func (r *Repository) Duplicate(id string) (core.Layer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := indexOf(r.layers, id)
	if i < 0 {
		return core.Layer{}, fmt.Errorf("layer with id %s not found: %w", id, ErrNotFound)
	}
	dup := core.CloneLayer(r.layers[i])
	dup.ID = NewID()
	dup.Name = dup.Name + " (copy)"

	next := make([]core.Layer, len(r.layers), len(r.layers)+1)
	copy(next, r.layers)
	r.layers = append(next, dup)

	logrus.WithFields(logrus.Fields{
		"layer_id":  id,
		"copy_id":   dup.ID,
		"copy_name": dup.Name,
	}).Debug("Layer duplicated")
	return core.CloneLayer(dup), nil
}

// MoveUp swaps the layer with the one above it. It reports whether anything moved.
func (r *Repository) MoveUp(id string) bool {
	return r.move(id, func(i, n int) int { return i + 1 })
}

func (r *Repository) MoveDown(id string) bool {
	return r.move(id, func(i, n int) int { return i - 1 })
}

func (r *Repository) MoveToTop(id string) bool {
	return r.move(id, func(i, n int) int { return n - 1 })
}

func (r *Repository) MoveToBottom(id string) bool {
	return r.move(id, func(i, n int) int { return 0 })
}

func (r *Repository) move(id string, target func(i, n int) int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.layers)
	i := indexOf(r.layers, id)
	if i < 0 {
		return false
	}
	j := target(i, n)
	if j < 0 || j >= n || j == i {
		return false
	}

	next := make([]core.Layer, 0, n)
	moved := r.layers[i]
	for k, l := range r.layers {
		if k != i {
			next = append(next, l)
		}
	}
	next = append(next[:j], append([]core.Layer{moved}, next[j:]...)...)
	r.layers = next
	return true
}

func indexOf(layers []core.Layer, id string) int {
	for i, l := range layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}
