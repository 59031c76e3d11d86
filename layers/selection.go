package layers

import "sync"

// Selection is an ordered set of layer ids. Ids of deleted layers may linger;
// readers filter them against the repository.
type Selection struct {
	mu  sync.RWMutex
	ids []string
}

func NewSelection() *Selection {
	return &Selection{ids: []string{}}
}

// Set replaces the selection, dropping duplicates while keeping order.
func (s *Selection) Set(ids ...string) {
	next := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		next = append(next, id)
	}
	s.mu.Lock()
	s.ids = next
	s.mu.Unlock()
}

// Toggle adds id if absent and removes it otherwise.
func (s *Selection) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]string, 0, len(s.ids)+1)
	found := false
	for _, cur := range s.ids {
		if cur == id {
			found = true
			continue
		}
		next = append(next, cur)
	}
	if !found {
		next = append(next, id)
	}
	s.ids = next
}

func (s *Selection) Clear() {
	s.mu.Lock()
	s.ids = []string{}
	s.mu.Unlock()
}

func (s *Selection) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cur := range s.ids {
		if cur == id {
			return true
		}
	}
	return false
}

// IDs returns the raw ids, including stale ones.
func (s *Selection) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Live returns the selected ids that still exist in repo, in selection order.
func (s *Selection) Live(repo *Repository) []string {
	ids := s.IDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := repo.Find(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// Primary returns the only selected layer, if exactly one live layer is selected.
func (s *Selection) Primary(repo *Repository) (string, bool) {
	live := s.Live(repo)
	if len(live) != 1 {
		return "", false
	}
	return live[0], true
}
