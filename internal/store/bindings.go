package store

import (
	"sort"

	"github.com/orchestrik/kernel/internal/contracts"
)

// UpsertBinding inserts or replaces a route binding.
func (s *Store) UpsertBinding(b contracts.RouteBinding) {
	s.bindingsMu.Lock()
	defer s.bindingsMu.Unlock()
	s.bindings[b.BindingID] = b
}

// ListBindings returns every binding, sorted by ascending priority
// (§3 "Route Binding" — "sorted by priority on listing").
func (s *Store) ListBindings() []contracts.RouteBinding {
	s.bindingsMu.RLock()
	defer s.bindingsMu.RUnlock()
	out := make([]contracts.RouteBinding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
