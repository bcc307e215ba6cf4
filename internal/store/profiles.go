package store

import (
	"sort"

	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/pkg/errors"
)

// RegisterProfile inserts or replaces an agent profile. registerAgent
// (§4.F) is the only caller; re-registration is how a profile is
// mutated (§3 "mutated only by re-register; never destroyed").
func (s *Store) RegisterProfile(profile contracts.AgentProfile) {
	s.profilesMu.Lock()
	defer s.profilesMu.Unlock()
	s.profiles[profile.AgentID] = profile
}

// HasProfile reports whether agentID is registered.
func (s *Store) HasProfile(agentID string) bool {
	s.profilesMu.RLock()
	defer s.profilesMu.RUnlock()
	_, ok := s.profiles[agentID]
	return ok
}

// GetProfile returns a copy of the profile for agentID.
func (s *Store) GetProfile(agentID string) (contracts.AgentProfile, error) {
	s.profilesMu.RLock()
	defer s.profilesMu.RUnlock()
	p, ok := s.profiles[agentID]
	if !ok {
		return contracts.AgentProfile{}, errors.Wrapf(errors.ErrNotFound, "Store.GetProfile", "agent %q not registered", agentID)
	}
	return p, nil
}

// ListProfiles returns a copy of every registered profile, sorted by
// ascending agentId so callers iterate in a stable order.
func (s *Store) ListProfiles() []contracts.AgentProfile {
	s.profilesMu.RLock()
	defer s.profilesMu.RUnlock()
	out := make([]contracts.AgentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
