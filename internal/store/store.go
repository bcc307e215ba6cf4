// Package store implements the Orchestration Kernel's State Store: the
// sole authoritative, in-memory owner of every mutable collection named
// in the data model (agent profiles, runs, bindings, sticky sessions,
// mailboxes, idempotency index, partition counters, the session→agent
// index). Every other component holds only read-through handles and
// mutates exclusively through these methods.
//
// Lock hierarchy: Store.mailboxesMu < mailbox.mu, never the reverse.
// Each of the other top-level maps (profiles, runs, bindings, sticky,
// sessions) has its own independent lock; none of them nest inside a
// mailbox lock or each other.
package store

import (
	"sync"

	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/pkg/errors"
)

// Store is the process-wide state store. Zero value is not usable; use
// New.
type Store struct {
	profilesMu sync.RWMutex
	profiles   map[string]contracts.AgentProfile

	runsMu    sync.RWMutex
	runs      map[string]contracts.RunRecord
	childRuns map[string][]string // parentRunId -> []runId, insertion order

	bindingsMu sync.RWMutex
	bindings   map[string]contracts.RouteBinding

	stickyMu sync.RWMutex
	sticky   map[string]string // stickyKey -> agentId

	sessionsMu    sync.RWMutex
	sessions      map[string]string // sessionId -> agentId
	agentSessions map[string]string // agentId -> last known sessionId

	mailboxesMu sync.RWMutex
	mailboxes   map[string]*mailbox // agentId -> mailbox
}

// New creates an empty State Store.
func New() *Store {
	return &Store{
		profiles:  map[string]contracts.AgentProfile{},
		runs:      map[string]contracts.RunRecord{},
		childRuns: map[string][]string{},
		bindings:  map[string]contracts.RouteBinding{},
		sticky:        map[string]string{},
		sessions:      map[string]string{},
		agentSessions: map[string]string{},
		mailboxes:     map[string]*mailbox{},
	}
}

// mailboxFor returns (creating if necessary) the mailbox for agentId.
func (s *Store) mailboxFor(agentID string) *mailbox {
	s.mailboxesMu.RLock()
	mb, ok := s.mailboxes[agentID]
	s.mailboxesMu.RUnlock()
	if ok {
		return mb
	}

	s.mailboxesMu.Lock()
	defer s.mailboxesMu.Unlock()
	if mb, ok := s.mailboxes[agentID]; ok {
		return mb
	}
	mb = newMailbox()
	s.mailboxes[agentID] = mb
	return mb
}

// ========================================
// Sticky sessions (§3 "Sticky Session")
// ========================================

// LookupSticky returns the agent bound to stickyKey, if any.
func (s *Store) LookupSticky(stickyKey string) (string, bool) {
	s.stickyMu.RLock()
	defer s.stickyMu.RUnlock()
	agentID, ok := s.sticky[stickyKey]
	return agentID, ok
}

// SetSticky binds stickyKey to agentID, overriding any prior mapping.
// No eviction policy is implemented (spec §9 leaves this an open
// question and explicitly asks for none in this core).
func (s *Store) SetSticky(stickyKey, agentID string) {
	s.stickyMu.Lock()
	defer s.stickyMu.Unlock()
	s.sticky[stickyKey] = agentID
}

// ========================================
// Session → agent index (§4.G "sessionId → agentId index")
// ========================================

// BindSession records which agent owns sessionID, maintained by the
// Agent Runtime whenever a run starts (§4.E step 5). It also updates
// the reverse per-agent session map so the next run of agentID can
// resume from its prior session id.
func (s *Store) BindSession(sessionID, agentID string) {
	if sessionID == "" {
		return
	}
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[sessionID] = agentID
	s.agentSessions[agentID] = sessionID
}

// AgentForSession resolves a sessionId to the agent that owns it.
func (s *Store) AgentForSession(sessionID string) (string, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	agentID, ok := s.sessions[sessionID]
	return agentID, ok
}

// LastSessionForAgent returns the most recent sessionId bound to
// agentID via BindSession, which the Agent Runtime passes to the
// AgentFactory as the "previous session id" on the next run (§4.E
// step 4).
func (s *Store) LastSessionForAgent(agentID string) (string, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sessionID, ok := s.agentSessions[agentID]
	return sessionID, ok
}

// ErrNotFound is returned (wrapped with errors.Wrap context) whenever an
// accessor is asked for a missing entity by id.
var ErrNotFound = errors.ErrNotFound
