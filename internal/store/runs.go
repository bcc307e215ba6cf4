package store

import (
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/pkg/errors"
)

// CreateRun persists a new RunRecord, indexing it under its parent (if
// any) for buildRunGraph.
func (s *Store) CreateRun(run contracts.RunRecord) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	s.runs[run.RunID] = run
	if run.ParentRunID != "" {
		s.childRuns[run.ParentRunID] = append(s.childRuns[run.ParentRunID], run.RunID)
	}
}

// GetRun returns a copy of the run record for runID.
func (s *Store) GetRun(runID string) (contracts.RunRecord, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return contracts.RunRecord{}, errors.Wrapf(errors.ErrNotFound, "Store.GetRun", "run %q not found", runID)
	}
	return r, nil
}

// UpdateRun applies mutate to the stored copy of runID's record and
// persists the result. Returns ErrNotFound if the run does not exist.
func (s *Store) UpdateRun(runID string, mutate func(*contracts.RunRecord)) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "Store.UpdateRun", "run %q not found", runID)
	}
	mutate(&r)
	s.runs[runID] = r
	return nil
}

// ActiveRunCount returns the number of runs for agentID whose status is
// queued or running — the figure canExecute/semantic scoring load
// penalty both need.
func (s *Store) ActiveRunCount(agentID string) int {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()
	n := 0
	for _, r := range s.runs {
		if r.AgentID != agentID {
			continue
		}
		if r.Status == contracts.RunQueued || r.Status == contracts.RunRunning {
			n++
		}
	}
	return n
}

// ChildRunCount returns the number of runs whose ParentRunID is
// parentRunID, regardless of status (canSpawn consults this).
func (s *Store) ChildRunCount(parentRunID string) int {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()
	return len(s.childRuns[parentRunID])
}

// RunGraph is one node of buildRunGraph's recursive tree.
type RunGraph struct {
	Run      contracts.RunRecord
	Children []RunGraph
}

// BuildRunGraph returns the recursive tree of runs rooted at rootRunID,
// following ParentRunID links (§4.F "buildRunGraph").
func (s *Store) BuildRunGraph(rootRunID string) (RunGraph, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	root, ok := s.runs[rootRunID]
	if !ok {
		return RunGraph{}, errors.Wrapf(errors.ErrNotFound, "Store.BuildRunGraph", "run %q not found", rootRunID)
	}
	return s.buildRunGraphLocked(root), nil
}

func (s *Store) buildRunGraphLocked(run contracts.RunRecord) RunGraph {
	node := RunGraph{Run: run}
	for _, childID := range s.childRuns[run.RunID] {
		child, ok := s.runs[childID]
		if !ok {
			continue
		}
		node.Children = append(node.Children, s.buildRunGraphLocked(child))
	}
	return node
}
