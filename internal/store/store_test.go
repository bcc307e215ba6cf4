package store

import (
	"testing"
	"time"

	"github.com/orchestrik/kernel/internal/contracts"
)

func TestStickySessionPrecedence(t *testing.T) {
	s := New()
	if _, ok := s.LookupSticky("k1"); ok {
		t.Fatal("unset sticky key should not resolve")
	}
	s.SetSticky("k1", "agent-a")
	got, ok := s.LookupSticky("k1")
	if !ok || got != "agent-a" {
		t.Fatalf("LookupSticky = (%q, %v), want (agent-a, true)", got, ok)
	}
	s.SetSticky("k1", "agent-b")
	got, _ = s.LookupSticky("k1")
	if got != "agent-b" {
		t.Errorf("sticky mapping did not update, got %q", got)
	}
}

func TestSessionIndex(t *testing.T) {
	s := New()
	s.BindSession("sess-1", "agent-a")
	got, ok := s.AgentForSession("sess-1")
	if !ok || got != "agent-a" {
		t.Fatalf("AgentForSession = (%q, %v), want (agent-a, true)", got, ok)
	}
	if _, ok := s.AgentForSession("unknown"); ok {
		t.Error("unknown session should not resolve")
	}

	sess, ok := s.LastSessionForAgent("agent-a")
	if !ok || sess != "sess-1" {
		t.Fatalf("LastSessionForAgent = (%q, %v), want (sess-1, true)", sess, ok)
	}
	s.BindSession("sess-2", "agent-a")
	sess, _ = s.LastSessionForAgent("agent-a")
	if sess != "sess-2" {
		t.Errorf("LastSessionForAgent did not update, got %q", sess)
	}
	if _, ok := s.LastSessionForAgent("unknown-agent"); ok {
		t.Error("unknown agent should not resolve a last session")
	}
}

func TestRegisterAndGetProfile(t *testing.T) {
	s := New()
	s.RegisterProfile(contracts.AgentProfile{AgentID: "coder", Role: "engineer"})
	if !s.HasProfile("coder") {
		t.Fatal("HasProfile should be true after register")
	}
	p, err := s.GetProfile("coder")
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if p.Role != "engineer" {
		t.Errorf("Role = %q, want engineer", p.Role)
	}
	if _, err := s.GetProfile("missing"); err == nil {
		t.Error("GetProfile of missing agent should error")
	}
}

func TestListBindingsSortedByPriority(t *testing.T) {
	s := New()
	s.UpsertBinding(contracts.RouteBinding{BindingID: "b2", Priority: 5, Enabled: true})
	s.UpsertBinding(contracts.RouteBinding{BindingID: "b1", Priority: 1, Enabled: true})
	s.UpsertBinding(contracts.RouteBinding{BindingID: "b3", Priority: 10, Enabled: true})

	got := s.ListBindings()
	if len(got) != 3 {
		t.Fatalf("got %d bindings, want 3", len(got))
	}
	if got[0].BindingID != "b1" || got[1].BindingID != "b2" || got[2].BindingID != "b3" {
		t.Errorf("bindings not sorted by priority: %+v", got)
	}
}

func TestBuildRunGraph(t *testing.T) {
	s := New()
	now := time.Now()
	s.CreateRun(contracts.RunRecord{RunID: "root", AgentID: "a", Status: contracts.RunRunning, CreatedAt: now})
	s.CreateRun(contracts.RunRecord{RunID: "child-1", AgentID: "b", ParentRunID: "root", Status: contracts.RunCompleted, CreatedAt: now})
	s.CreateRun(contracts.RunRecord{RunID: "child-2", AgentID: "c", ParentRunID: "root", Status: contracts.RunFailed, CreatedAt: now})
	s.CreateRun(contracts.RunRecord{RunID: "grandchild", AgentID: "d", ParentRunID: "child-1", Status: contracts.RunQueued, CreatedAt: now})

	graph, err := s.BuildRunGraph("root")
	if err != nil {
		t.Fatalf("BuildRunGraph error: %v", err)
	}
	if len(graph.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(graph.Children))
	}
	var child1 *RunGraph
	for i := range graph.Children {
		if graph.Children[i].Run.RunID == "child-1" {
			child1 = &graph.Children[i]
		}
	}
	if child1 == nil {
		t.Fatal("child-1 not found in graph")
	}
	if len(child1.Children) != 1 || child1.Children[0].Run.RunID != "grandchild" {
		t.Errorf("child-1's children = %+v, want [grandchild]", child1.Children)
	}

	if _, err := s.BuildRunGraph("missing"); err == nil {
		t.Error("BuildRunGraph of missing run should error")
	}
}

func TestActiveRunCountAndChildRunCount(t *testing.T) {
	s := New()
	now := time.Now()
	s.CreateRun(contracts.RunRecord{RunID: "r1", AgentID: "a", Status: contracts.RunRunning, CreatedAt: now})
	s.CreateRun(contracts.RunRecord{RunID: "r2", AgentID: "a", Status: contracts.RunQueued, CreatedAt: now})
	s.CreateRun(contracts.RunRecord{RunID: "r3", AgentID: "a", Status: contracts.RunCompleted, CreatedAt: now})
	s.CreateRun(contracts.RunRecord{RunID: "r4", AgentID: "a", ParentRunID: "r1", Status: contracts.RunRunning, CreatedAt: now})

	if got := s.ActiveRunCount("a"); got != 3 {
		t.Errorf("ActiveRunCount = %d, want 3", got)
	}
	if got := s.ChildRunCount("r1"); got != 1 {
		t.Errorf("ChildRunCount(r1) = %d, want 1", got)
	}
}

func TestUpdateRunMutatesStoredCopy(t *testing.T) {
	s := New()
	now := time.Now()
	s.CreateRun(contracts.RunRecord{RunID: "r1", AgentID: "a", Status: contracts.RunQueued, CreatedAt: now})

	err := s.UpdateRun("r1", func(r *contracts.RunRecord) {
		r.Status = contracts.RunRunning
		r.SessionID = "sess-1"
	})
	if err != nil {
		t.Fatalf("UpdateRun error: %v", err)
	}

	got, _ := s.GetRun("r1")
	if got.Status != contracts.RunRunning || got.SessionID != "sess-1" {
		t.Errorf("run not updated: %+v", got)
	}

	if err := s.UpdateRun("missing", func(*contracts.RunRecord) {}); err == nil {
		t.Error("UpdateRun of missing run should error")
	}
}
