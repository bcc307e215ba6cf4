package router

import (
	"testing"

	"github.com/orchestrik/kernel/internal/config"
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/store"
)

func TestStickyPrecedenceOverridesBindings(t *testing.T) {
	cfg := config.Default()
	s := store.New()
	s.RegisterProfile(contracts.AgentProfile{AgentID: "agent-a"})
	s.RegisterProfile(contracts.AgentProfile{AgentID: "agent-b"})
	s.UpsertBinding(contracts.RouteBinding{BindingID: "b1", AgentID: "agent-b", Priority: 1, Enabled: true, Channel: "slack"})

	r := New(cfg, s, "")

	d1, err := r.Route(Request{Channel: "slack", Account: "acct", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d1.AgentID != "agent-b" || d1.Reason != "binding" {
		t.Fatalf("first route = %+v, want binding -> agent-b", d1)
	}

	s.SetSticky(d1.StickyKey, "agent-a")

	d2, err := r.Route(Request{Channel: "slack", Account: "acct", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d2.AgentID != "agent-a" || d2.Reason != "sticky" {
		t.Fatalf("second route = %+v, want sticky -> agent-a", d2)
	}
}

func TestBindingMatchFallsBackToDefault(t *testing.T) {
	cfg := config.Default()
	s := store.New()
	r := New(cfg, s, "default-agent")

	d, err := r.Route(Request{Channel: "email"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d.AgentID != "default-agent" || d.Reason != "default" {
		t.Fatalf("decision = %+v, want default -> default-agent", d)
	}
}

func TestRouteErrorsWithoutBindingOrDefault(t *testing.T) {
	cfg := config.Default()
	s := store.New()
	r := New(cfg, s, "")

	if _, err := r.Route(Request{Channel: "email"}); err == nil {
		t.Fatal("expected error when nothing matches and no default agent is configured")
	}
}

func TestBindingPriorityOrderWins(t *testing.T) {
	cfg := config.Default()
	s := store.New()
	s.UpsertBinding(contracts.RouteBinding{BindingID: "low", AgentID: "agent-low", Priority: 10, Enabled: true, Channel: "slack"})
	s.UpsertBinding(contracts.RouteBinding{BindingID: "high", AgentID: "agent-high", Priority: 1, Enabled: true, Channel: "slack"})
	r := New(cfg, s, "")

	d, err := r.Route(Request{Channel: "slack"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d.AgentID != "agent-high" {
		t.Fatalf("AgentID = %q, want agent-high (lower priority number wins)", d.AgentID)
	}
}

func TestDisabledBindingIsIgnored(t *testing.T) {
	cfg := config.Default()
	s := store.New()
	s.UpsertBinding(contracts.RouteBinding{BindingID: "b1", AgentID: "agent-a", Priority: 1, Enabled: false, Channel: "slack"})
	r := New(cfg, s, "fallback")

	d, err := r.Route(Request{Channel: "slack"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d.AgentID != "fallback" {
		t.Fatalf("AgentID = %q, want fallback (disabled binding should not match)", d.AgentID)
	}
}

// S6 — Semantic routing picks the agent whose keywords best match the
// intent, over the configured default agent.
func TestSemanticRoutingPrefersBetterKeywordMatch(t *testing.T) {
	cfg := config.Default()
	cfg.SemanticRouting.Enabled = true
	cfg.SemanticRouting.MinScore = 0.2
	cfg.SemanticRouting.PreferBindings = false

	s := store.New()
	s.RegisterProfile(contracts.AgentProfile{
		AgentID: "controller",
		Capabilities: contracts.Capabilities{
			Keywords: []string{"controller", "orchestration"},
		},
	})
	s.RegisterProfile(contracts.AgentProfile{
		AgentID: "security-reviewer",
		Capabilities: contracts.Capabilities{
			Keywords: []string{"security", "review", "vulnerability"},
		},
	})

	r := New(cfg, s, "controller")

	d, err := r.Route(Request{Intent: "please run a security vulnerability review on this diff"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d.AgentID != "security-reviewer" || d.Reason != "semantic" {
		t.Fatalf("decision = %+v, want semantic -> security-reviewer", d)
	}
	if d.SemanticScore <= 0 {
		t.Errorf("SemanticScore = %v, want > 0", d.SemanticScore)
	}
}

func TestSemanticRoutingBelowMinScoreFallsThrough(t *testing.T) {
	cfg := config.Default()
	cfg.SemanticRouting.Enabled = true
	cfg.SemanticRouting.MinScore = 0.99
	cfg.SemanticRouting.PreferBindings = false

	s := store.New()
	s.RegisterProfile(contracts.AgentProfile{
		AgentID: "agent-a",
		Capabilities: contracts.Capabilities{
			Keywords: []string{"unrelated"},
		},
	})
	r := New(cfg, s, "fallback-agent")

	d, err := r.Route(Request{Intent: "totally different topic"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d.Reason == "semantic" {
		t.Fatalf("expected score below MinScore to fall through, got semantic decision: %+v", d)
	}
	if d.AgentID != "fallback-agent" {
		t.Fatalf("AgentID = %q, want fallback-agent", d.AgentID)
	}
}

func TestSemanticLoadPenaltyDemotesBusyAgent(t *testing.T) {
	cfg := config.Default()
	cfg.SemanticRouting.Enabled = true
	cfg.SemanticRouting.MinScore = 0
	cfg.SemanticRouting.PreferBindings = false

	s := store.New()
	s.RegisterProfile(contracts.AgentProfile{AgentID: "busy", Capabilities: contracts.Capabilities{Keywords: []string{"deploy"}}})
	s.RegisterProfile(contracts.AgentProfile{AgentID: "idle", Capabilities: contracts.Capabilities{Keywords: []string{"deploy"}}})

	for i := 0; i < 100; i++ {
		s.CreateRun(contracts.RunRecord{RunID: runID(i), AgentID: "busy", Status: contracts.RunRunning})
	}

	r := New(cfg, s, "")
	d, err := r.Route(Request{Intent: "please deploy the service"})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if d.AgentID != "idle" {
		t.Fatalf("AgentID = %q, want idle (busy agent should be demoted by load penalty)", d.AgentID)
	}
}

func runID(i int) string {
	digits := "0123456789"
	if i < 10 {
		return "run-" + string(digits[i])
	}
	return "run-" + string(digits[i/10]) + string(digits[i%10])
}
