// Package policy implements the kernel's Policy Engine (§4.C): three
// pure predicates over budget/messaging rules, plus a model-resolution
// hook. Every verdict that denies an operation carries a reason string
// so callers can surface an actionable error (§7 "PolicyDenied").
package policy

import (
	"github.com/samber/lo"

	"github.com/orchestrik/kernel/internal/config"
)

// ActiveRunCounter is the subset of the State Store the policy engine
// consults to count active/child runs.
type ActiveRunCounter interface {
	ActiveRunCount(agentID string) int
	ChildRunCount(parentRunID string) int
}

// Engine is the Policy Engine. Zero value is not usable; use New.
type Engine struct {
	cfg   *config.Config
	store ActiveRunCounter
}

// New creates a Policy Engine reading budget/messaging rules from cfg
// and active-run counts from store.
func New(cfg *config.Config, store ActiveRunCounter) *Engine {
	return &Engine{cfg: cfg, store: store}
}

// Decision is the outcome of a policy predicate (§4.C "Denials are
// carried as {allowed:false, reason:string}").
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// ExecuteRequest is the input to CanExecute.
type ExecuteRequest struct {
	AgentID     string
	ParentRunID string
	Depth       int
}

// CanExecute denies if depth exceeds the configured budget or the
// agent already has maxConcurrentRuns active (queued|running) runs.
func (e *Engine) CanExecute(req ExecuteRequest) Decision {
	if req.Depth > e.cfg.Budget.MaxDepth {
		return deny("max depth exceeded")
	}
	if e.store.ActiveRunCount(req.AgentID) >= e.cfg.Budget.MaxConcurrentRuns {
		return deny("max concurrent runs exceeded")
	}
	return allow()
}

// SpawnRequest is the input to CanSpawn.
type SpawnRequest struct {
	ControllerAgentID string
	ParentRunID       string
}

// CanSpawn denies if the parent run already has maxChildrenPerRun
// children.
func (e *Engine) CanSpawn(req SpawnRequest) Decision {
	if e.store.ChildRunCount(req.ParentRunID) >= e.cfg.Budget.MaxChildrenPerRun {
		return deny("max children per run exceeded")
	}
	return allow()
}

// MessageRequest is the input to CanMessage.
type MessageRequest struct {
	From  string
	To    string
	Topic string
	RunID string
}

// CanMessage applies, in order: blocked-rules (wildcard "*" matches any
// agent) → allowed-topics set (if configured, topic is required and
// must be in the set) → allowed-rules (any rule matches, or deny).
func (e *Engine) CanMessage(req MessageRequest) Decision {
	policy := e.cfg.MessagingPolicy

	for _, rule := range policy.BlockedRules {
		if ruleMatches(rule, req.From, req.To) {
			return deny("messaging blocked by rule")
		}
	}

	if len(policy.AllowedTopics) > 0 {
		if req.Topic == "" {
			return deny("topic required by messaging policy")
		}
		if !lo.Contains(policy.AllowedTopics, req.Topic) {
			return deny("topic not in allowed set")
		}
	}

	if len(policy.AllowedRules) > 0 {
		for _, rule := range policy.AllowedRules {
			if ruleMatches(rule, req.From, req.To) {
				return allow()
			}
		}
		return deny("no allowed-rule matched")
	}

	return allow()
}

func ruleMatches(rule config.MessagingRule, from, to string) bool {
	return matchesAgent(rule.From, from) && matchesAgent(rule.To, to)
}

func matchesAgent(pattern, agentID string) bool {
	return pattern == "*" || pattern == agentID
}

// ResolveModel returns the effective model name for agentID. The
// default policy is identity: the requested model is used as-is.
func (e *Engine) ResolveModel(agentID, requestedModel string) string {
	return requestedModel
}
