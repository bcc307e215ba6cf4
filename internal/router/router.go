// Package router implements the Orchestration Kernel's Router (§4.D):
// sticky-session precedence, binding-based matching, and an optional
// semantic scoring pass with a load penalty.
package router

import (
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/orchestrik/kernel/internal/config"
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/pkg/errors"
)

// Store is the subset of the State Store the router reads.
type Store interface {
	LookupSticky(stickyKey string) (string, bool)
	SetSticky(stickyKey, agentID string)
	ListBindings() []contracts.RouteBinding
	ListProfiles() []contracts.AgentProfile
	ActiveRunCount(agentID string) int
}

// Request is the input to Route (§4.D).
type Request struct {
	Channel           string
	Account           string
	ThreadID          string
	Intent            string
	StickyKeyOverride string
	Metadata          map[string]any
}

// Decision is the output of Route.
type Decision struct {
	AgentID       string
	Reason        string // "sticky" | "binding" | "semantic" | "default"
	StickyKey     string
	SemanticScore float64
}

// Router is the Orchestration Kernel's Router. Zero value is not
// usable; use New.
type Router struct {
	cfg           *config.Config
	store         Store
	defaultAgentID string
}

// New creates a Router reading sticky/binding/profile state from store
// and semantic-routing tunables from cfg. defaultAgentID is the final
// fallback when no binding matches (may be empty).
func New(cfg *config.Config, store Store, defaultAgentID string) *Router {
	return &Router{cfg: cfg, store: store, defaultAgentID: defaultAgentID}
}

// buildStickyKey implements §3 "Sticky Session": explicit override, or
// channel:account:threadId with "*" for missing parts.
func buildStickyKey(req Request) string {
	if req.StickyKeyOverride != "" {
		return req.StickyKeyOverride
	}
	part := func(s string) string {
		if s == "" {
			return "*"
		}
		return s
	}
	return part(req.Channel) + ":" + part(req.Account) + ":" + part(req.ThreadID)
}

// Route implements §4.D's full decision procedure.
func (r *Router) Route(req Request) (Decision, error) {
	stickyKey := buildStickyKey(req)

	if agentID, ok := r.store.LookupSticky(stickyKey); ok {
		return Decision{AgentID: agentID, Reason: "sticky", StickyKey: stickyKey}, nil
	}

	matched := r.matchBindings(req)

	if r.cfg.SemanticRouting.Enabled {
		if intent := extractIntent(req); intent != "" {
			if d, ok := r.semanticRoute(intent, matched); ok {
				r.store.SetSticky(stickyKey, d.AgentID)
				d.StickyKey = stickyKey
				return d, nil
			}
		}
	}

	if len(matched) > 0 {
		d := Decision{AgentID: matched[0].AgentID, Reason: "binding", StickyKey: stickyKey}
		r.store.SetSticky(stickyKey, d.AgentID)
		return d, nil
	}

	if r.defaultAgentID != "" {
		d := Decision{AgentID: r.defaultAgentID, Reason: "default", StickyKey: stickyKey}
		r.store.SetSticky(stickyKey, d.AgentID)
		return d, nil
	}

	return Decision{}, errors.Wrap(errors.ErrNotFound, "Router.Route", "no binding matched and no default agent configured")
}

// matchBindings returns the enabled bindings whose selectors match req,
// in ascending priority order (ListBindings already sorts).
func (r *Router) matchBindings(req Request) []contracts.RouteBinding {
	var out []contracts.RouteBinding
	for _, b := range r.store.ListBindings() {
		if !b.Enabled {
			continue
		}
		if b.Channel != "" && b.Channel != req.Channel {
			continue
		}
		if b.Account != "" && b.Account != req.Account {
			continue
		}
		if b.ThreadPrefix != "" && !strings.HasPrefix(req.ThreadID, b.ThreadPrefix) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// extractIntent reads the request's Intent field, falling back to the
// metadata keys named in §4.D ("semanticQuery|query|task|objective|
// message|input").
func extractIntent(req Request) string {
	if req.Intent != "" {
		return req.Intent
	}
	for _, key := range []string{"semanticQuery", "query", "task", "objective", "message", "input"} {
		if v, ok := req.Metadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

const (
	substringWeight  = 1.0
	tokenWeight      = 0.6
	loadPenaltyPerRun = 0.05
)

// semanticRoute implements §4.D's "Semantic (optional)" scoring pass.
func (r *Router) semanticRoute(intent string, matched []contracts.RouteBinding) (Decision, bool) {
	candidates := r.semanticCandidates(matched)
	if len(candidates) == 0 {
		return Decision{}, false
	}

	query := strings.ToLower(intent)
	tokens := tokenize(query)

	var best Decision
	bestScore := -1.0

	for _, c := range candidates {
		keywords := keywordSet(c.profile, c.bindings)
		if len(keywords) == 0 {
			continue
		}

		score := 0.0
		for _, kw := range keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(query, kw) {
				score += substringWeight
			} else if tokens[kw] {
				score += tokenWeight
			}
		}
		score /= float64(max(len(keywords), 1))
		score -= loadPenaltyPerRun * float64(r.store.ActiveRunCount(c.profile.AgentID))
		if score < 0 {
			score = 0
		}

		if score > bestScore {
			bestScore = score
			best = Decision{AgentID: c.profile.AgentID, Reason: "semantic", SemanticScore: score}
		}
	}

	if bestScore < r.cfg.SemanticRouting.MinScore {
		return Decision{}, false
	}
	return best, true
}

type semanticCandidate struct {
	profile  contracts.AgentProfile
	bindings []contracts.RouteBinding
}

// semanticCandidates builds the candidate list per §4.D: if
// preferBindings and there are matched bindings, candidates are those
// binding agents; otherwise every registered agent. Ties break by
// iteration order: ascending agentId for the all-agents case
// (ListProfiles order), matched-binding priority order otherwise. The
// relative order of bindings with equal priority is not defined.
func (r *Router) semanticCandidates(matched []contracts.RouteBinding) []semanticCandidate {
	allProfiles := r.store.ListProfiles()
	profileByID := make(map[string]contracts.AgentProfile, len(allProfiles))
	for _, p := range allProfiles {
		profileByID[p.AgentID] = p
	}

	bindingsByAgent := make(map[string][]contracts.RouteBinding)
	for _, b := range r.store.ListBindings() {
		bindingsByAgent[b.AgentID] = append(bindingsByAgent[b.AgentID], b)
	}

	var agentIDs []string
	if r.cfg.SemanticRouting.PreferBindings && len(matched) > 0 {
		seen := map[string]bool{}
		for _, b := range matched {
			if !seen[b.AgentID] {
				seen[b.AgentID] = true
				agentIDs = append(agentIDs, b.AgentID)
			}
		}
	} else {
		for _, p := range allProfiles {
			agentIDs = append(agentIDs, p.AgentID)
		}
	}

	out := make([]semanticCandidate, 0, len(agentIDs))
	for _, id := range agentIDs {
		profile, ok := profileByID[id]
		if !ok {
			continue
		}
		out = append(out, semanticCandidate{profile: profile, bindings: bindingsByAgent[id]})
	}
	return out
}

// keywordSet collects the agent id, role, binding selectors and
// capabilities (keywords ∪ domains ∪ tools ∪ summary) per §4.D.
func keywordSet(profile contracts.AgentProfile, bindings []contracts.RouteBinding) []string {
	kws := []string{profile.AgentID, profile.Role}
	for _, b := range bindings {
		kws = append(kws, b.Channel, b.Account, b.ThreadPrefix)
	}
	kws = append(kws, profile.Capabilities.Keywords...)
	kws = append(kws, profile.Capabilities.Domains...)
	kws = append(kws, profile.Capabilities.Tools...)
	kws = append(kws, profile.Capabilities.Summary)

	return lo.Uniq(lo.Filter(kws, func(s string, _ int) bool { return s != "" }))
}

// tokenize splits on runs of characters that are neither letters nor
// digits (so CJK text, which unicode.IsLetter recognizes per
// codepoint, tokenizes as individual characters/runs same as any other
// letter run) and returns the resulting token set, lowercased.
func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = true
	}
	return set
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
