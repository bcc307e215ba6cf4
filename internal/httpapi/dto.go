package httpapi

import (
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/orchestrator"
)

// registerAgentRequest is the JSON-serializable subset of
// contracts.AgentProfile. Provider/Tools/Memory are wired by the
// process embedding the kernel, not over HTTP.
type registerAgentRequest struct {
	AgentID      string                 `json:"agentId" binding:"required"`
	Role         string                 `json:"role"`
	SystemPrompt string                 `json:"systemPrompt"`
	Limits       contracts.AgentLimits  `json:"limits"`
	Flags        contracts.AgentFlags   `json:"flags"`
	Capabilities contracts.Capabilities `json:"capabilities"`
	Metadata     map[string]any         `json:"metadata"`
}

type routeRequest struct {
	Channel           string         `json:"channel"`
	Account           string         `json:"account"`
	ThreadID          string         `json:"threadId"`
	Intent            string         `json:"intent"`
	StickyKeyOverride string         `json:"stickyKeyOverride"`
	Metadata          map[string]any `json:"metadata"`
}

type executeRequest struct {
	AgentID     string         `json:"agentId" binding:"required"`
	ParentRunID string         `json:"parentRunId"`
	Model       string         `json:"model"`
	Input       string         `json:"input" binding:"required"`
	Metadata    map[string]any `json:"metadata"`
}

type routeExecuteRequest struct {
	routeRequest
	Input string `json:"input" binding:"required"`
}

type spawnRequest struct {
	ParentRunID  string                 `json:"parentRunId" binding:"required"`
	AgentID      string                 `json:"agentId"`
	Role         string                 `json:"role"`
	SystemPrompt string                 `json:"systemPrompt"`
	Limits       contracts.AgentLimits  `json:"limits"`
	Flags        contracts.AgentFlags   `json:"flags"`
	Capabilities contracts.Capabilities `json:"capabilities"`
	Metadata     map[string]any         `json:"metadata"`
}

type requeueDeadLetterRequest struct {
	DelayMs       int  `json:"delayMs"`
	ResetAttempts bool `json:"resetAttempts"`
}

func toRouterRequest(r routeRequest) orchestrator.RouteRequest {
	return orchestrator.RouteRequest{
		Channel:           r.Channel,
		Account:           r.Account,
		ThreadID:          r.ThreadID,
		Intent:            r.Intent,
		StickyKeyOverride: r.StickyKeyOverride,
		Metadata:          r.Metadata,
	}
}
