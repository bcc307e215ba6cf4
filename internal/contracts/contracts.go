// Package contracts holds the data model shared across the kernel's
// components (§3 of the design) and the interfaces consumed from
// external collaborators (§6): the LLM provider, the per-agent
// conversation engine, the tool registry and the optional memory
// manager. None of these are implemented here — the kernel only ever
// holds a handle and calls through it.
package contracts

import (
	"context"
	"time"
)

// ========================================
// Consumed interfaces (external collaborators)
// ========================================

// AgentMessage is one turn of a conversation passed to/from a Provider
// or returned by an Agent. Content is either a plain string or a slice
// of ContentPart for multimodal turns.
type AgentMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one multimodal fragment of an AgentMessage.Content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ProviderResponse is what a Provider.Generate call returns: either a
// complete message, or a channel of incremental chunks (never both).
type ProviderResponse struct {
	Message *AgentMessage
	Stream  <-chan string
}

// Provider is the LLM backend. Out of scope to implement; the kernel
// only ever forwards it to an Agent instance.
type Provider interface {
	Generate(ctx context.Context, messages []AgentMessage, options map[string]any) (ProviderResponse, error)
}

// ExecuteStatus is the terminal/non-terminal status of one
// Agent.ExecuteWithResult call.
type ExecuteStatus string

const (
	ExecuteCompleted ExecuteStatus = "completed"
	ExecuteAborted   ExecuteStatus = "aborted"
	ExecuteFailed    ExecuteStatus = "failed"
)

// ExecuteResult is returned by Agent.ExecuteWithResult.
type ExecuteResult struct {
	Status       ExecuteStatus
	FinalMessage *AgentMessage
	Failure      string
	SessionID    string
	LoopCount    int
	RetryCount   int
}

// AppendUserMessageFunc lets a LoopBoundaryHook inject a synthetic user
// turn before the agent composes its next LLM request.
type AppendUserMessageFunc func(content string)

// StreamCallback is invoked once per incremental agent message; the
// runtime republishes each call as a run.stream event.
type StreamCallback func(msg AgentMessage)

// LoopBoundaryHook is invoked once per loop boundary inside an agent
// execution. Returning an error signals an InjectionFailure (§7); the
// caller must never let it escape to the agent itself.
type LoopBoundaryHook func(ctx context.Context, appendUserMessage AppendUserMessageFunc) error

// Agent is one running conversational unit, constructed by an
// AgentFactory from a profile, provider, prior session id and the two
// runtime callbacks above.
type Agent interface {
	ExecuteWithResult(ctx context.Context, input string, options map[string]any) (ExecuteResult, error)
	Abort()
	Close() error
	GetSessionID() string
}

// AgentFactory constructs Agent instances. Out of scope to implement;
// supplied to the Agent Runtime at wiring time.
type AgentFactory interface {
	NewAgent(profile AgentProfile, sessionID string, stream StreamCallback, hook LoopBoundaryHook) (Agent, error)
}

// ToolHandler implements one tool's effect.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one entry registered into a ToolRegistry.
type Tool struct {
	Name        string
	Description string
	Handler     ToolHandler
}

// ToolRegistry is the per-agent tool set consulted/extended by
// registerAgent (§4.F) to attach the messaging tool set (§4.G).
type ToolRegistry interface {
	HasTool(name string) bool
	Register(tools []Tool) error
}

// MemoryManager is an optional per-agent memory handle. Out of scope to
// implement.
type MemoryManager interface {
	Initialize(ctx context.Context) error
	Close() error
}

// ========================================
// Data model (§3)
// ========================================

// AgentLimits are the per-agent retry/loop/timeout limits (§3 "per-agent
// limits").
type AgentLimits struct {
	MaxRetries int `json:"maxRetries,omitempty"`
	MaxLoops   int `json:"maxLoops,omitempty"`
	TimeoutMs  int `json:"timeoutMs,omitempty"`
}

// AgentFlags are the per-agent behavior toggles named in §3.
type AgentFlags struct {
	Thinking bool `json:"thinking,omitempty"`
	PlanMode bool `json:"planMode,omitempty"`
}

// Capabilities is the keyword surface the router's semantic scorer
// reads from (§4.D).
type Capabilities struct {
	Keywords []string `json:"keywords,omitempty"`
	Domains  []string `json:"domains,omitempty"`
	Tools    []string `json:"tools,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// AgentProfile is the identity and capability record for one agent.
// Created on registerAgent, mutated only by re-register, never
// destroyed (§3).
type AgentProfile struct {
	AgentID      string         `json:"agentId"`
	Role         string         `json:"role,omitempty"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	Provider     Provider       `json:"-"`
	Tools        ToolRegistry   `json:"-"`
	Memory       MemoryManager  `json:"-"`
	SessionID    string         `json:"sessionId,omitempty"`
	Limits       AgentLimits    `json:"limits"`
	Flags        AgentFlags     `json:"flags"`
	Capabilities Capabilities   `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunStatus is one state in the run state machine (§4.F "state machine
// for runs").
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether status is one of the run state machine's
// absorbing states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunAborted, RunCancelled:
		return true
	default:
		return false
	}
}

// RunRecord is one top-level or child invocation of an agent (§3 "Run
// Record"). Lifecycle owned by the Agent Runtime.
type RunRecord struct {
	RunID       string         `json:"runId"`
	AgentID     string         `json:"agentId"`
	ParentRunID string         `json:"parentRunId,omitempty"`
	Depth       int            `json:"depth"`
	Status      RunStatus      `json:"status"`
	Input       string         `json:"input,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RouteBinding is a configured rule mapping request attributes to a
// specific agent, with a priority (§3 "Route Binding").
type RouteBinding struct {
	BindingID    string         `json:"bindingId"`
	AgentID      string         `json:"agentId"`
	Priority     int            `json:"priority"`
	Enabled      bool           `json:"enabled"`
	Channel      string         `json:"channel,omitempty"`
	Account      string         `json:"account,omitempty"`
	ThreadPrefix string         `json:"threadPrefix,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// MessageStatus is one state in the mailbox message state machine
// (§4.F "state machine for messages").
type MessageStatus string

const (
	MessageQueued     MessageStatus = "queued"
	MessageInFlight   MessageStatus = "in_flight"
	MessageAcked      MessageStatus = "acked"
	MessageDeadLetter MessageStatus = "dead_letter"
)

// Message is one inter-agent message moving through a recipient's
// mailbox (§3 "Inter-Agent Message").
type Message struct {
	MessageID      string         `json:"messageId"`
	Timestamp      time.Time      `json:"timestamp"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Payload        map[string]any `json:"payload,omitempty"`
	Topic          string         `json:"topic,omitempty"`
	PartitionKey   string         `json:"partitionKey,omitempty"`
	PartitionSeq   int64          `json:"partitionSeq"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Attempt        int            `json:"attempt"`
	MaxAttempts    int            `json:"maxAttempts"`
	VisibleAt      time.Time      `json:"visibleAt"`
	LeaseUntil     *time.Time     `json:"leaseUntil,omitempty"`
	Status         MessageStatus  `json:"status"`
	LastError      string         `json:"lastError,omitempty"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	RunID          string         `json:"runId,omitempty"`
}

// Clone returns a deep-enough copy so a State Store caller cannot
// mutate internal state through the returned value (§5 "copy-out
// discipline").
func (m Message) Clone() Message {
	clone := m
	if m.Payload != nil {
		clone.Payload = make(map[string]any, len(m.Payload))
		for k, v := range m.Payload {
			clone.Payload[k] = v
		}
	}
	if m.LeaseUntil != nil {
		lu := *m.LeaseUntil
		clone.LeaseUntil = &lu
	}
	return clone
}

// IdempotencyEntry maps a (agentId, key) pair to the messageId it
// produced, until ExpiresAt (§3 "Idempotency Entry").
type IdempotencyEntry struct {
	MessageID string
	ExpiresAt time.Time
}

// DefaultPartitionKey is used when a message has neither an explicit
// partition key nor a topic.
const DefaultPartitionKey = "__default__"
