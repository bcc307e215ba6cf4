// Package config holds the kernel's tunables (§6 of the design). Scalar
// leaves use the teacher's env/default/min struct-tag convention
// (github.com/orchestrik/kernel/pkg/util.LoadFromEnv); nested structs are
// populated field-by-field since LoadFromEnv only walks one struct level.
package config

import (
	"time"

	"github.com/orchestrik/kernel/pkg/util"
)

// Budget bounds concurrency and recursion for runs.
type Budget struct {
	MaxConcurrentRuns int `env:"KERNEL_MAX_CONCURRENT_RUNS" default:"8" min:"1"`
	MaxDepth          int `env:"KERNEL_MAX_DEPTH" default:"4" min:"0"`
	MaxChildrenPerRun int `env:"KERNEL_MAX_CHILDREN_PER_RUN" default:"16" min:"0"`
}

// MessageRuntime governs mailbox delivery semantics.
type MessageRuntime struct {
	MaxAttempts                int  `env:"KERNEL_MSG_MAX_ATTEMPTS" default:"3" min:"1"`
	ReceiveLeaseMs             int  `env:"KERNEL_MSG_RECEIVE_LEASE_MS" default:"60000" min:"1"`
	NackRequeueDelayMs         int  `env:"KERNEL_MSG_NACK_REQUEUE_DELAY_MS" default:"5000" min:"0"`
	DedupWindowMs              int  `env:"KERNEL_MSG_DEDUP_WINDOW_MS" default:"60000" min:"0"`
	EnforceTopicPartitionOrder bool `env:"KERNEL_MSG_ENFORCE_TOPIC_PARTITION_ORDER" default:"true"`
}

// InLoopMessageInjection governs the loop-boundary injection hook
// (§4.E.2).
type InLoopMessageInjection struct {
	Enabled      bool `env:"KERNEL_INJECT_ENABLED" default:"true"`
	ReceiveLimit int  `env:"KERNEL_INJECT_RECEIVE_LIMIT" default:"10" min:"1"`
	LeaseMs      int  `env:"KERNEL_INJECT_LEASE_MS" default:"15000" min:"1"`
}

// DispatchTrigger is the coalesced wakeup record for one recipient: the
// latest agent.message event that triggered it, plus the receive
// parameters the default instructional message (and any custom
// InputBuilder) should tell the agent to use when it drains its
// mailbox (§4.F "build the input (inputBuilder(trigger) ...)").
type DispatchTrigger struct {
	AgentID       string
	LastMessageAt time.Time
	ReceiveLimit  int
	LeaseMs       int
}

// InputBuilder builds the synthetic execute input for an auto-dispatch
// wakeup, given the coalesced trigger record. Optional; nil means "use
// the default instructional message".
type InputBuilder func(trigger DispatchTrigger) string

// AutoDispatch governs the idle-recipient wakeup loop (§4.F).
type AutoDispatch struct {
	Enabled            bool `env:"KERNEL_AUTODISPATCH_ENABLED" default:"false"`
	DebounceMs         int  `env:"KERNEL_AUTODISPATCH_DEBOUNCE_MS" default:"250" min:"0"`
	ReceiveLimit       int  `env:"KERNEL_AUTODISPATCH_RECEIVE_LIMIT" default:"10" min:"1"`
	LeaseMs            int  `env:"KERNEL_AUTODISPATCH_LEASE_MS" default:"0" min:"0"` // 0 means "= MessageRuntime.ReceiveLeaseMs"
	SkipIfAgentRunning bool `env:"KERNEL_AUTODISPATCH_SKIP_IF_RUNNING" default:"true"`
	InputBuilder       InputBuilder
}

// SemanticRouting governs the optional semantic-scoring routing path
// (§4.D). The weights are prescribed by spec §9 as an open question
// flagged for future configurability; MinScore is the one tunable
// actually exposed today.
type SemanticRouting struct {
	Enabled       bool    `env:"KERNEL_SEMANTIC_ENABLED" default:"false"`
	MinScore      float64 `env:"KERNEL_SEMANTIC_MIN_SCORE" default:"0.2" min:"0"`
	PreferBindings bool   `env:"KERNEL_SEMANTIC_PREFER_BINDINGS" default:"true"`
}

// MessagingPolicy configures the messaging allow/deny rules consulted
// by canMessage (§4.C). A rule's From/To accepts "*" as a wildcard
// matching any agent id; AllowedTopics entries match exactly.
type MessagingPolicy struct {
	AllowedTopics []string
	AllowedRules  []MessagingRule
	BlockedRules  []MessagingRule
}

// MessagingRule is one from/to pair in a MessagingPolicy rule set.
type MessagingRule struct {
	From string
	To   string
}

// Config is the single source of every kernel tunable.
type Config struct {
	Budget                 Budget
	MessageRuntime         MessageRuntime
	InLoopMessageInjection InLoopMessageInjection
	AutoDispatch           AutoDispatch
	SemanticRouting        SemanticRouting
	MessagingPolicy        MessagingPolicy
}

// Default returns the configuration with every default from §6 applied,
// except where a field's KERNEL_* environment variable is set: that
// value (clamped to the field's min) replaces the default.
// MessagingPolicy has no env vars and starts empty.
func Default() *Config {
	cfg := &Config{}
	util.LoadFromEnv(&cfg.Budget)
	util.LoadFromEnv(&cfg.MessageRuntime)
	util.LoadFromEnv(&cfg.InLoopMessageInjection)
	util.LoadFromEnv(&cfg.AutoDispatch)
	util.LoadFromEnv(&cfg.SemanticRouting)
	if cfg.AutoDispatch.LeaseMs == 0 {
		cfg.AutoDispatch.LeaseMs = cfg.MessageRuntime.ReceiveLeaseMs
	}
	return cfg
}
