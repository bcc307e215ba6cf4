// Package orchestrator implements the Orchestration Kernel façade
// (§4.F): it composes the Event Bus, State Store, Policy Engine,
// Router and Agent Runtime behind one API, owns child-profile
// derivation for spawn, and runs the optional auto-dispatch loop
// (see autodispatch.go).
package orchestrator

import (
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/orchestrik/kernel/internal/bus"
	"github.com/orchestrik/kernel/internal/config"
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/policy"
	"github.com/orchestrik/kernel/internal/router"
	"github.com/orchestrik/kernel/internal/runtime"
	"github.com/orchestrik/kernel/internal/store"
	"github.com/orchestrik/kernel/internal/tools"
	"github.com/orchestrik/kernel/pkg/errors"
	"github.com/orchestrik/kernel/pkg/util"
)

// Re-exported so callers only need to import this package for the
// façade's public vocabulary.
type (
	RouteRequest  = router.Request
	RouteDecision = router.Decision
	RunHandle     = runtime.RunHandle
	RunGraph      = store.RunGraph
)

// ExecuteCommand is the input to Execute.
type ExecuteCommand struct {
	RunID       string
	AgentID     string
	ParentRunID string
	Model       string
	Input       string
	Metadata    map[string]any
}

// SpawnCommand is the input to Spawn.
type SpawnCommand struct {
	ControllerAgentID string
	ParentRunID       string
	AgentID           string // optional; generated if empty
	Overrides         contracts.AgentProfile
}

// Kernel is the Orchestration Kernel façade. Zero value is not usable;
// use NewKernel.
type Kernel struct {
	cfg     *config.Config
	bus     *bus.Bus
	store   *store.Store
	policy  *policy.Engine
	router  *router.Router
	runtime *runtime.Runtime

	autoDispatch *autoDispatcher // nil when disabled
}

// NewKernel wires the components together. Auto-dispatch starts
// immediately if cfg.AutoDispatch.Enabled.
func NewKernel(cfg *config.Config, b *bus.Bus, st *store.Store, pol *policy.Engine, rtr *router.Router, rt *runtime.Runtime) *Kernel {
	k := &Kernel{cfg: cfg, bus: b, store: st, policy: pol, router: rtr, runtime: rt}
	if cfg.AutoDispatch.Enabled {
		k.autoDispatch = newAutoDispatcher(cfg.AutoDispatch, k)
		k.autoDispatch.start()
	}
	return k
}

// Close stops the auto-dispatch loop, if running.
func (k *Kernel) Close() {
	if k.autoDispatch != nil {
		k.autoDispatch.stop()
	}
}

// RegisterAgent persists profile and attaches the messaging tool set
// (§4.G) to its tool registry, for any of the six tools not already
// present (§4.F "registerAgent").
func (k *Kernel) RegisterAgent(profile contracts.AgentProfile) (contracts.AgentProfile, error) {
	if profile.AgentID == "" {
		return contracts.AgentProfile{}, errors.New("Kernel.RegisterAgent", "agentId is required")
	}
	if profile.Tools != nil {
		defaults := tools.ToolDefaults{
			ReceiveLimit:       k.cfg.InLoopMessageInjection.ReceiveLimit,
			ReceiveLeaseMs:     k.cfg.MessageRuntime.ReceiveLeaseMs,
			NackRequeueDelayMs: k.cfg.MessageRuntime.NackRequeueDelayMs,
			DeadLetterLimit:    50,
		}
		var missing []contracts.Tool
		for _, t := range tools.BuildToolSet(k, defaults) {
			if !profile.Tools.HasTool(t.Name) {
				missing = append(missing, t)
			}
		}
		if len(missing) > 0 {
			if err := profile.Tools.Register(missing); err != nil {
				return contracts.AgentProfile{}, errors.Wrap(err, "Kernel.RegisterAgent", "failed to register messaging tools")
			}
		}
	}
	k.store.RegisterProfile(profile)
	return profile, nil
}

// Route implements §4.F "route": a pass-through to the Router.
func (k *Kernel) Route(req RouteRequest) (RouteDecision, error) {
	return k.router.Route(req)
}

// RouteAndExecute implements §4.F "routeAndExecute": route, then
// execute against the chosen agent.
func (k *Kernel) RouteAndExecute(req RouteRequest, input string) (RunHandle, error) {
	decision, err := k.router.Route(req)
	if err != nil {
		return RunHandle{}, err
	}
	return k.Execute(ExecuteCommand{
		AgentID: decision.AgentID,
		Input:   input,
		Metadata: map[string]any{
			"routeReason":    decision.Reason,
			"routeStickyKey": decision.StickyKey,
		},
	})
}

// Execute implements §4.F "execute": resolve depth from the parent run
// (if any), consult canExecute, resolve the effective model, then hand
// off to the Agent Runtime.
func (k *Kernel) Execute(cmd ExecuteCommand) (RunHandle, error) {
	if _, err := k.store.GetProfile(cmd.AgentID); err != nil {
		return RunHandle{}, err
	}

	depth := 0
	if cmd.ParentRunID != "" {
		if parent, err := k.store.GetRun(cmd.ParentRunID); err == nil {
			depth = parent.Depth + 1
		} else {
			depth = 1
		}
	}

	decision := k.policy.CanExecute(policy.ExecuteRequest{AgentID: cmd.AgentID, ParentRunID: cmd.ParentRunID, Depth: depth})
	if !decision.Allowed {
		return RunHandle{}, errors.Wrapf(errors.ErrPolicyDenied, "Kernel.Execute", "%s", decision.Reason)
	}

	model := k.policy.ResolveModel(cmd.AgentID, cmd.Model)

	return k.runtime.Execute(runtime.Command{
		RunID:       cmd.RunID,
		AgentID:     cmd.AgentID,
		ParentRunID: cmd.ParentRunID,
		Depth:       depth,
		Input:       cmd.Input,
		Model:       model,
		Metadata:    cmd.Metadata,
	})
}

// Spawn implements §4.F "spawn": derive a child profile from the
// controller's, overriding the fields cmd.Overrides sets, then register
// it. Uses dario.cat/mergo so overrides win over inherited defaults.
func (k *Kernel) Spawn(cmd SpawnCommand) (contracts.AgentProfile, error) {
	controller, err := k.store.GetProfile(cmd.ControllerAgentID)
	if err != nil {
		return contracts.AgentProfile{}, err
	}

	decision := k.policy.CanSpawn(policy.SpawnRequest{ControllerAgentID: cmd.ControllerAgentID, ParentRunID: cmd.ParentRunID})
	if !decision.Allowed {
		return contracts.AgentProfile{}, errors.Wrapf(errors.ErrPolicyDenied, "Kernel.Spawn", "%s", decision.Reason)
	}

	childID := cmd.AgentID
	if childID == "" {
		childID = uuid.NewString()
	}

	// Seed the child from the controller's inheritable fields; Provider,
	// Tools and Memory carry over by reference unless overridden below.
	child := contracts.AgentProfile{
		AgentID:      childID,
		Role:         controller.Role,
		SystemPrompt: controller.SystemPrompt,
		Provider:     controller.Provider,
		Tools:        controller.Tools,
		Memory:       controller.Memory,
		Limits:       controller.Limits,
		Flags:        controller.Flags,
		Capabilities: controller.Capabilities,
	}
	if controller.Metadata != nil {
		child.Metadata = make(map[string]any, len(controller.Metadata))
		for key, value := range controller.Metadata {
			child.Metadata[key] = value
		}
	}

	// overrides wins over inherited fields for anything it sets; AgentID
	// is excluded since childID is already resolved above.
	overrides := cmd.Overrides
	overrides.AgentID = ""
	if err := mergo.Merge(&child, overrides, mergo.WithOverride); err != nil {
		return contracts.AgentProfile{}, errors.Wrap(err, "Kernel.Spawn", "child profile derivation failed")
	}

	registered, err := k.RegisterAgent(child)
	if err != nil {
		return contracts.AgentProfile{}, err
	}

	k.bus.Publish(bus.Event{
		Type:    bus.EventAgentSpawned,
		AgentID: registered.AgentID,
		Payload: map[string]any{"controllerAgentId": cmd.ControllerAgentID, "parentRunId": cmd.ParentRunID},
	})
	return registered, nil
}

// SendMessage implements §4.F "sendMessage": idempotency dedup, the
// canMessage policy check, partition key selection, enqueue, and the
// resulting event publish.
func (k *Kernel) SendMessage(msg contracts.Message) (contracts.Message, error) {
	// §4.F "infer topic and idempotencyKey from either the explicit
	// fields or the payload": explicit fields win, payload is the
	// fallback.
	if msg.Topic == "" {
		msg.Topic = stringFromPayload(msg.Payload, "topic")
	}
	if msg.IdempotencyKey == "" {
		msg.IdempotencyKey = stringFromPayload(msg.Payload, "idempotencyKey")
	}
	topic := msg.Topic
	now := time.Now()

	if msg.IdempotencyKey != "" {
		if existingID, ok := k.store.FindMessageByIdempotency(msg.To, msg.IdempotencyKey, now); ok {
			if existing, ok := k.store.FindMessage(msg.To, existingID); ok {
				k.bus.Publish(bus.Event{Type: bus.EventMessageDeduplicated, AgentID: msg.To, RunID: msg.RunID, Payload: existing})
				return existing, nil
			}
		}
	}

	decision := k.policy.CanMessage(policy.MessageRequest{From: msg.From, To: msg.To, Topic: topic, RunID: msg.RunID})
	if !decision.Allowed {
		return contracts.Message{}, errors.Wrapf(errors.ErrPolicyDenied, "Kernel.SendMessage", "%s", decision.Reason)
	}

	msg.PartitionKey = k.choosePartitionKey(topic)
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = k.cfg.MessageRuntime.MaxAttempts
	}

	enqueued := k.store.Enqueue(msg, now)

	if msg.IdempotencyKey != "" {
		expiresAt := now.Add(time.Duration(k.cfg.MessageRuntime.DedupWindowMs) * time.Millisecond)
		k.store.SaveIdempotency(msg.To, msg.IdempotencyKey, enqueued.MessageID, expiresAt, now)
	}

	k.bus.Publish(bus.Event{Type: bus.EventMessage, AgentID: msg.To, RunID: msg.RunID, Payload: enqueued})
	return enqueued, nil
}

// stringFromPayload reads a string-valued key out of a message payload
// map, returning "" if the key is absent, the payload is nil, or the
// value isn't a string.
func stringFromPayload(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

// choosePartitionKey implements §4.F's ordering/concurrency trade-off:
// enforced order shares one partition per topic; otherwise each send
// gets its own partition so same-topic sends never block each other.
func (k *Kernel) choosePartitionKey(topic string) string {
	base := topic
	if base == "" {
		base = contracts.DefaultPartitionKey
	}
	if k.cfg.MessageRuntime.EnforceTopicPartitionOrder {
		return base
	}
	return fmt.Sprintf("%s:%s", base, uuid.NewString()[:8])
}

// maxReceiveMailboxLimit bounds a caller-supplied receive limit so one
// greedy receive call can't starve every other partition's delivery
// slot for the rest of this pass.
const maxReceiveMailboxLimit = 100

// ReceiveMailbox implements §4.F "receiveMailbox".
func (k *Kernel) ReceiveMailbox(agentID string, limit, leaseMs int) []contracts.Message {
	if limit <= 0 {
		limit = k.cfg.InLoopMessageInjection.ReceiveLimit
	}
	limit = util.ClampInt(limit, 1, maxReceiveMailboxLimit)
	if leaseMs <= 0 {
		leaseMs = k.cfg.MessageRuntime.ReceiveLeaseMs
	}
	return k.store.Receive(agentID, time.Now(), limit, leaseMs)
}

// AckMailboxMessage implements §4.F "ack".
func (k *Kernel) AckMailboxMessage(agentID, messageID string) bool {
	ok := k.store.Ack(agentID, messageID)
	if ok {
		k.bus.Publish(bus.Event{Type: bus.EventMessageAcked, AgentID: agentID, Payload: map[string]any{"messageId": messageID}})
	}
	return ok
}

// NackMailboxMessage implements §4.F "nack". requeueDelayMs < 0 means
// "use the configured default".
func (k *Kernel) NackMailboxMessage(agentID, messageID, errMsg string, requeueDelayMs int) store.NackResult {
	if requeueDelayMs < 0 {
		requeueDelayMs = k.cfg.MessageRuntime.NackRequeueDelayMs
	}
	res := k.store.Nack(agentID, messageID, errMsg, requeueDelayMs, time.Now())
	switch {
	case res.DeadLettered:
		k.bus.Publish(bus.Event{Type: bus.EventMessageDeadLetter, AgentID: agentID, Payload: res.Message})
	case res.Requeued:
		k.bus.Publish(bus.Event{Type: bus.EventMessageNacked, AgentID: agentID, Payload: res.Message})
	}
	return res
}

// ListDeadLetters implements §4.F "listDeadLetters".
func (k *Kernel) ListDeadLetters(agentID string, limit int) []contracts.Message {
	return k.store.ListDeadLetters(agentID, limit)
}

// RequeueDeadLetter implements §4.F "requeueDeadLetter".
func (k *Kernel) RequeueDeadLetter(agentID, messageID string, delayMs int, resetAttempts bool) (contracts.Message, bool) {
	if delayMs < 0 {
		delayMs = 0
	}
	return k.store.RequeueDeadLetter(agentID, messageID, delayMs, resetAttempts, time.Now())
}

// DrainMailbox implements §4.F "drainMailbox".
func (k *Kernel) DrainMailbox(agentID string) []contracts.Message {
	return k.store.DrainMailbox(agentID)
}

// AgentForSession resolves a sessionId to its owning agentId, used by
// the messaging tools to authenticate their caller.
func (k *Kernel) AgentForSession(sessionID string) (string, bool) {
	return k.store.AgentForSession(sessionID)
}

// BuildRunGraph implements §4.F "buildRunGraph".
func (k *Kernel) BuildRunGraph(rootRunID string) (RunGraph, error) {
	return k.store.BuildRunGraph(rootRunID)
}

// RegisterBinding implements §4.F's binding-management surface backing
// §4.D's router.
func (k *Kernel) RegisterBinding(b contracts.RouteBinding) {
	k.store.UpsertBinding(b)
}

// ListBindings returns every configured route binding.
func (k *Kernel) ListBindings() []contracts.RouteBinding {
	return k.store.ListBindings()
}

// Status returns the current RunRecord for runID.
func (k *Kernel) Status(runID string) (contracts.RunRecord, error) {
	return k.runtime.Status(runID)
}

// Abort requests cancellation of an active run (best-effort).
func (k *Kernel) Abort(runID string) {
	k.runtime.Abort(runID)
}

// Stream relays every event for runID to listener until unsubscribe is
// called.
func (k *Kernel) Stream(runID string, listener bus.Listener) (unsubscribe func()) {
	return k.runtime.Stream(runID, listener)
}

func (k *Kernel) agentHasActiveRun(agentID string) bool {
	return k.store.ActiveRunCount(agentID) > 0
}
