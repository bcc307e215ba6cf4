// Package runtime implements the Orchestration Kernel's Agent Runtime
// (§4.E): it drives one run of an external Agent, publishes lifecycle
// events on the bus, and performs loop-boundary message injection
// (§4.E.2, see injection.go).
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrik/kernel/internal/bus"
	"github.com/orchestrik/kernel/internal/config"
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/store"
	"github.com/orchestrik/kernel/pkg/errors"
	"github.com/orchestrik/kernel/pkg/logger"
	"github.com/orchestrik/kernel/pkg/util"
)

// Store is the subset of the State Store the Agent Runtime consults.
type Store interface {
	GetProfile(agentID string) (contracts.AgentProfile, error)
	CreateRun(run contracts.RunRecord)
	GetRun(runID string) (contracts.RunRecord, error)
	UpdateRun(runID string, mutate func(*contracts.RunRecord)) error
	BindSession(sessionID, agentID string)
	LastSessionForAgent(agentID string) (string, bool)
	Receive(agentID string, now time.Time, limit, leaseMs int) []contracts.Message
	Ack(agentID, messageID string) bool
	Nack(agentID, messageID, lastError string, requeueDelayMs int, now time.Time) store.NackResult
}

// Command is the input to Execute.
type Command struct {
	RunID       string // optional; generated if empty
	AgentID     string
	ParentRunID string
	Depth       int
	Input       string
	Model       string
	Metadata    map[string]any
}

// RunHandle is returned immediately by Execute, before the run has
// started (§4.E "non-blocking: schedules the run and returns
// immediately in queued state").
type RunHandle struct {
	RunID  string
	Status contracts.RunStatus
}

// Runtime is the Orchestration Kernel's Agent Runtime. Zero value is
// not usable; use New.
type Runtime struct {
	cfg     *config.Config
	bus     *bus.Bus
	store   Store
	factory contracts.AgentFactory

	mu     sync.Mutex
	active map[string]contracts.Agent // runId -> agent, for Abort
}

// New creates an Agent Runtime that schedules runs via factory,
// persists/reads run state through store, and publishes lifecycle
// events on b.
func New(cfg *config.Config, b *bus.Bus, st Store, factory contracts.AgentFactory) *Runtime {
	return &Runtime{
		cfg:     cfg,
		bus:     b,
		store:   st,
		factory: factory,
		active:  map[string]contracts.Agent{},
	}
}

func (rt *Runtime) publish(e bus.Event) {
	rt.bus.Publish(e)
}

// Execute implements §4.E's run procedure steps 1-2: persist a queued
// RunRecord, publish run.queued, and schedule the actual execution
// asynchronously so the caller never blocks on agent work.
func (rt *Runtime) Execute(cmd Command) (RunHandle, error) {
	if _, err := rt.store.GetProfile(cmd.AgentID); err != nil {
		return RunHandle{}, errors.Wrapf(errors.ErrAgentNotFound, "Runtime.Execute", "agent %q not registered", cmd.AgentID)
	}

	runID := cmd.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	run := contracts.RunRecord{
		RunID:       runID,
		AgentID:     cmd.AgentID,
		ParentRunID: cmd.ParentRunID,
		Depth:       cmd.Depth,
		Status:      contracts.RunQueued,
		Input:       cmd.Input,
		CreatedAt:   time.Now(),
		Metadata:    cmd.Metadata,
	}
	rt.store.CreateRun(run)
	rt.publish(bus.Event{Type: bus.EventRunQueued, RunID: runID, AgentID: cmd.AgentID, Payload: run})

	util.SafeGo(func() { rt.runAgent(runID, cmd) })

	return RunHandle{RunID: runID, Status: contracts.RunQueued}, nil
}

// runAgent implements §4.E's run procedure steps 3-8. It always runs in
// its own goroutine (via util.SafeGo from Execute).
func (rt *Runtime) runAgent(runID string, cmd Command) {
	profile, err := rt.store.GetProfile(cmd.AgentID)
	if err != nil {
		rt.failQueued(runID, cmd.AgentID, "agent profile no longer exists: "+err.Error())
		return
	}

	lastSession, _ := rt.store.LastSessionForAgent(cmd.AgentID)
	sessionID := util.FirstNonEmpty(lastSession, profile.SessionID)

	streamCb := func(msg contracts.AgentMessage) {
		rt.publish(bus.Event{Type: bus.EventRunStream, RunID: runID, AgentID: cmd.AgentID, Payload: msg})
	}
	hook := rt.loopBoundaryHook(cmd.AgentID)

	agent, err := rt.factory.NewAgent(profile, sessionID, streamCb, hook)
	if err != nil {
		rt.failQueued(runID, cmd.AgentID, "agent construction failed: "+err.Error())
		return
	}

	rt.mu.Lock()
	rt.active[runID] = agent
	rt.mu.Unlock()
	defer func() {
		rt.mu.Lock()
		delete(rt.active, runID)
		rt.mu.Unlock()
		if cerr := agent.Close(); cerr != nil {
			logger.Warn("runtime: agent close failed", logger.FieldRunID, runID, logger.FieldError, cerr)
		}
	}()

	startedAt := time.Now()
	chosenSession := agent.GetSessionID()
	if err := rt.store.UpdateRun(runID, func(r *contracts.RunRecord) {
		r.Status = contracts.RunRunning
		r.StartedAt = &startedAt
		r.SessionID = chosenSession
	}); err != nil {
		logger.Warn("runtime: update run to running failed", logger.FieldRunID, runID, logger.FieldError, err)
	}
	rt.store.BindSession(chosenSession, cmd.AgentID)
	rt.publish(bus.Event{Type: bus.EventRunStarted, RunID: runID, AgentID: cmd.AgentID, Payload: map[string]any{"sessionId": chosenSession}})

	result, execErr := rt.safeExecute(context.Background(), agent, cmd)
	finishedAt := time.Now()

	if execErr != nil {
		rt.finish(runID, contracts.RunFailed, "", execErr.Error(), finishedAt)
		rt.publish(bus.Event{Type: bus.EventRunFailed, RunID: runID, AgentID: cmd.AgentID, Payload: execErr.Error()})
		return
	}

	switch result.Status {
	case contracts.ExecuteCompleted:
		output := serializeFinalMessage(result.FinalMessage)
		rt.finish(runID, contracts.RunCompleted, output, "", finishedAt)
		rt.publish(bus.Event{Type: bus.EventRunCompleted, RunID: runID, AgentID: cmd.AgentID, Payload: output})
	case contracts.ExecuteAborted:
		rt.finish(runID, contracts.RunAborted, "", "", finishedAt)
		rt.publish(bus.Event{Type: bus.EventRunAborted, RunID: runID, AgentID: cmd.AgentID})
	default:
		rt.finish(runID, contracts.RunFailed, "", result.Failure, finishedAt)
		rt.publish(bus.Event{Type: bus.EventRunFailed, RunID: runID, AgentID: cmd.AgentID, Payload: result.Failure})
	}
}

// safeExecute guards against an agent implementation panicking instead
// of returning an error (§4.E step 7 "On any thrown exception").
func (rt *Runtime) safeExecute(ctx context.Context, agent contracts.Agent, cmd Command) (result contracts.ExecuteResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("Runtime.runAgent", "agent execution panicked: %v", r)
		}
	}()
	options := map[string]any{}
	if cmd.Model != "" {
		options["model"] = cmd.Model
	}
	return agent.ExecuteWithResult(ctx, cmd.Input, options)
}

func (rt *Runtime) finish(runID string, status contracts.RunStatus, output, errMsg string, finishedAt time.Time) {
	if err := rt.store.UpdateRun(runID, func(r *contracts.RunRecord) {
		r.Status = status
		r.Output = output
		r.Error = errMsg
		r.FinishedAt = &finishedAt
	}); err != nil {
		logger.Warn("runtime: finish update failed", logger.FieldRunID, runID, logger.FieldError, err)
	}
}

// failQueued transitions a still-queued run straight to failed (§4.E
// step 3 "if missing -> transition to failed").
func (rt *Runtime) failQueued(runID, agentID, reason string) {
	rt.finish(runID, contracts.RunFailed, "", reason, time.Now())
	rt.publish(bus.Event{Type: bus.EventRunFailed, RunID: runID, AgentID: agentID, Payload: reason})
}

// Abort implements §4.E/§5 "abort is best-effort": if the run is no
// longer active, this is a no-op.
func (rt *Runtime) Abort(runID string) {
	rt.mu.Lock()
	agent, ok := rt.active[runID]
	rt.mu.Unlock()
	if !ok {
		return
	}
	agent.Abort()
}

// Status returns the current RunRecord for runID.
func (rt *Runtime) Status(runID string) (contracts.RunRecord, error) {
	return rt.store.GetRun(runID)
}

// Stream relays every event for runID, in publish order, to listener
// until unsubscribe is called (§4.E "stream(runId, listener)"). Events
// published before the call are replayed first, so a caller that
// subscribes after Execute still sees the run's full lifecycle.
func (rt *Runtime) Stream(runID string, listener bus.Listener) (unsubscribe func()) {
	filter := bus.Filter{RunID: runID}
	var mu sync.Mutex
	seen := map[string]bool{}
	relay := func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		if !seen[e.EventID] {
			seen[e.EventID] = true
			listener(e)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	unsubscribe = rt.bus.Subscribe(filter, relay)
	for _, e := range rt.bus.Replay(filter) {
		seen[e.EventID] = true
		listener(e)
	}
	return unsubscribe
}

// serializeFinalMessage concatenates multimodal text parts or returns
// the plain string content as-is (§4.E step 6).
func serializeFinalMessage(msg *contracts.AgentMessage) string {
	if msg == nil {
		return ""
	}
	switch content := msg.Content.(type) {
	case string:
		return content
	case []contracts.ContentPart:
		var sb strings.Builder
		for _, part := range content {
			sb.WriteString(part.Text)
		}
		return sb.String()
	case []any:
		var sb strings.Builder
		for _, raw := range content {
			switch v := raw.(type) {
			case contracts.ContentPart:
				sb.WriteString(v.Text)
			case map[string]any:
				if t, _ := v["text"].(string); t != "" {
					sb.WriteString(t)
				}
			}
		}
		return sb.String()
	default:
		return fmt.Sprintf("%v", content)
	}
}
