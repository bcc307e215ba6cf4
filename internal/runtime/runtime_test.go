package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orchestrik/kernel/internal/bus"
	"github.com/orchestrik/kernel/internal/config"
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/store"
)

// fakeAgent is a hand-written contracts.Agent fake (the teacher's own
// tests never use a generated mock either).
type fakeAgent struct {
	mu        sync.Mutex
	sessionID string
	result    contracts.ExecuteResult
	err       error
	aborted   bool
	hook      contracts.LoopBoundaryHook
	closed    bool
}

func (a *fakeAgent) ExecuteWithResult(ctx context.Context, input string, options map[string]any) (contracts.ExecuteResult, error) {
	if a.hook != nil {
		_ = a.hook(ctx, func(string) {})
	}
	return a.result, a.err
}
func (a *fakeAgent) Abort() {
	a.mu.Lock()
	a.aborted = true
	a.mu.Unlock()
}
func (a *fakeAgent) Close() error           { a.closed = true; return nil }
func (a *fakeAgent) GetSessionID() string   { return a.sessionID }
func (a *fakeAgent) wasAborted() bool       { a.mu.Lock(); defer a.mu.Unlock(); return a.aborted }

// hookSetter lets the factory wire the runtime-provided loop-boundary
// hook into whichever fake agent it constructs.
type hookSetter interface {
	setHook(contracts.LoopBoundaryHook)
}

func (a *fakeAgent) setHook(h contracts.LoopBoundaryHook) { a.hook = h }

type fakeFactory struct {
	agent contracts.Agent
	err   error
}

func (f *fakeFactory) NewAgent(profile contracts.AgentProfile, sessionID string, stream contracts.StreamCallback, hook contracts.LoopBoundaryHook) (contracts.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if hs, ok := f.agent.(hookSetter); ok {
		hs.setHook(hook)
	}
	return f.agent, nil
}

func newTestRuntime(t *testing.T, agent contracts.Agent) (*Runtime, *store.Store, *bus.Bus) {
	t.Helper()
	st := store.New()
	st.RegisterProfile(contracts.AgentProfile{AgentID: "coder"})
	b := bus.New()
	cfg := config.Default()
	rt := New(cfg, b, st, &fakeFactory{agent: agent})
	return rt, st, b
}

func waitForTerminal(t *testing.T, rt *Runtime, runID string) contracts.RunRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := rt.Status(runID)
		if err == nil && run.Status.Terminal() {
			return run
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal state in time", runID)
	return contracts.RunRecord{}
}

func TestExecuteCompletesRun(t *testing.T) {
	agent := &fakeAgent{
		sessionID: "sess-1",
		result:    contracts.ExecuteResult{Status: contracts.ExecuteCompleted, FinalMessage: &contracts.AgentMessage{Role: "assistant", Content: "done"}},
	}
	rt, st, _ := newTestRuntime(t, agent)

	handle, err := rt.Execute(Command{AgentID: "coder", Input: "hi"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if handle.Status != contracts.RunQueued {
		t.Fatalf("initial status = %s, want queued", handle.Status)
	}

	run := waitForTerminal(t, rt, handle.RunID)
	if run.Status != contracts.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.Output != "done" {
		t.Errorf("output = %q, want done", run.Output)
	}
	if sess, ok := st.LastSessionForAgent("coder"); !ok || sess != "sess-1" {
		t.Errorf("LastSessionForAgent = (%q, %v), want (sess-1, true)", sess, ok)
	}
}

func TestExecuteUnknownAgentErrors(t *testing.T) {
	rt, _, _ := newTestRuntime(t, &fakeAgent{})
	if _, err := rt.Execute(Command{AgentID: "missing"}); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
}

func TestExecuteFailedResult(t *testing.T) {
	agent := &fakeAgent{result: contracts.ExecuteResult{Status: contracts.ExecuteFailed, Failure: "boom"}}
	rt, _, _ := newTestRuntime(t, agent)

	handle, _ := rt.Execute(Command{AgentID: "coder"})
	run := waitForTerminal(t, rt, handle.RunID)
	if run.Status != contracts.RunFailed || run.Error != "boom" {
		t.Fatalf("run = %+v, want failed/boom", run)
	}
}

func TestExecuteAgentPanicIsFailure(t *testing.T) {
	rt, _, _ := newTestRuntime(t, &panicAgent{})
	handle, _ := rt.Execute(Command{AgentID: "coder"})
	run := waitForTerminal(t, rt, handle.RunID)
	if run.Status != contracts.RunFailed {
		t.Fatalf("status = %s, want failed after panic", run.Status)
	}
}

type panicAgent struct{ fakeAgent }

func (a *panicAgent) ExecuteWithResult(ctx context.Context, input string, options map[string]any) (contracts.ExecuteResult, error) {
	panic("kaboom")
}

func TestStreamRelaysRunEvents(t *testing.T) {
	agent := &fakeAgent{result: contracts.ExecuteResult{Status: contracts.ExecuteCompleted, FinalMessage: &contracts.AgentMessage{Content: "ok"}}}
	rt, _, _ := newTestRuntime(t, agent)

	var mu sync.Mutex
	var types []string
	handle, _ := rt.Execute(Command{AgentID: "coder"})
	unsub := rt.Stream(handle.RunID, func(e bus.Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})
	defer unsub()

	waitForTerminal(t, rt, handle.RunID)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(types) == 0 {
		t.Fatal("expected at least one relayed event")
	}
	if types[len(types)-1] != bus.EventRunCompleted {
		t.Errorf("last event = %s, want run.completed", types[len(types)-1])
	}
}

func TestAbortIsNoOpForFinishedRun(t *testing.T) {
	agent := &fakeAgent{result: contracts.ExecuteResult{Status: contracts.ExecuteCompleted, FinalMessage: &contracts.AgentMessage{Content: "ok"}}}
	rt, _, _ := newTestRuntime(t, agent)
	handle, _ := rt.Execute(Command{AgentID: "coder"})
	waitForTerminal(t, rt, handle.RunID)

	rt.Abort(handle.RunID) // must not panic
	if agent.wasAborted() {
		t.Error("abort should be a no-op once the run is no longer active")
	}
}

func TestLoopBoundaryInjectionAcksOnSuccess(t *testing.T) {
	st := store.New()
	st.RegisterProfile(contracts.AgentProfile{AgentID: "coder"})
	st.Enqueue(contracts.Message{To: "coder", From: "planner", Payload: map[string]any{"n": 1}}, time.Now())

	b := bus.New()
	var acked []bus.Event
	b.Subscribe(bus.NewTypeFilter(bus.EventMessageAcked), func(e bus.Event) { acked = append(acked, e) })

	agent := &fakeAgent{result: contracts.ExecuteResult{Status: contracts.ExecuteCompleted, FinalMessage: &contracts.AgentMessage{Content: "ok"}}}
	cfg := config.Default()
	rt := New(cfg, b, st, &fakeFactory{agent: agent})

	handle, _ := rt.Execute(Command{AgentID: "coder"})
	waitForTerminal(t, rt, handle.RunID)

	if len(acked) != 1 {
		t.Fatalf("got %d acked events, want 1", len(acked))
	}
	payload, ok := acked[0].Payload.(map[string]any)
	if !ok || payload["mode"] != "in-loop-injection" {
		t.Errorf("acked payload = %+v, want mode=in-loop-injection", acked[0].Payload)
	}

	remaining := st.Receive("coder", time.Now(), 10, 1000)
	if len(remaining) != 0 {
		t.Errorf("mailbox should be drained after injection ack, got %d", len(remaining))
	}
}
