package tools

import (
	"context"
	"testing"

	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/store"
)

// fakeKernel is a hand-written KernelHandle fake, grounded in the
// kernel's own Kernel (which is the real implementation exercised in
// internal/orchestrator's tests) but kept independent here so this
// package's tests do not import internal/orchestrator.
type fakeKernel struct {
	sessions map[string]string // sessionId -> agentId
	sent     []contracts.Message
	mailbox  map[string][]contracts.Message
	acked    []string
	nacked   []string
	dlq      map[string][]contracts.Message
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		sessions: map[string]string{},
		mailbox:  map[string][]contracts.Message{},
		dlq:      map[string][]contracts.Message{},
	}
}

func (f *fakeKernel) SendMessage(msg contracts.Message) (contracts.Message, error) {
	msg.MessageID = "msg-" + msg.To
	f.sent = append(f.sent, msg)
	return msg, nil
}

func (f *fakeKernel) ReceiveMailbox(agentID string, limit, leaseMs int) []contracts.Message {
	return f.mailbox[agentID]
}

func (f *fakeKernel) AckMailboxMessage(agentID, messageID string) bool {
	f.acked = append(f.acked, messageID)
	return messageID == "known"
}

func (f *fakeKernel) NackMailboxMessage(agentID, messageID, errMsg string, requeueDelayMs int) store.NackResult {
	f.nacked = append(f.nacked, messageID)
	return store.NackResult{Found: true, Requeued: true}
}

func (f *fakeKernel) ListDeadLetters(agentID string, limit int) []contracts.Message {
	return f.dlq[agentID]
}

func (f *fakeKernel) RequeueDeadLetter(agentID, messageID string, delayMs int, resetAttempts bool) (contracts.Message, bool) {
	if messageID == "missing" {
		return contracts.Message{}, false
	}
	return contracts.Message{MessageID: messageID}, true
}

func (f *fakeKernel) AgentForSession(sessionID string) (string, bool) {
	agentID, ok := f.sessions[sessionID]
	return agentID, ok
}

func TestSendMessageHandlerResolvesCallerFromSession(t *testing.T) {
	k := newFakeKernel()
	k.sessions["sess-1"] = "planner"
	toolSet := BuildToolSet(k, ToolDefaults{ReceiveLimit: 10, ReceiveLeaseMs: 60000})

	var send contracts.Tool
	for _, tl := range toolSet {
		if tl.Name == "send_message" {
			send = tl
		}
	}

	ctx := WithSessionID(context.Background(), "sess-1")
	out, err := send.Handler(ctx, map[string]any{"toAgentId": "worker", "payload": map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("send_message error: %v", err)
	}
	msg := out.(contracts.Message)
	if msg.From != "planner" || msg.To != "worker" {
		t.Fatalf("message = %+v, want From=planner To=worker", msg)
	}
}

func TestToolHandlerRejectsMissingSession(t *testing.T) {
	k := newFakeKernel()
	toolSet := BuildToolSet(k, ToolDefaults{})
	for _, tl := range toolSet {
		if _, err := tl.Handler(context.Background(), map[string]any{}); err == nil {
			t.Errorf("%s: expected error without a sessionId on context", tl.Name)
		}
	}
}

func TestAckMessagesHandlerReportsNotFound(t *testing.T) {
	k := newFakeKernel()
	k.sessions["sess-1"] = "worker"
	toolSet := BuildToolSet(k, ToolDefaults{})

	var ack contracts.Tool
	for _, tl := range toolSet {
		if tl.Name == "ack_messages" {
			ack = tl
		}
	}

	ctx := WithSessionID(context.Background(), "sess-1")
	out, err := ack.Handler(ctx, map[string]any{"messageIds": []any{"known", "unknown"}})
	if err != nil {
		t.Fatalf("ack_messages error: %v", err)
	}
	result := out.(map[string]any)
	if result["acked"] != 1 {
		t.Errorf("acked = %v, want 1", result["acked"])
	}
	notFound := result["notFound"].([]string)
	if len(notFound) != 1 || notFound[0] != "unknown" {
		t.Errorf("notFound = %v, want [unknown]", notFound)
	}
}

func TestRequeueDeadLetterHandlerErrorsWhenMissing(t *testing.T) {
	k := newFakeKernel()
	k.sessions["sess-1"] = "worker"
	toolSet := BuildToolSet(k, ToolDefaults{})

	var requeue contracts.Tool
	for _, tl := range toolSet {
		if tl.Name == "requeue_dead_letter" {
			requeue = tl
		}
	}

	ctx := WithSessionID(context.Background(), "sess-1")
	if _, err := requeue.Handler(ctx, map[string]any{"messageId": "missing"}); err == nil {
		t.Fatal("expected error for a messageId not in the dead-letter queue")
	}
}
