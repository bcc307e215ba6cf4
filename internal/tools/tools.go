// Package tools implements the kernel's Messaging Tools (§4.G): the six
// tool shims a registered agent calls to participate in inter-agent
// messaging. Every handler resolves its caller's agentId from the
// sessionId carried on the invocation context, through the same
// session index the Agent Runtime populates on each run.
package tools

import (
	"context"

	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/store"
	"github.com/orchestrik/kernel/pkg/errors"
)

// KernelHandle is the subset of the Orchestrator Kernel the messaging
// tools call through. Kept narrow so this package never imports
// internal/orchestrator (which imports this package to build the tool
// set handed to registerAgent).
type KernelHandle interface {
	SendMessage(msg contracts.Message) (contracts.Message, error)
	ReceiveMailbox(agentID string, limit, leaseMs int) []contracts.Message
	AckMailboxMessage(agentID, messageID string) bool
	NackMailboxMessage(agentID, messageID, errMsg string, requeueDelayMs int) store.NackResult
	ListDeadLetters(agentID string, limit int) []contracts.Message
	RequeueDeadLetter(agentID, messageID string, delayMs int, resetAttempts bool) (contracts.Message, bool)
	AgentForSession(sessionID string) (string, bool)
}

type ctxKey struct{}

// WithSessionID attaches the invoking agent's sessionId to ctx, the way
// the host surface (HTTP handler, WebSocket frame, or agent harness)
// must before calling any tool handler built by BuildToolSet.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, sessionID)
}

// SessionIDFromContext reads back the sessionId set by WithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok
}

func resolveAgent(ctx context.Context, k KernelHandle) (string, error) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok || sessionID == "" {
		return "", errors.New("tools.resolveAgent", "sessionId is required on the invocation context")
	}
	agentID, ok := k.AgentForSession(sessionID)
	if !ok {
		return "", errors.Wrapf(errors.ErrNotFound, "tools.resolveAgent", "no agent bound to session %q", sessionID)
	}
	return agentID, nil
}

// BuildToolSet returns the six messaging tools (§4.G), each resolving
// its caller through k.
func BuildToolSet(k KernelHandle, defaults ToolDefaults) []contracts.Tool {
	return []contracts.Tool{
		{Name: "send_message", Description: "Send a message to another agent's mailbox.", Handler: sendMessageHandler(k)},
		{Name: "receive_messages", Description: "Receive leased messages from this agent's mailbox.", Handler: receiveMessagesHandler(k, defaults)},
		{Name: "ack_messages", Description: "Acknowledge delivered messages so they are not redelivered.", Handler: ackMessagesHandler(k)},
		{Name: "nack_message", Description: "Nack a delivered message for retry or dead-lettering.", Handler: nackMessageHandler(k)},
		{Name: "list_dead_letters", Description: "List this agent's dead-lettered messages.", Handler: listDeadLettersHandler(k)},
		{Name: "requeue_dead_letter", Description: "Requeue a dead-lettered message back onto the mailbox.", Handler: requeueDeadLetterHandler(k)},
	}
}

// ToolDefaults carries config-derived defaults for omitted arguments.
// Only receive_messages reads them (ReceiveLimit, ReceiveLeaseMs).
// nack_message falls back to the kernel's configured nack delay and
// list_dead_letters to a limit of 50; neither reads NackRequeueDelayMs
// or DeadLetterLimit.
type ToolDefaults struct {
	ReceiveLimit       int
	ReceiveLeaseMs     int
	NackRequeueDelayMs int
	DeadLetterLimit    int
}
