package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchestrik/kernel/internal/bus"
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/pkg/logger"
)

// injectedMessage is the per-message shape serialized into the
// loop-boundary block (§4.E.2).
type injectedMessage struct {
	MessageID     string         `json:"messageId"`
	FromAgentID   string         `json:"fromAgentId"`
	Topic         string         `json:"topic,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

const injectionPreamble = "Inter-agent messages injected at loop boundary:\n"

func buildInjectionBlock(messages []contracts.Message) (string, error) {
	items := make([]injectedMessage, len(messages))
	for i, m := range messages {
		items[i] = injectedMessage{
			MessageID:     m.MessageID,
			FromAgentID:   m.From,
			Topic:         m.Topic,
			CorrelationID: m.CorrelationID,
			Payload:       m.Payload,
		}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return injectionPreamble + string(raw), nil
}

// loopBoundaryHook builds the contracts.LoopBoundaryHook passed to
// AgentFactory.NewAgent. It must never let an error or panic escape to
// the agent (§7 "InjectionFailure ... must not propagate").
func (rt *Runtime) loopBoundaryHook(agentID string) contracts.LoopBoundaryHook {
	return func(ctx context.Context, appendUserMessage contracts.AppendUserMessageFunc) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("runtime: loop boundary injection panicked",
					logger.FieldAgentID, agentID, logger.FieldError, r)
			}
		}()
		if !rt.cfg.InLoopMessageInjection.Enabled {
			return nil
		}
		rt.injectAtLoopBoundary(agentID, appendUserMessage)
		return nil
	}
}

// injectAtLoopBoundary implements §4.E.2: receive leased messages,
// append them as a synthetic user turn, then ack each — or, on any
// failure along the way, nack every delivered message instead.
func (rt *Runtime) injectAtLoopBoundary(agentID string, appendUserMessage contracts.AppendUserMessageFunc) {
	cfg := rt.cfg.InLoopMessageInjection
	now := time.Now()
	messages := rt.store.Receive(agentID, now, cfg.ReceiveLimit, cfg.LeaseMs)
	if len(messages) == 0 {
		return
	}

	if err := rt.appendInjectionBlock(messages, appendUserMessage); err != nil {
		rt.nackDelivered(agentID, messages, err.Error())
		return
	}

	allAcked := true
	for _, m := range messages {
		if rt.store.Ack(agentID, m.MessageID) {
			rt.publish(bus.Event{
				Type:    bus.EventMessageAcked,
				AgentID: agentID,
				Payload: map[string]any{"mode": "in-loop-injection", "messageId": m.MessageID},
			})
		} else {
			allAcked = false
		}
	}
	if !allAcked {
		rt.nackDelivered(agentID, messages, "ack failed: message not in flight")
	}
}

// appendInjectionBlock serializes messages and calls appendUserMessage,
// recovering a panic from either step into an error so the caller can
// nack instead of propagating it.
func (rt *Runtime) appendInjectionBlock(messages []contracts.Message, appendUserMessage contracts.AppendUserMessageFunc) (err error) {
	block, buildErr := buildInjectionBlock(messages)
	if buildErr != nil {
		return buildErr
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("appendUserMessage panicked: %v", r)
		}
	}()
	appendUserMessage(block)
	return nil
}

// nackDelivered nacks every message delivered by this loop-boundary
// receive with requeueDelayMs=0, publishing the outcome event for
// each (§4.E.2, §7 "InjectionFailure").
func (rt *Runtime) nackDelivered(agentID string, messages []contracts.Message, reason string) {
	now := time.Now()
	for _, m := range messages {
		res := rt.store.Nack(agentID, m.MessageID, reason, 0, now)
		if !res.Found {
			continue
		}
		switch {
		case res.DeadLettered:
			rt.publish(bus.Event{Type: bus.EventMessageDeadLetter, AgentID: agentID, Payload: res.Message})
		case res.Requeued:
			rt.publish(bus.Event{Type: bus.EventMessageNacked, AgentID: agentID, Payload: res.Message})
		}
	}
}
