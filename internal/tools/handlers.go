package tools

import (
	"context"

	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/pkg/errors"
	"github.com/orchestrik/kernel/pkg/util"
)

func sendMessageHandler(k KernelHandle) contracts.ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		from, err := resolveAgent(ctx, k)
		if err != nil {
			return nil, err
		}
		to, _ := args["toAgentId"].(string)
		if to == "" {
			return nil, errors.New("tools.send_message", "toAgentId is required")
		}
		// args comes off a tool-call JSON boundary, but a caller may hand
		// back an already-decoded struct instead of a bare map; coerce
		// either shape to the map SendMessage's payload fallback expects.
		payload := util.ToMapAny(args["payload"])
		topic, _ := args["topic"].(string)
		idempotencyKey, _ := args["idempotencyKey"].(string)
		correlationID, _ := args["correlationId"].(string)
		runID, _ := args["runId"].(string)

		return k.SendMessage(contracts.Message{
			From:           from,
			To:             to,
			Payload:        payload,
			Topic:          topic,
			IdempotencyKey: idempotencyKey,
			CorrelationID:  correlationID,
			RunID:          runID,
		})
	}
}

func receiveMessagesHandler(k KernelHandle, defaults ToolDefaults) contracts.ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		agentID, err := resolveAgent(ctx, k)
		if err != nil {
			return nil, err
		}
		limit := intArg(args, "limit", defaults.ReceiveLimit)
		leaseMs := intArg(args, "leaseMs", defaults.ReceiveLeaseMs)
		return k.ReceiveMailbox(agentID, limit, leaseMs), nil
	}
}

func ackMessagesHandler(k KernelHandle) contracts.ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		agentID, err := resolveAgent(ctx, k)
		if err != nil {
			return nil, err
		}
		ids := stringSliceArg(args, "messageIds")
		if len(ids) == 0 {
			return nil, errors.New("tools.ack_messages", "messageIds is required")
		}
		acked := 0
		var notFound []string
		for _, id := range ids {
			if k.AckMailboxMessage(agentID, id) {
				acked++
			} else {
				notFound = append(notFound, id)
			}
		}
		return map[string]any{"acked": acked, "notFound": notFound}, nil
	}
}

func nackMessageHandler(k KernelHandle) contracts.ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		agentID, err := resolveAgent(ctx, k)
		if err != nil {
			return nil, err
		}
		messageID, _ := args["messageId"].(string)
		if messageID == "" {
			return nil, errors.New("tools.nack_message", "messageId is required")
		}
		reason, _ := args["error"].(string)
		requeueDelayMs := intArg(args, "requeueDelayMs", -1)
		return k.NackMailboxMessage(agentID, messageID, reason, requeueDelayMs), nil
	}
}

func listDeadLettersHandler(k KernelHandle) contracts.ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		agentID, err := resolveAgent(ctx, k)
		if err != nil {
			return nil, err
		}
		limit := intArg(args, "limit", 50)
		return k.ListDeadLetters(agentID, limit), nil
	}
}

func requeueDeadLetterHandler(k KernelHandle) contracts.ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		agentID, err := resolveAgent(ctx, k)
		if err != nil {
			return nil, err
		}
		messageID, _ := args["messageId"].(string)
		if messageID == "" {
			return nil, errors.New("tools.requeue_dead_letter", "messageId is required")
		}
		delayMs := intArg(args, "delayMs", 0)
		resetAttempts, _ := args["resetAttempts"].(bool)
		msg, ok := k.RequeueDeadLetter(agentID, messageID, delayMs, resetAttempts)
		if !ok {
			return nil, errors.Wrapf(errors.ErrMessageNotFound, "tools.requeue_dead_letter", "message %q not in dead-letter queue", messageID)
		}
		return msg, nil
	}
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func stringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
