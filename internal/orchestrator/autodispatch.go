package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"golang.org/x/sync/singleflight"

	"github.com/orchestrik/kernel/internal/bus"
	"github.com/orchestrik/kernel/internal/config"
	"github.com/orchestrik/kernel/pkg/logger"
)

// autoDispatcher implements §4.F's idle-recipient wakeup loop: every
// agent.message event coalesces into a debounced trigger per recipient,
// and firing that trigger executes the recipient with a synthetic
// "you have mail" input unless it already has an active run.
type autoDispatcher struct {
	cfg    config.AutoDispatch
	kernel *Kernel

	mu         sync.Mutex
	pending    map[string]bool                   // agentId -> has an undelivered trigger
	triggers   map[string]config.DispatchTrigger // agentId -> latest coalesced trigger
	debouncers map[string]func(func())
	closed     bool

	sf singleflight.Group

	unsubscribe func()
}

func newAutoDispatcher(cfg config.AutoDispatch, k *Kernel) *autoDispatcher {
	return &autoDispatcher{
		cfg:        cfg,
		kernel:     k,
		pending:    map[string]bool{},
		triggers:   map[string]config.DispatchTrigger{},
		debouncers: map[string]func(func()){},
	}
}

func (ad *autoDispatcher) start() {
	ad.unsubscribe = ad.kernel.bus.Subscribe(bus.NewTypeFilter(bus.EventMessage), ad.onMessage)
}

func (ad *autoDispatcher) stop() {
	ad.mu.Lock()
	ad.closed = true
	ad.mu.Unlock()
	if ad.unsubscribe != nil {
		ad.unsubscribe()
	}
}

// onMessage coalesces same-recipient triggers: multiple messages for
// the same agent arriving within the debounce window collapse into one
// dispatch.
func (ad *autoDispatcher) onMessage(e bus.Event) {
	toAgentID := e.AgentID
	if toAgentID == "" {
		return
	}

	ad.mu.Lock()
	if ad.closed {
		ad.mu.Unlock()
		return
	}
	ad.pending[toAgentID] = true
	ad.triggers[toAgentID] = config.DispatchTrigger{
		AgentID:       toAgentID,
		LastMessageAt: time.Now(),
		ReceiveLimit:  ad.cfg.ReceiveLimit,
		LeaseMs:       ad.cfg.LeaseMs,
	}
	debounced, ok := ad.debouncers[toAgentID]
	if !ok {
		debounced = debounce.New(time.Duration(ad.cfg.DebounceMs) * time.Millisecond)
		ad.debouncers[toAgentID] = debounced
	}
	ad.mu.Unlock()

	debounced(func() { ad.fire(toAgentID) })
}

// fire runs once the debounce window for toAgentID has elapsed with no
// further messages. It defers to the recipient's in-flight run if
// configured to, and uses a singleflight group so concurrent fires for
// the same recipient never double-execute.
func (ad *autoDispatcher) fire(toAgentID string) {
	ad.mu.Lock()
	closed := ad.closed
	hadPending := ad.pending[toAgentID]
	ad.mu.Unlock()
	if closed || !hadPending {
		return
	}

	if ad.cfg.SkipIfAgentRunning && ad.kernel.agentHasActiveRun(toAgentID) {
		ad.reschedule(toAgentID)
		return
	}

	_, err, _ := ad.sf.Do(toAgentID, func() (any, error) {
		ad.mu.Lock()
		ad.pending[toAgentID] = false
		trigger := ad.triggers[toAgentID]
		ad.mu.Unlock()

		input := ad.buildInput(trigger)
		_, err := ad.kernel.Execute(ExecuteCommand{
			AgentID:  toAgentID,
			Input:    input,
			Metadata: map[string]any{"autoDispatch": true},
		})
		if err != nil {
			ad.kernel.bus.Publish(bus.Event{
				Type:    bus.EventRunFailed,
				AgentID: toAgentID,
				Payload: fmt.Sprintf("auto-dispatch failed: %v", err),
			})
			logger.Warn("orchestrator: auto-dispatch execute failed", logger.FieldAgentID, toAgentID, logger.FieldError, err)
		}
		return nil, err
	})
	if err != nil {
		ad.mu.Lock()
		ad.pending[toAgentID] = true
		ad.mu.Unlock()
		ad.reschedule(toAgentID)
	}
}

func (ad *autoDispatcher) reschedule(toAgentID string) {
	ad.mu.Lock()
	debounced, ok := ad.debouncers[toAgentID]
	ad.mu.Unlock()
	if !ok {
		return
	}
	debounced(func() { ad.fire(toAgentID) })
}

func (ad *autoDispatcher) buildInput(trigger config.DispatchTrigger) string {
	if ad.cfg.InputBuilder != nil {
		return ad.cfg.InputBuilder(trigger)
	}
	return fmt.Sprintf(
		"You have new inter-agent messages waiting. Call receive_messages with "+
			"limit=%d leaseMs=%d, then ack_messages or nack_message for each one you process.",
		trigger.ReceiveLimit, trigger.LeaseMs,
	)
}
