// Package bus implements the kernel's event bus: a single in-process,
// multi-subscriber pub/sub stream with filtered subscriptions and full
// replay. Fan-out on publish is synchronous and happens in subscription
// order; a reader-writer lock with copy-on-write of the subscriber list
// keeps publish from racing subscribe/unsubscribe.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrik/kernel/pkg/logger"
)

// Event types published on the bus. See spec §3 "Runtime Event".
const (
	EventRunQueued    = "run.queued"
	EventRunStarted   = "run.started"
	EventRunStream    = "run.stream"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventRunAborted   = "run.aborted"

	EventAgentSpawned = "agent.spawned"

	EventMessage             = "agent.message"
	EventMessageAcked        = "agent.message.acked"
	EventMessageNacked       = "agent.message.nacked"
	EventMessageDeadLetter   = "agent.message.dead_letter"
	EventMessageDeduplicated = "agent.message.deduplicated"
)

// Event is an opaque, envelope-typed notification. Payload is left as
// `any` at the bus layer; producers and consumers agree on its shape per
// event Type out of band (see the constants above).
type Event struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	RunID     string    `json:"runId,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// Filter is the conjunction of three optional predicates: exact RunID,
// exact AgentID, and membership in a Types set. A zero-value Filter
// matches everything.
type Filter struct {
	RunID   string
	AgentID string
	Types   map[string]struct{}
}

func (f Filter) matches(e Event) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.Types) > 0 {
		if _, ok := f.Types[e.Type]; !ok {
			return false
		}
	}
	return true
}

// NewTypeFilter builds a Filter matching only the given event types.
func NewTypeFilter(types ...string) Filter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return Filter{Types: set}
}

// Listener receives events matching its subscription's filter. Listeners
// must not panic; a panic is recovered and logged, and fan-out continues
// to the remaining subscribers (§4.A "listeners must not throw").
type Listener func(Event)

type subscriber struct {
	id       string
	filter   Filter
	listener Listener
}

// Bus is the process-wide event bus. Zero value is not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber // copy-on-write on subscribe/unsubscribe
	history     []Event       // full replay log, append-only
	seq         int64
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{}
}

// Publish assigns EventID/Timestamp if absent, appends the event to the
// replay log, and synchronously fans it out to every subscriber whose
// filter matches, in subscription order.
func (b *Bus) Publish(e Event) Event {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	atomic.AddInt64(&b.seq, 1)

	b.mu.Lock()
	b.history = append(b.history, e)
	subs := b.subscribers
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.filter.matches(e) {
			deliver(sub, e)
		}
	}
	return e
}

func deliver(sub *subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bus listener panicked",
				logger.FieldEventType, e.Type,
				logger.FieldError, r,
			)
		}
	}()
	sub.listener(e)
}

// Subscribe registers a listener for events matching filter and returns
// an unsubscribe function. Late subscribers do not receive past events;
// call Replay for catch-up.
func (b *Bus) Subscribe(filter Filter, listener Listener) (unsubscribe func()) {
	sub := &subscriber{id: uuid.NewString(), filter: filter, listener: listener}

	b.mu.Lock()
	next := make([]*subscriber, len(b.subscribers), len(b.subscribers)+1)
	copy(next, b.subscribers)
	b.subscribers = append(next, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.id != id {
			next = append(next, s)
		}
	}
	b.subscribers = next
}

// Replay returns every event published so far matching filter, in
// publish order. A zero-value Filter returns the full history.
func (b *Bus) Replay(filter Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// SubscriberCount returns the current number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
