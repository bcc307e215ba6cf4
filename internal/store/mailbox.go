package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrik/kernel/internal/contracts"
)

// mailbox is the per-agent queue/in-flight/DLQ/idempotency state. One
// goroutine at a time mutates a given mailbox (guarded by mu), which is
// what preserves the partition-order and at-most-one-in-flight
// invariants (§5 "Shared-resource policy").
type mailbox struct {
	mu sync.Mutex

	queue        []contracts.Message          // sorted per-partition by partitionSeq
	inFlight     map[string]contracts.Message  // messageId -> message
	dlq          []contracts.Message           // status=dead_letter
	partitionSeq map[string]int64              // partitionKey -> next seq, monotonic for process lifetime
	idempotency  map[string]contracts.IdempotencyEntry // key -> entry
}

func newMailbox() *mailbox {
	return &mailbox{
		inFlight:     map[string]contracts.Message{},
		partitionSeq: map[string]int64{},
		idempotency:  map[string]contracts.IdempotencyEntry{},
	}
}

// resolvePartitionKey implements §4.B Enqueue's "explicit → topic →
// __default__" resolution.
func resolvePartitionKey(explicit, topic string) string {
	if explicit != "" {
		return explicit
	}
	if topic != "" {
		return topic
	}
	return contracts.DefaultPartitionKey
}

// insertSorted inserts msg into the queue immediately before the first
// same-partition message with a larger PartitionSeq (or at the end, if
// none). Fresh enqueues always have the largest seq for their partition
// and so append; lease-expiry/nack requeues have a smaller seq than any
// still-queued sibling and so are reinserted ahead of them, preserving
// per-partition partitionSeq order (§3 invariants, §4.B).
func (mb *mailbox) insertSorted(msg contracts.Message) {
	idx := -1
	for i, m := range mb.queue {
		if m.PartitionKey == msg.PartitionKey && m.PartitionSeq > msg.PartitionSeq {
			idx = i
			break
		}
	}
	if idx == -1 {
		mb.queue = append(mb.queue, msg)
		return
	}
	mb.queue = append(mb.queue, contracts.Message{})
	copy(mb.queue[idx+1:], mb.queue[idx:])
	mb.queue[idx] = msg
}

// Enqueue implements §4.B "Enqueue".
func (s *Store) Enqueue(msg contracts.Message, now time.Time) contracts.Message {
	mb := s.mailboxFor(msg.To)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.Status = contracts.MessageQueued
	msg.Attempt = 0
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 3
	}
	if msg.VisibleAt.IsZero() {
		msg.VisibleAt = now
	}
	msg.PartitionKey = resolvePartitionKey(msg.PartitionKey, msg.Topic)

	mb.partitionSeq[msg.PartitionKey]++
	msg.PartitionSeq = mb.partitionSeq[msg.PartitionKey]

	mb.insertSorted(msg)
	return msg.Clone()
}

// Receive implements §4.B "Receive": requeues expired in-flight
// messages, then walks the queue delivering up to limit eligible
// messages while respecting per-partition mutual exclusion.
func (s *Store) Receive(agentID string, now time.Time, limit, leaseMs int) []contracts.Message {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.requeueExpiredLocked(now)

	blocked := make(map[string]bool, len(mb.inFlight))
	for _, m := range mb.inFlight {
		blocked[m.PartitionKey] = true
	}

	delivered := make([]contracts.Message, 0, limit)
	remaining := make([]contracts.Message, 0, len(mb.queue))

	for _, msg := range mb.queue {
		if len(delivered) >= limit {
			remaining = append(remaining, msg)
			continue
		}
		if blocked[msg.PartitionKey] {
			remaining = append(remaining, msg)
			continue
		}
		if msg.VisibleAt.After(now) {
			blocked[msg.PartitionKey] = true
			remaining = append(remaining, msg)
			continue
		}

		nextAttempt := msg.Attempt + 1
		if nextAttempt > msg.MaxAttempts {
			msg.Status = contracts.MessageDeadLetter
			msg.LastError = "max attempts exceeded"
			msg.LeaseUntil = nil
			mb.dlq = append(mb.dlq, msg)
			continue
		}

		msg.Attempt = nextAttempt
		msg.Status = contracts.MessageInFlight
		leaseUntil := now.Add(time.Duration(leaseMs) * time.Millisecond)
		msg.LeaseUntil = &leaseUntil
		blocked[msg.PartitionKey] = true
		mb.inFlight[msg.MessageID] = msg
		delivered = append(delivered, msg.Clone())
	}

	mb.queue = remaining

	out := make([]contracts.Message, len(delivered))
	for i, m := range delivered {
		out[i] = m.Clone()
	}
	return out
}

// requeueExpiredLocked implements §4.B Receive step 1. Caller holds
// mb.mu.
func (mb *mailbox) requeueExpiredLocked(now time.Time) {
	var expired []string
	for id, msg := range mb.inFlight {
		if msg.LeaseUntil != nil && !msg.LeaseUntil.After(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		msg := mb.inFlight[id]
		delete(mb.inFlight, id)
		if msg.Attempt >= msg.MaxAttempts {
			msg.Status = contracts.MessageDeadLetter
			msg.LastError = "lease expired / max attempts"
			msg.LeaseUntil = nil
			mb.dlq = append(mb.dlq, msg)
			continue
		}
		msg.Status = contracts.MessageQueued
		msg.LeaseUntil = nil
		msg.VisibleAt = now
		mb.insertSorted(msg)
	}
}

// Ack implements §4.B "Ack". Returns whether a matching in-flight
// message existed.
func (s *Store) Ack(agentID, messageID string) bool {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	msg, ok := mb.inFlight[messageID]
	if !ok {
		return false
	}
	delete(mb.inFlight, messageID)
	msg.Status = contracts.MessageAcked
	msg.LeaseUntil = nil
	return true
}

// NackResult is returned by Nack.
type NackResult struct {
	Found        bool
	Requeued     bool
	DeadLettered bool
	Message      contracts.Message
}

// Nack implements §4.B "Nack".
func (s *Store) Nack(agentID, messageID string, lastError string, requeueDelayMs int, now time.Time) NackResult {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	msg, ok := mb.inFlight[messageID]
	if !ok {
		return NackResult{}
	}
	delete(mb.inFlight, messageID)
	msg.LastError = lastError

	if msg.Attempt >= msg.MaxAttempts {
		msg.Status = contracts.MessageDeadLetter
		msg.LeaseUntil = nil
		mb.dlq = append(mb.dlq, msg)
		return NackResult{Found: true, DeadLettered: true, Message: msg.Clone()}
	}

	msg.Status = contracts.MessageQueued
	msg.LeaseUntil = nil
	msg.VisibleAt = now.Add(time.Duration(requeueDelayMs) * time.Millisecond)
	mb.insertSorted(msg)
	return NackResult{Found: true, Requeued: true, Message: msg.Clone()}
}

// ListDeadLetters returns up to limit copies of the DLQ entries for
// agentID, most-recently-dead-lettered first. limit<=0 means "all".
func (s *Store) ListDeadLetters(agentID string, limit int) []contracts.Message {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	n := len(mb.dlq)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]contracts.Message, 0, n)
	for i := len(mb.dlq) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, mb.dlq[i].Clone())
	}
	return out
}

// RequeueDeadLetter implements §4.B "Requeue dead-letter".
func (s *Store) RequeueDeadLetter(agentID, messageID string, delayMs int, resetAttempts bool, now time.Time) (contracts.Message, bool) {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	idx := -1
	for i, m := range mb.dlq {
		if m.MessageID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return contracts.Message{}, false
	}

	msg := mb.dlq[idx]
	mb.dlq = append(mb.dlq[:idx], mb.dlq[idx+1:]...)

	msg.Status = contracts.MessageQueued
	msg.LastError = ""
	msg.LeaseUntil = nil
	msg.VisibleAt = now.Add(time.Duration(delayMs) * time.Millisecond)
	if resetAttempts {
		msg.Attempt = 0
	}
	mb.insertSorted(msg)
	return msg.Clone(), true
}

// DrainMailbox removes and returns every currently-queued message for
// agentID (in-flight and dead-lettered messages are untouched). An
// administrative maintenance operation, not part of the normal
// delivery path.
func (s *Store) DrainMailbox(agentID string) []contracts.Message {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	out := make([]contracts.Message, len(mb.queue))
	for i, m := range mb.queue {
		out[i] = m.Clone()
	}
	mb.queue = nil
	return out
}

// ========================================
// Idempotency (§4.B "Idempotency")
// ========================================

// SaveIdempotency sweeps expired entries for agentID, then records key
// → messageID with the given expiry.
func (s *Store) SaveIdempotency(agentID, key, messageID string, expiresAt, now time.Time) {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for k, e := range mb.idempotency {
		if !e.ExpiresAt.After(now) {
			delete(mb.idempotency, k)
		}
	}
	mb.idempotency[key] = contracts.IdempotencyEntry{MessageID: messageID, ExpiresAt: expiresAt}
}

// FindMessageByIdempotency returns the messageId recorded for
// (agentID, key), provided its window has not expired.
func (s *Store) FindMessageByIdempotency(agentID, key string, now time.Time) (string, bool) {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	entry, ok := mb.idempotency[key]
	if !ok || !entry.ExpiresAt.After(now) {
		return "", false
	}
	return entry.MessageID, true
}

// FindMessage looks up a message by id across queue, in-flight and DLQ
// (used by ack/nack/status plumbing in higher layers that only have a
// messageId to report on).
func (s *Store) FindMessage(agentID, messageID string) (contracts.Message, bool) {
	mb := s.mailboxFor(agentID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if m, ok := mb.inFlight[messageID]; ok {
		return m.Clone(), true
	}
	for _, m := range mb.queue {
		if m.MessageID == messageID {
			return m.Clone(), true
		}
	}
	for _, m := range mb.dlq {
		if m.MessageID == messageID {
			return m.Clone(), true
		}
	}
	return contracts.Message{}, false
}
