package moderation

import (
	"sync"
)

// DefaultWarnLimit is the violation count that triggers removal.
const DefaultWarnLimit = 3

// ActionKind is the escalation decided for a violation.
type ActionKind int

const (
	ActionWarn ActionKind = iota + 1
	ActionRemove
)

func (k ActionKind) String() string {
	switch k {
	case ActionWarn:
		return "warn"
	case ActionRemove:
		return "remove"
	default:
		return "none"
	}
}

// Action is the result of recording a violation. Count is the sender's count
// after the increment.
type Action struct {
	Kind  ActionKind
	Count int
	Limit int
}

// Ledger is the per-sender violation counter and escalation state machine.
//
// Counts live for the lifetime of the Ledger only; a restart forgets them.
// Entries of removed senders are kept.
type Ledger struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func NewLedger(limit int) *Ledger {
	if limit <= 0 {
		limit = DefaultWarnLimit
	}
	return &Ledger{limit: limit, counts: make(map[string]int)}
}

// RecordViolation advances sender's count by one and returns the escalation.
//
// It is not idempotent: call it exactly once per violating message.
func (l *Ledger) RecordViolation(sender string) Action {
	l.mu.Lock()
	n := l.counts[sender] + 1
	l.counts[sender] = n
	limit := l.limit
	l.mu.Unlock()

	if n >= limit {
		return Action{Kind: ActionRemove, Count: n, Limit: limit}
	}
	return Action{Kind: ActionWarn, Count: n, Limit: limit}
}

// Count returns sender's current count; 0 when the sender has no entry.
func (l *Ledger) Count(sender string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[sender]
}

// Limit returns the removal threshold.
func (l *Ledger) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// SetLimit changes the threshold for future violations. Existing counts are
// kept; a sender already at or past the new limit is removed on the next one.
func (l *Ledger) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultWarnLimit
	}
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

// Len returns the number of senders with at least one violation.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
