package shard

import (
	"github.com/ambonmud/server/internal/id"
)

// HandoffTracker holds in-flight outbound handoffs on the source engine.
// The engine owns it and drives Expire from its tick, so no locking.
type HandoffTracker struct {
	pending map[string]*pendingHandoff
	// committed remembers acked handoff ids so a re-sent ack is ignored.
	committed map[string]bool
}

type pendingHandoff struct {
	sessionID id.SessionID
	deadline  int64 // millis
	rollback  func()
	commit    func()
}

func NewHandoffTracker() *HandoffTracker {
	return &HandoffTracker{
		pending:   make(map[string]*pendingHandoff),
		committed: make(map[string]bool),
	}
}

// Begin registers an outbound handoff. commit runs on ack, rollback on
// deadline expiry; exactly one of the two will run.
func (t *HandoffTracker) Begin(handoffID string, sid id.SessionID, deadline int64, commit, rollback func()) {
	t.pending[handoffID] = &pendingHandoff{
		sessionID: sid,
		deadline:  deadline,
		commit:    commit,
		rollback:  rollback,
	}
}

// Ack resolves a handoff. Duplicate and unknown acks are ignored.
func (t *HandoffTracker) Ack(handoffID string) bool {
	p, ok := t.pending[handoffID]
	if !ok {
		return false
	}
	delete(t.pending, handoffID)
	t.committed[handoffID] = true
	p.commit()
	return true
}

// Reject resolves a handoff the target refused: the rollback runs now
// instead of waiting for the deadline.
func (t *HandoffTracker) Reject(handoffID string) bool {
	p, ok := t.pending[handoffID]
	if !ok {
		return false
	}
	delete(t.pending, handoffID)
	p.rollback()
	return true
}

// Expire rolls back every handoff past its deadline and reports how many.
func (t *HandoffTracker) Expire(nowMillis int64) int {
	n := 0
	for hid, p := range t.pending {
		if p.deadline > nowMillis {
			continue
		}
		delete(t.pending, hid)
		p.rollback()
		n++
	}
	return n
}

// InTransit is the number of unresolved outbound handoffs, reported in load
// snapshots.
func (t *HandoffTracker) InTransit() int { return len(t.pending) }

// Pending reports whether a session has an unresolved handoff.
func (t *HandoffTracker) Pending(sid id.SessionID) bool {
	for _, p := range t.pending {
		if p.sessionID == sid {
			return true
		}
	}
	return false
}
