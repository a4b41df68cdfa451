package ptqueue

import "sync"

// LockManager implements the queue-wide exclusive gate plus the priority
// check from the Lock/Group Manager component. Rules, checked in order:
//  1. exclusiveOwner == owner -> grant (re-entrant).
//  2. exclusiveOwner != nil   -> deny.
//  3. owner.Priority() < highestPriority -> deny (a higher-priority
//     consumer is expected; hold the message for it).
//  4. owner.Exclusive() -> become exclusiveOwner; grant.
//  5. otherwise -> grant without becoming owner.
type LockManager struct {
	mu              sync.Mutex
	exclusiveOwner  LockOwner
	highestPriority int
}

// NewLockManager returns an empty Lock/Group Manager.
func NewLockManager() *LockManager { return &LockManager{} }

// TryLock applies the five-rule gate and, if granted, acquires ref's
// per-reference lock for owner.
func (lm *LockManager) TryLock(ref *MessageReference, owner LockOwner) bool {
	lm.mu.Lock()
	switch {
	case lm.exclusiveOwner != nil && lm.exclusiveOwner.ID() == owner.ID():
		// re-entrant: fall through to ref acquisition.
	case lm.exclusiveOwner != nil:
		lm.mu.Unlock()
		return false
	case owner.Priority() < lm.highestPriority:
		lm.mu.Unlock()
		return false
	case owner.Exclusive():
		lm.exclusiveOwner = owner
	}
	lm.mu.Unlock()
	return ref.acquireLock(owner)
}

// Unlock releases ref's per-reference lock unconditionally (used when
// redelivering after a subscription departs, or after an administrative
// ack).
func (lm *LockManager) Unlock(ref *MessageReference) {
	ref.releaseLock()
}

// ClearExclusiveOwnerIfMatches clears the exclusive owner if it is the given
// consumer id, returning whether it was cleared.
func (lm *LockManager) ClearExclusiveOwnerIfMatches(consumerID string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.exclusiveOwner != nil && lm.exclusiveOwner.ID() == consumerID {
		lm.exclusiveOwner = nil
		return true
	}
	return false
}

// SetHighestPriority recomputes the priority gate threshold.
func (lm *LockManager) SetHighestPriority(p int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.highestPriority = p
}

// HighestPriority reports the current priority gate threshold.
func (lm *LockManager) HighestPriority() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.highestPriority
}

// HasExclusiveOwner reports whether any consumer currently holds the
// queue-wide exclusive gate.
func (lm *LockManager) HasExclusiveOwner() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.exclusiveOwner != nil
}

// MessageGroupMap binds a group-id to the consumer-id that owns it, giving
// sticky affinity: once bound, every subsequent message sharing the group
// goes to the same consumer until it departs.
type MessageGroupMap struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMessageGroupMap returns an empty group map.
func NewMessageGroupMap() *MessageGroupMap {
	return &MessageGroupMap{owners: make(map[string]string)}
}

// Owner returns the consumer id bound to groupID, if any.
func (m *MessageGroupMap) Owner(groupID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.owners[groupID]
	return c, ok
}

// Bind associates groupID with consumerID if it is not already bound,
// returning the (possibly pre-existing) owning consumer id.
func (m *MessageGroupMap) Bind(groupID, consumerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.owners[groupID]; ok {
		return existing
	}
	m.owners[groupID] = consumerID
	return consumerID
}

// RemoveConsumer unbinds every group owned by consumerID, returning the set
// of orphaned group ids so the queue can re-offer their in-flight messages.
func (m *MessageGroupMap) RemoveConsumer(consumerID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orphaned []string
	for g, c := range m.owners {
		if c == consumerID {
			orphaned = append(orphaned, g)
			delete(m.owners, g)
		}
	}
	return orphaned
}
