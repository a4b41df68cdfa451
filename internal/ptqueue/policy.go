package ptqueue

// DispatchPolicy is a pure function over (reference, consumer list)
// selecting which subscription receives an offer.
type DispatchPolicy interface {
	// Dispatch attempts to deliver ref to exactly one of consumers, honoring
	// group affinity, selector matches, exclusivity and priority locks, and
	// prefetch credit. It returns the chosen subscription and true on
	// success, or (nil, false) if ref should stay paged-in for a later
	// retry.
	Dispatch(ref *MessageReference, ctx *DispatchContext, consumers []Subscription, locks *LockManager, groups *MessageGroupMap) (Subscription, bool)
}

// RoundRobinPolicy is the default policy: iterate consumers in their
// current order, skip non-matches, offer to the first with prefetch credit.
type RoundRobinPolicy struct{}

// Dispatch implements DispatchPolicy.
func (RoundRobinPolicy) Dispatch(ref *MessageReference, ctx *DispatchContext, consumers []Subscription, locks *LockManager, groups *MessageGroupMap) (Subscription, bool) {
	groupID := ref.GroupID()
	var boundTo string
	var hasBinding bool
	if groupID != "" {
		boundTo, hasBinding = groups.Owner(groupID)
	}

	for _, sub := range consumers {
		info := sub.ConsumerInfo()
		if hasBinding && boundTo != info.ConsumerID {
			continue // group affinity: this group already belongs elsewhere
		}
		if !sub.Matches(ref, ctx) {
			continue
		}
		owner := NewLockOwner(info.ConsumerID, info.Priority, info.Exclusive)
		if !locks.TryLock(ref, owner) {
			continue
		}
		if !sub.Deliver(ref) {
			locks.Unlock(ref)
			continue
		}
		if groupID != "" && !hasBinding {
			groups.Bind(groupID, info.ConsumerID)
		}
		return sub, true
	}
	return nil, false
}
