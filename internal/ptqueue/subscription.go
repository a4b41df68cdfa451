package ptqueue

import (
	"context"
	"sync"
)

// ConsumerInfo is the immutable identity and policy the registry and
// dispatch policy reason about; the subscription itself owns all other
// per-subscription state (credit, in-flight window).
type ConsumerInfo struct {
	ConsumerID string
	Prefetch   int
	Priority   int
	Exclusive  bool
	Browser    bool
}

// DispatchContext carries per-cycle evaluation state (selector clock, etc.)
// passed to Matches and cleared by the caller once the cycle ends.
type DispatchContext struct {
	NowMs int64
}

// Subscription is the external, opaque sink the queue dispatches into. The
// queue never reaches into a subscription's internal credit/window state; it
// only calls these five methods.
type Subscription interface {
	ConsumerInfo() ConsumerInfo
	// Matches evaluates the selector predicate plus any subscription-local
	// capability check against ref. Group affinity is arbitrated separately
	// by the dispatch policy via MessageGroupMap.
	Matches(ref *MessageReference, ctx *DispatchContext) bool
	// OnAdded is called once, synchronously, from addSubscription.
	OnAdded(ctx context.Context, q *QueueCoordinator) error
	// OnRemoved is called once, synchronously, from removeSubscription.
	OnRemoved(ctx context.Context, q *QueueCoordinator) error
	// Deliver offers ref to the subscription; it returns false if the
	// subscription has no prefetch credit available right now, in which
	// case the caller must not consider the reference dispatched.
	Deliver(ref *MessageReference) bool
}

// BaseSubscription is a ready-to-use Subscription backed by a bounded
// delivery channel and a selector predicate, in the spirit of the broker's
// consumer registry: a small struct holding identity plus liveness/credit
// state guarded by its own mutex.
type BaseSubscription struct {
	mu       sync.Mutex
	info     ConsumerInfo
	selector Selector
	inflight map[[16]byte]struct{}
	deliverC chan *MessageReference
}

// NewBaseSubscription builds a Subscription whose Deliver succeeds as long
// as fewer than info.Prefetch messages are currently in flight.
func NewBaseSubscription(info ConsumerInfo, selector Selector) *BaseSubscription {
	if selector == nil {
		selector = AcceptAllSelector{}
	}
	prefetch := info.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &BaseSubscription{
		info:     info,
		selector: selector,
		inflight: make(map[[16]byte]struct{}, prefetch),
		deliverC: make(chan *MessageReference, prefetch),
	}
}

func (s *BaseSubscription) ConsumerInfo() ConsumerInfo { return s.info }

func (s *BaseSubscription) Matches(ref *MessageReference, _ *DispatchContext) bool {
	msg, err := ref.Body(context.Background())
	if err != nil || msg == nil {
		return false
	}
	return s.selector.Eval(msg)
}

func (s *BaseSubscription) OnAdded(context.Context, *QueueCoordinator) error   { return nil }
func (s *BaseSubscription) OnRemoved(context.Context, *QueueCoordinator) error { return nil }

// Deliver enqueues ref onto the subscription's channel if credit remains.
func (s *BaseSubscription) Deliver(ref *MessageReference) bool {
	s.mu.Lock()
	if len(s.inflight) >= s.info.Prefetch && s.info.Prefetch > 0 {
		s.mu.Unlock()
		return false
	}
	s.inflight[ref.msgID] = struct{}{}
	s.mu.Unlock()

	select {
	case s.deliverC <- ref:
		return true
	default:
		s.mu.Lock()
		delete(s.inflight, ref.msgID)
		s.mu.Unlock()
		return false
	}
}

// Deliveries exposes the channel a consumer goroutine drains.
func (s *BaseSubscription) Deliveries() <-chan *MessageReference { return s.deliverC }

// Release frees a prefetch credit after the consumer acknowledges ref.
func (s *BaseSubscription) Release(ref *MessageReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, ref.msgID)
}

// SubscriptionRegistry is the copy-on-write ordered list of active
// consumers. Exclusive subscriptions are inserted at the front so the
// dispatch policy always sees them first; highestPriority is recomputed on
// every removal by a full scan.
type SubscriptionRegistry struct {
	mu              sync.Mutex
	subs            []Subscription
	highestPriority int
}

// NewSubscriptionRegistry returns an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{}
}

// Add inserts sub at the front if exclusive, else at the back, publishing a
// fresh slice (the copy-on-write list's publication lock).
func (r *SubscriptionRegistry) Add(sub Subscription, exclusive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Subscription, 0, len(r.subs)+1)
	if exclusive {
		next = append(next, sub)
		next = append(next, r.subs...)
	} else {
		next = append(next, r.subs...)
		next = append(next, sub)
	}
	r.subs = next
	if p := sub.ConsumerInfo().Priority; p > r.highestPriority {
		r.highestPriority = p
	}
}

// Remove drops the subscription with the given consumer id.
func (r *SubscriptionRegistry) Remove(consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.ConsumerInfo().ConsumerID != consumerID {
			next = append(next, s)
		}
	}
	r.subs = next
}

// Snapshot returns the current ordered list; safe to iterate without
// holding any lock since the list is only ever replaced, not mutated.
func (r *SubscriptionRegistry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

// Len reports the number of active subscriptions.
func (r *SubscriptionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// HighestPriority returns the highest priority() over all active
// subscriptions, used by the Lock/Group Manager's priority gate.
func (r *SubscriptionRegistry) HighestPriority() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highestPriority
}

// RecomputeHighestPriority performs the full scan the spec calls for on
// removal.
func (r *SubscriptionRegistry) RecomputeHighestPriority() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	hp := 0
	for _, s := range r.subs {
		if p := s.ConsumerInfo().Priority; p > hp {
			hp = p
		}
	}
	r.highestPriority = hp
	return hp
}
