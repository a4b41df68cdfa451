package ptqueue

import (
	"testing"

	"github.com/wharfq/wharf/pkg/id"
)

func TestRoundRobinPolicySkipsNonMatchAndDispatchesFirstMatch(t *testing.T) {
	locks := NewLockManager()
	groups := NewMessageGroupMap()
	gen := id.NewGenerator()
	msg := &Message{ID: gen.Next(), Payload: []byte("hello")}
	ref := newMessageReference(msg, nil)

	sel, err := CELSelectorFactory{}.Compile(`size > 100`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	nonMatching := NewBaseSubscription(ConsumerInfo{ConsumerID: "no-match", Prefetch: 1}, sel)
	matching := NewBaseSubscription(ConsumerInfo{ConsumerID: "match", Prefetch: 1}, nil)

	got, ok := RoundRobinPolicy{}.Dispatch(ref, &DispatchContext{}, []Subscription{nonMatching, matching}, locks, groups)
	if !ok || got != matching {
		t.Fatalf("expected dispatch to the matching subscription, got %v ok=%v", got, ok)
	}
}

func TestRoundRobinPolicyGroupAffinityStaysWithFirstOwner(t *testing.T) {
	locks := NewLockManager()
	groups := NewMessageGroupMap()
	gen := id.NewGenerator()

	subA := NewBaseSubscription(ConsumerInfo{ConsumerID: "A", Prefetch: 5}, nil)
	subB := NewBaseSubscription(ConsumerInfo{ConsumerID: "B", Prefetch: 5}, nil)

	msg1 := &Message{ID: gen.Next(), GroupID: "grp", Payload: []byte("one")}
	ref1 := newMessageReference(msg1, nil)
	got1, ok := RoundRobinPolicy{}.Dispatch(ref1, &DispatchContext{}, []Subscription{subA, subB}, locks, groups)
	if !ok {
		t.Fatalf("expected first group message to dispatch")
	}
	first := got1.ConsumerInfo().ConsumerID

	msg2 := &Message{ID: gen.Next(), GroupID: "grp", Payload: []byte("two")}
	ref2 := newMessageReference(msg2, nil)
	got2, ok := RoundRobinPolicy{}.Dispatch(ref2, &DispatchContext{}, []Subscription{subA, subB}, locks, groups)
	if !ok {
		t.Fatalf("expected second group message to dispatch")
	}
	if got2.ConsumerInfo().ConsumerID != first {
		t.Fatalf("expected sticky group affinity to keep delivering to %q, got %q", first, got2.ConsumerInfo().ConsumerID)
	}
}

func TestRoundRobinPolicyNoConsumersAvailable(t *testing.T) {
	locks := NewLockManager()
	groups := NewMessageGroupMap()
	gen := id.NewGenerator()
	ref := newTestRef(gen)

	full := NewBaseSubscription(ConsumerInfo{ConsumerID: "full", Prefetch: 1}, nil)
	full.Deliver(newTestRef(gen)) // exhaust its only credit

	_, ok := RoundRobinPolicy{}.Dispatch(ref, &DispatchContext{}, []Subscription{full}, locks, groups)
	if ok {
		t.Fatalf("expected dispatch to fail when every consumer is out of prefetch credit")
	}
}
