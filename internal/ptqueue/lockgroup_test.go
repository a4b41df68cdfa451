package ptqueue

import (
	"testing"

	"github.com/wharfq/wharf/pkg/id"
)

func TestLockManagerGrantsAndDenies(t *testing.T) {
	lm := NewLockManager()
	gen := id.NewGenerator()
	ref := newTestRef(gen)

	alice := NewLockOwner("alice", 0, false)
	bob := NewLockOwner("bob", 0, false)

	if !lm.TryLock(ref, alice) {
		t.Fatalf("expected first lock attempt to succeed")
	}
	// Re-entrant: same owner id succeeds again.
	if !lm.TryLock(ref, alice) {
		t.Fatalf("expected re-entrant lock to succeed for the current holder")
	}
	// A different owner cannot steal a held per-reference lock.
	if lm.TryLock(ref, bob) {
		t.Fatalf("expected a competing owner to be denied the held reference lock")
	}
	lm.Unlock(ref)
	if !lm.TryLock(ref, bob) {
		t.Fatalf("expected bob to acquire the lock once alice released it")
	}
}

func TestLockManagerExclusiveOwnerExcludesEveryoneElse(t *testing.T) {
	lm := NewLockManager()
	gen := id.NewGenerator()
	ref1, ref2 := newTestRef(gen), newTestRef(gen)

	excl := NewLockOwner("excl", 0, true)
	other := NewLockOwner("other", 0, false)

	if !lm.TryLock(ref1, excl) {
		t.Fatalf("expected exclusive owner to acquire its first reference")
	}
	if !lm.HasExclusiveOwner() {
		t.Fatalf("expected an exclusive owner to be recorded")
	}
	if lm.TryLock(ref2, other) {
		t.Fatalf("expected a non-owner to be denied any reference while an exclusive owner holds the gate")
	}
	// The exclusive owner itself can still acquire further references.
	if !lm.TryLock(ref2, excl) {
		t.Fatalf("expected the exclusive owner to acquire additional references")
	}

	if !lm.ClearExclusiveOwnerIfMatches("excl") {
		t.Fatalf("expected clearing the matching exclusive owner to report true")
	}
	if lm.HasExclusiveOwner() {
		t.Fatalf("expected no exclusive owner after clearing")
	}
}

func TestLockManagerPriorityGateDeniesLowerPriority(t *testing.T) {
	lm := NewLockManager()
	lm.SetHighestPriority(5)
	gen := id.NewGenerator()
	ref := newTestRef(gen)

	low := NewLockOwner("low", 1, false)
	if lm.TryLock(ref, low) {
		t.Fatalf("expected an owner below the priority gate to be denied")
	}

	high := NewLockOwner("high", 5, false)
	if !lm.TryLock(ref, high) {
		t.Fatalf("expected an owner at the priority gate to be granted")
	}
}

func TestMessageGroupMapStickyAffinityAndOrphaning(t *testing.T) {
	m := NewMessageGroupMap()

	owner := m.Bind("g1", "consumerA")
	if owner != "consumerA" {
		t.Fatalf("expected first bind to win, got %q", owner)
	}
	// Binding again with a different consumer does not steal ownership.
	owner = m.Bind("g1", "consumerB")
	if owner != "consumerA" {
		t.Fatalf("expected sticky affinity to keep consumerA, got %q", owner)
	}

	got, ok := m.Owner("g1")
	if !ok || got != "consumerA" {
		t.Fatalf("Owner(g1) = (%q, %v), want (consumerA, true)", got, ok)
	}
	if _, ok := m.Owner("unknown"); ok {
		t.Fatalf("expected unbound group to report ok=false")
	}

	m.Bind("g2", "consumerA")
	orphaned := m.RemoveConsumer("consumerA")
	if len(orphaned) != 2 {
		t.Fatalf("expected both groups owned by consumerA to be orphaned, got %v", orphaned)
	}
	if _, ok := m.Owner("g1"); ok {
		t.Fatalf("expected g1 to be unbound after its owner departed")
	}
}
