package ptqueue

import (
	"testing"

	"github.com/wharfq/wharf/pkg/id"
)

func newTestRef(gen *id.Generator) *MessageReference {
	msg := &Message{ID: gen.Next(), Payload: []byte("x")}
	return newMessageReference(msg, nil)
}

func TestPagedInSetAppendAndSnapshot(t *testing.T) {
	p := NewPagedInSet(0, nil)
	gen := id.NewGenerator()
	r1, r2, r3 := newTestRef(gen), newTestRef(gen), newTestRef(gen)
	p.Append(r1, r2, r3)

	if got := p.Len(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	snap := p.Snapshot()
	if len(snap) != 3 || snap[0] != r1 || snap[2] != r3 {
		t.Fatalf("snapshot did not preserve insertion order: %+v", snap)
	}
}

func TestPagedInSetMarkDroppedIsIdempotent(t *testing.T) {
	p := NewPagedInSet(64, nil)
	gen := id.NewGenerator()
	r := newTestRef(gen)
	p.Append(r)

	r.markDropped()
	p.MarkDropped(r)
	p.MarkDropped(r) // repeat: counts toward garbage again, still removes nothing

	if p.Len() != 1 {
		t.Fatalf("MarkDropped must not remove entries itself, only GC does")
	}
}

func TestPagedInSetGCCompactsAndNotifies(t *testing.T) {
	notified := 0
	p := NewPagedInSet(1, func() { notified++ })
	gen := id.NewGenerator()
	live := newTestRef(gen)
	dead := newTestRef(gen)
	p.Append(live, dead)

	dead.markDropped()
	p.MarkDropped(dead) // garbageSize 1 > gcThreshold 1? no: 1 is not > 1
	if notified != 0 {
		t.Fatalf("expected no GC yet, garbageSize should not exceed threshold")
	}

	// A second tombstone pushes garbageSize over the threshold and triggers GC.
	dead2 := newTestRef(gen)
	p.Append(dead2)
	dead2.markDropped()
	p.MarkDropped(dead2)

	if notified != 1 {
		t.Fatalf("expected exactly one GC notification, got %d", notified)
	}
	snap := p.Snapshot()
	if len(snap) != 1 || snap[0] != live {
		t.Fatalf("expected only the live reference to survive GC, got %+v", snap)
	}
}

func TestPagedInSetGCDirect(t *testing.T) {
	p := NewPagedInSet(100, nil)
	gen := id.NewGenerator()
	a, b, c := newTestRef(gen), newTestRef(gen), newTestRef(gen)
	p.Append(a, b, c)
	b.markDropped()

	p.GC()

	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected GC to drop the single tombstoned entry, got %d entries", len(snap))
	}
	for _, ref := range snap {
		if ref == b {
			t.Fatalf("dropped reference survived GC")
		}
	}
}
